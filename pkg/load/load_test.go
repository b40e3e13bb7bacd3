package load

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voltwatch/voltwatch/pkg/types"
)

func mild() types.WeatherSample {
	return types.WeatherSample{TemperatureC: 20}
}

func TestShape(t *testing.T) {
	var sum float64
	for _, v := range hourlyShape {
		assert.Greater(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 24.0, sum, 1e-9)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Greater(t, ShapeAt(day.Add(19*time.Hour)), ShapeAt(day.Add(3*time.Hour)))
	assert.InDelta(t, (hourlyShape[7]+hourlyShape[8])/2, ShapeAt(day.Add(7*time.Hour+30*time.Minute)), 1e-9)
	// wraps from 23:00 back to midnight
	assert.InDelta(t, (hourlyShape[23]+hourlyShape[0])/2, ShapeAt(day.Add(23*time.Hour+30*time.Minute)), 1e-9)
}

func TestTemperatureFactor(t *testing.T) {
	assert.Equal(t, 1.0, TemperatureFactor(20))
	assert.InDelta(t, 1.1, TemperatureFactor(10), 1e-9)
	assert.InDelta(t, 1.18, TemperatureFactor(30), 1e-9)
}

func TestDaily(t *testing.T) {
	d := &Daily{}

	t.Run("Profile Defaults", func(t *testing.T) {
		p := d.ProfileFor(types.Site{ID: "s"})
		assert.Equal(t, DefaultDailyKWH, p.DailyKWH)
		assert.Equal(t, time.UTC, p.Location)

		p = d.ProfileFor(types.Site{ID: "s", DailyConsumptionKWH: 30, Timezone: "America/Chicago"})
		assert.Equal(t, 30.0, p.DailyKWH)
		assert.Equal(t, "America/Chicago", p.Location.String())
	})

	t.Run("Integrates To Daily Consumption", func(t *testing.T) {
		p := Profile{DailyKWH: 24, Location: time.UTC}
		start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
		var kwh float64
		for m := 0; m < 24*60; m += 5 {
			kwh += d.PowerAt(start.Add(time.Duration(m)*time.Minute), mild(), p) * 5 / 60
		}
		assert.InDelta(t, 24.0, kwh, 0.01)
	})

	t.Run("Uses Local Time", func(t *testing.T) {
		chicago, err := time.LoadLocation("America/Chicago")
		if err != nil {
			t.Skip("tzdata unavailable")
		}
		at := time.Date(2025, 3, 10, 19, 0, 0, 0, chicago)
		local := d.PowerAt(at, mild(), Profile{DailyKWH: 24, Location: chicago})
		utc := d.PowerAt(at, mild(), Profile{DailyKWH: 24, Location: time.UTC})
		assert.InDelta(t, hourlyShape[19], local, 1e-9)
		assert.NotEqual(t, local, utc)
	})

	t.Run("Never Negative", func(t *testing.T) {
		noisy := &Daily{Jitter: 0.99, Rand: func() float64 { return 0 }}
		p := Profile{DailyKWH: 10, Location: time.UTC}
		assert.GreaterOrEqual(t, noisy.PowerAt(time.Now(), mild(), p), 0.0)
		assert.Equal(t, 0.0, d.PowerAt(time.Now(), mild(), Profile{}))
	})

	t.Run("Jitter Bounded", func(t *testing.T) {
		p := Profile{DailyKWH: 24, Location: time.UTC}
		at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		base := d.PowerAt(at, mild(), p)
		high := (&Daily{Jitter: 0.1, Rand: func() float64 { return 0.999999 }}).PowerAt(at, mild(), p)
		low := (&Daily{Jitter: 0.1, Rand: func() float64 { return 0 }}).PowerAt(at, mild(), p)
		assert.InDelta(t, base*1.1, high, 1e-4)
		assert.InDelta(t, base*0.9, low, 1e-9)
	})

	t.Run("Cold Raises Load", func(t *testing.T) {
		p := Profile{DailyKWH: 24, Location: time.UTC}
		at := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
		assert.Greater(t, d.PowerAt(at, types.WeatherSample{TemperatureC: -5}, p), d.PowerAt(at, mild(), p))
	})
}
