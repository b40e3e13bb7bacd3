package solar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voltwatch/voltwatch/pkg/types"
)

func sunnyDay() types.WeatherSample {
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	return types.WeatherSample{
		Timestamp:     day.Add(12 * time.Hour),
		TemperatureC:  25,
		CloudCover:    0,
		IrradianceWM2: 1000,
		Sunrise:       day.Add(6 * time.Hour),
		Sunset:        day.Add(18 * time.Hour),
		Condition:     "clear",
	}
}

func TestProduce(t *testing.T) {
	cfg := DefaultConfig(10)
	w := sunnyDay()

	t.Run("Solar Noon", func(t *testing.T) {
		noon := w.Sunrise.Add(6 * time.Hour)
		// 10 * 1 * 1 * 1 * 1 * 0.96 * 0.86
		assert.InDelta(t, 8.256, Produce(w, cfg, noon, NoNoise), 0.0001)
	})

	t.Run("Zero Outside Daylight", func(t *testing.T) {
		assert.Equal(t, 0.0, Produce(w, cfg, w.Sunrise.Add(-time.Minute), NoNoise))
		assert.Equal(t, 0.0, Produce(w, cfg, w.Sunset.Add(time.Minute), NoNoise))
		assert.Equal(t, 0.0, Produce(w, cfg, w.Sunrise.Add(-6*time.Hour), NoNoise))
	})

	t.Run("Zero Without Irradiance", func(t *testing.T) {
		dark := w
		dark.IrradianceWM2 = 0
		for h := 0; h < 24; h++ {
			at := w.Sunrise.Add(-6 * time.Hour).Add(time.Duration(h) * time.Hour)
			assert.Equal(t, 0.0, Produce(dark, cfg, at, NoNoise))
		}
		dark.IrradianceWM2 = -5
		assert.Equal(t, 0.0, Produce(dark, cfg, w.Sunrise.Add(6*time.Hour), NoNoise))
	})

	t.Run("Zero At Sunrise Edge", func(t *testing.T) {
		assert.InDelta(t, 0.0, Produce(w, cfg, w.Sunrise, NoNoise), 1e-9)
	})

	t.Run("Missing Sunrise", func(t *testing.T) {
		noSun := w
		noSun.Sunrise = time.Time{}
		assert.Equal(t, 0.0, Produce(noSun, cfg, w.Timestamp, NoNoise))
	})

	t.Run("Zero Capacity", func(t *testing.T) {
		assert.Equal(t, 0.0, Produce(w, DefaultConfig(0), w.Timestamp, NoNoise))
	})

	t.Run("Noise Bounded", func(t *testing.T) {
		noon := w.Sunrise.Add(6 * time.Hour)
		base := Produce(w, cfg, noon, NoNoise)
		low := Produce(w, cfg, noon, func() float64 { return 0 })
		high := Produce(w, cfg, noon, func() float64 { return 0.999999 })
		assert.InDelta(t, base*0.95, low, 1e-9)
		assert.InDelta(t, base*1.05, high, 1e-4)
	})

	t.Run("Model Defaults To No Noise", func(t *testing.T) {
		noon := w.Sunrise.Add(6 * time.Hour)
		assert.Equal(t, Produce(w, cfg, noon, NoNoise), Model{}.Produce(w, cfg, noon))
	})

	t.Run("Clouds Reduce Output", func(t *testing.T) {
		cloudy := w
		cloudy.CloudCover = 100
		noon := w.Sunrise.Add(6 * time.Hour)
		assert.InDelta(t, Produce(w, cfg, noon, NoNoise)*0.7, Produce(cloudy, cfg, noon, NoNoise), 1e-9)
	})
}

func TestFactors(t *testing.T) {
	t.Run("Irradiance", func(t *testing.T) {
		assert.Equal(t, 0.5, IrradianceFactor(500))
	})

	t.Run("Sun Angle", func(t *testing.T) {
		w := sunnyDay()
		assert.InDelta(t, 1.0, SunAngleFactor(w.Sunrise.Add(6*time.Hour), w.Sunrise, w.Sunset), 1e-9)
		assert.InDelta(t, 0.7071, SunAngleFactor(w.Sunrise.Add(3*time.Hour), w.Sunrise, w.Sunset), 0.0001)
		assert.Equal(t, 0.0, SunAngleFactor(w.Sunset.Add(time.Hour), w.Sunrise, w.Sunset))
		assert.Equal(t, 0.0, SunAngleFactor(w.Sunrise, w.Sunrise, w.Sunrise))
	})

	t.Run("Temperature", func(t *testing.T) {
		assert.Equal(t, 1.0, TemperatureFactor(25, -0.004))
		assert.InDelta(t, 0.96, TemperatureFactor(35, -0.004), 1e-9)
		assert.InDelta(t, 1.04, TemperatureFactor(15, -0.004), 1e-9)
		assert.Equal(t, 0.5, TemperatureFactor(500, -0.004))
		assert.Equal(t, 1.2, TemperatureFactor(-500, -0.004))
	})

	t.Run("Cloud", func(t *testing.T) {
		assert.Equal(t, 1.0, CloudFactor(0))
		assert.InDelta(t, 0.85, CloudFactor(50), 1e-9)
		assert.InDelta(t, 0.7, CloudFactor(100), 1e-9)
		assert.InDelta(t, 0.7, CloudFactor(150), 1e-9)
	})

	t.Run("Noise", func(t *testing.T) {
		assert.Equal(t, 1.0, NoiseFactor(0.5))
		assert.InDelta(t, 0.95, NoiseFactor(0), 1e-9)
	})
}

func TestEfficiency(t *testing.T) {
	cfg := DefaultConfig(10)
	w := sunnyDay()

	assert.InDelta(t, 50.0, Efficiency(5, w, cfg), 1e-9)
	assert.Equal(t, 100.0, Efficiency(50, w, cfg))
	assert.Equal(t, 0.0, Efficiency(-1, w, cfg))

	dark := w
	dark.IrradianceWM2 = 0
	assert.Equal(t, 0.0, Efficiency(5, dark, cfg))
}

func TestDCOutput(t *testing.T) {
	cfg := DefaultConfig(10)

	v, a := DCOutput(0, cfg)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 0.0, a)

	v, a = DCOutput(10, cfg)
	assert.InDelta(t, 400.0, v, 1e-9)
	assert.InDelta(t, 10/0.96*1000/400, a, 1e-9)
}
