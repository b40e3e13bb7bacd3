package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBeforeInit(t *testing.T) {
	// recording without Init must not panic
	if tickTotal != nil {
		t.Skip("already initialized")
	}
	ObserveTick(1, true, time.Second)
	ObserveSite(ResultError, time.Second)
	IncWeatherFallback()
	SetBatterySOC("site1", 50)
}

func TestMetrics(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(tickTotal.WithLabelValues(ResultError))
	ObserveTick(2, true, 3*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(tickTotal.WithLabelValues(ResultError)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(tickDeadline), 1.0)
	assert.Greater(t, testutil.ToFloat64(lastTickUnixTime), 0.0)

	before = testutil.ToFloat64(siteTotal.WithLabelValues(ResultSuccess))
	ObserveSite("", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(siteTotal.WithLabelValues(ResultSuccess)))

	before = testutil.ToFloat64(siteTotal.WithLabelValues(ResultSkipped))
	ObserveSite(ResultSkipped, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(siteTotal.WithLabelValues(ResultSkipped)))

	before = testutil.ToFloat64(weatherFallbackTotal)
	IncWeatherFallback()
	assert.Equal(t, before+1, testutil.ToFloat64(weatherFallbackTotal))

	SetBatterySOC("site1", 62.5)
	assert.Equal(t, 62.5, testutil.ToFloat64(batterySOC.WithLabelValues("site1")))
	SetBatterySOC("", 10)
	assert.Equal(t, 10.0, testutil.ToFloat64(batterySOC.WithLabelValues("unknown")))
}
