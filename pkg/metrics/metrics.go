package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "voltwatch_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	tickTotal        *prometheus.CounterVec
	tickLatency      prometheus.Histogram
	tickDeadline     prometheus.Counter
	lastTickUnixTime prometheus.Gauge

	siteTotal   *prometheus.CounterVec
	siteLatency *prometheus.HistogramVec

	weatherFallbackTotal prometheus.Counter

	batterySOC *prometheus.GaugeVec
)

// Init registers the simulation metrics with the default registry. It is
// safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		tickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tick_total",
				Help: "Total scheduler ticks by result",
			},
			[]string{"result"},
		)
		tickLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		tickDeadline = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "tick_deadline_reached_total",
				Help: "Total ticks that stopped early because their deadline was reached",
			},
		)
		lastTickUnixTime = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_tick_timestamp_seconds",
				Help: "Unix time of the last completed tick",
			},
		)

		siteTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "site_total",
				Help: "Total site simulations by result",
			},
			[]string{"result"},
		)
		siteLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "site_latency_seconds",
				Help:    "Site simulation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		weatherFallbackTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "weather_fallback_total",
				Help: "Total readings simulated with fallback weather",
			},
		)

		batterySOC = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "battery_soc_percent",
				Help: "Battery state of charge from the latest reading",
			},
			[]string{"site"},
		)

		prometheus.MustRegister(
			tickTotal,
			tickLatency,
			tickDeadline,
			lastTickUnixTime,
			siteTotal,
			siteLatency,
			weatherFallbackTotal,
			batterySOC,
		)
	})
}

// ObserveTick records a completed tick.
func ObserveTick(errors int, deadlineReached bool, duration time.Duration) {
	result := ResultSuccess
	if errors > 0 {
		result = ResultError
	}
	if tickTotal != nil {
		tickTotal.WithLabelValues(result).Inc()
	}
	if tickLatency != nil {
		tickLatency.Observe(duration.Seconds())
	}
	if deadlineReached && tickDeadline != nil {
		tickDeadline.Inc()
	}
	if lastTickUnixTime != nil {
		lastTickUnixTime.SetToCurrentTime()
	}
}

// ObserveSite records a single site simulation.
func ObserveSite(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if siteTotal != nil {
		siteTotal.WithLabelValues(result).Inc()
	}
	if siteLatency != nil && result != ResultSkipped {
		siteLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncWeatherFallback increments the fallback weather counter.
func IncWeatherFallback() {
	if weatherFallbackTotal != nil {
		weatherFallbackTotal.Inc()
	}
}

// SetBatterySOC records the latest state of charge for a site.
func SetBatterySOC(siteID string, percent float64) {
	if siteID == "" {
		siteID = "unknown"
	}
	if batterySOC != nil {
		batterySOC.WithLabelValues(siteID).Set(percent)
	}
}
