package load

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/types"
)

// DefaultDailyKWH is used for sites without a daily consumption estimate.
const DefaultDailyKWH = 20.0

const (
	heatingBelowC = 15.0
	coolingAboveC = 24.0
	// heatingPerDegree and coolingPerDegree are the fractional increase in
	// load per degree past each threshold.
	heatingPerDegree = 0.02
	coolingPerDegree = 0.03
)

// hourlyShape is the relative load for each local hour of the day. It has a
// small morning peak and a larger evening peak and averages to 1.
var hourlyShape = normalize([24]float64{
	0.45, 0.40, 0.38, 0.38, 0.40, 0.55, // 00-05
	0.90, 1.25, 1.20, 0.95, 0.85, 0.85, // 06-11
	0.90, 0.85, 0.85, 0.95, 1.15, 1.55, // 12-17
	1.85, 1.95, 1.80, 1.45, 1.00, 0.65, // 18-23
})

func normalize(shape [24]float64) [24]float64 {
	var sum float64
	for _, v := range shape {
		sum += v
	}
	for i := range shape {
		shape[i] = shape[i] * 24 / sum
	}
	return shape
}

// Profile describes how a site consumes power over a day.
type Profile struct {
	DailyKWH float64
	Location *time.Location
}

// Provider produces the load of a site at an instant.
type Provider interface {
	// ProfileFor returns the load profile of the site.
	ProfileFor(site types.Site) Profile
	// PowerAt returns the load in kW at the instant. It is never negative.
	PowerAt(at time.Time, w types.WeatherSample, p Profile) float64
}

// Daily is a Provider that spreads a site's daily consumption over a typical
// residential day and adjusts it for heating and cooling.
type Daily struct {
	// Jitter is the +/- fraction of random variation applied to every sample.
	Jitter float64
	// Rand returns a value in [0, 1). It defaults to math/rand.
	Rand func() float64
}

var _ Provider = (*Daily)(nil)

// Configured sets up flags for the Daily provider and returns it.
func Configured() *Daily {
	d := &Daily{Rand: rand.Float64}
	jitter := lflag.String("load-jitter", "0.05", "Random +/- fraction applied to simulated load (0 disables)")

	lflag.Do(func() {
		v, err := strconv.ParseFloat(*jitter, 64)
		if err != nil || v < 0 || v >= 1 {
			panic(fmt.Sprintf("invalid load-jitter: %q", *jitter))
		}
		d.Jitter = v
	})

	return d
}

// ProfileFor implements Provider.
func (d *Daily) ProfileFor(site types.Site) Profile {
	daily := site.DailyConsumptionKWH
	if daily <= 0 {
		daily = DefaultDailyKWH
	}
	return Profile{
		DailyKWH: daily,
		Location: site.Location(),
	}
}

// PowerAt implements Provider.
func (d *Daily) PowerAt(at time.Time, w types.WeatherSample, p Profile) float64 {
	if p.DailyKWH <= 0 {
		return 0
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	power := p.DailyKWH / 24 * ShapeAt(at.In(loc)) * TemperatureFactor(w.TemperatureC)
	if d.Jitter > 0 && d.Rand != nil {
		power *= 1 + (d.Rand()*2-1)*d.Jitter
	}
	return math.Max(0, power)
}

// ShapeAt returns the relative load at the local time, interpolating between
// the hourly values.
func ShapeAt(local time.Time) float64 {
	hour := local.Hour()
	frac := (float64(local.Minute()) + float64(local.Second())/60) / 60
	next := (hour + 1) % 24
	return hourlyShape[hour]*(1-frac) + hourlyShape[next]*frac
}

// TemperatureFactor scales the load up when it is cold enough to heat or
// warm enough to cool.
func TemperatureFactor(temperatureC float64) float64 {
	switch {
	case temperatureC < heatingBelowC:
		return 1 + (heatingBelowC-temperatureC)*heatingPerDegree
	case temperatureC > coolingAboveC:
		return 1 + (temperatureC-coolingAboveC)*coolingPerDegree
	default:
		return 1
	}
}
