package solar

import (
	"math"
	"time"

	"github.com/voltwatch/voltwatch/pkg/types"
)

const (
	// referenceTemperatureC is the standard test condition cell temperature.
	referenceTemperatureC = 25.0
	// standardIrradianceWM2 is the standard test condition irradiance.
	standardIrradianceWM2 = 1000.0
	// maxCloudAttenuation is the share of output lost at 100% cloud cover
	// on top of what the irradiance figure already accounts for.
	maxCloudAttenuation = 0.3
	// noiseSpread is the +/- jitter applied to the final output.
	noiseSpread = 0.05
	// stringNominalVoltage is the DC voltage of a typical panel string.
	stringNominalVoltage = 400.0
)

// Config describes a site's solar array.
type Config struct {
	CapacityKW float64 `json:"capacityKW"`
	// TemperatureCoefficient is the fractional efficiency change per degree
	// above 25°C. Typical panels are around -0.004.
	TemperatureCoefficient float64 `json:"temperatureCoefficient"`
	InverterEfficiency     float64 `json:"inverterEfficiency"`
	SystemLosses           float64 `json:"systemLosses"`
}

// DefaultConfig returns a Config for an array of the given capacity.
func DefaultConfig(capacityKW float64) Config {
	return Config{
		CapacityKW:             capacityKW,
		TemperatureCoefficient: -0.004,
		InverterEfficiency:     0.96,
		SystemLosses:           0.14,
	}
}

// Noise returns a value in [0, 1). It is used for the output jitter so tests
// can pin it.
type Noise func() float64

// NoNoise always returns the midpoint, which makes the noise factor exactly 1.
func NoNoise() float64 {
	return 0.5
}

// Model produces solar output from weather samples.
type Model struct {
	Noise Noise
}

// Produce returns the AC output of the array in kW at the given instant.
func (m Model) Produce(w types.WeatherSample, cfg Config, at time.Time) float64 {
	noise := m.Noise
	if noise == nil {
		noise = NoNoise
	}
	return Produce(w, cfg, at, noise)
}

// Produce returns the AC output of the array in kW. The result is exactly 0
// outside daylight, when there is no irradiance, or when the array has no
// capacity.
func Produce(w types.WeatherSample, cfg Config, at time.Time, noise Noise) float64 {
	if cfg.CapacityKW <= 0 || w.IrradianceWM2 <= 0 {
		return 0
	}
	if w.Sunrise.IsZero() || w.Sunset.IsZero() || at.Before(w.Sunrise) || at.After(w.Sunset) {
		return 0
	}

	power := cfg.CapacityKW *
		IrradianceFactor(w.IrradianceWM2) *
		SunAngleFactor(at, w.Sunrise, w.Sunset) *
		TemperatureFactor(w.TemperatureC, cfg.TemperatureCoefficient) *
		CloudFactor(w.CloudCover) *
		cfg.InverterEfficiency *
		(1 - cfg.SystemLosses)
	if noise != nil {
		power *= NoiseFactor(noise())
	}
	return math.Max(0, power)
}

// IrradianceFactor scales output against standard test irradiance.
func IrradianceFactor(irradianceWM2 float64) float64 {
	return irradianceWM2 / standardIrradianceWM2
}

// SunAngleFactor models the sun's elevation as a half sine wave between
// sunrise and sunset that peaks at solar noon.
func SunAngleFactor(at, sunrise, sunset time.Time) float64 {
	day := sunset.Sub(sunrise)
	if day <= 0 {
		return 0
	}
	dayFraction := float64(at.Sub(sunrise)) / float64(day)
	return clamp(math.Sin(math.Pi*dayFraction), 0, 1)
}

// TemperatureFactor derates the panels above 25°C and boosts them slightly
// below it.
func TemperatureFactor(temperatureC, coefficient float64) float64 {
	return clamp(1+coefficient*(temperatureC-referenceTemperatureC), 0.5, 1.2)
}

// CloudFactor is the extra attenuation from cloud cover (0-100).
func CloudFactor(cloudCover float64) float64 {
	return 1 - (clamp(cloudCover, 0, 100)/100)*maxCloudAttenuation
}

// NoiseFactor maps a value in [0, 1) onto [0.95, 1.05).
func NoiseFactor(n float64) float64 {
	return 1 + (n*2-1)*noiseSpread
}

// Efficiency returns the actual output as a percentage of what the array
// would produce at the current irradiance with no other losses.
func Efficiency(actualKW float64, w types.WeatherSample, cfg Config) float64 {
	if w.IrradianceWM2 <= 0 || cfg.CapacityKW <= 0 {
		return 0
	}
	ideal := cfg.CapacityKW * IrradianceFactor(w.IrradianceWM2)
	return clamp(actualKW/ideal*100, 0, 100)
}

// DCOutput returns a plausible string voltage and current for the given AC
// output. The values are for display only.
func DCOutput(actualKW float64, cfg Config) (voltage, currentA float64) {
	if actualKW <= 0 || cfg.CapacityKW <= 0 {
		return 0, 0
	}
	loadFraction := clamp(actualKW/cfg.CapacityKW, 0, 1)
	voltage = stringNominalVoltage * (0.9 + 0.1*loadFraction)
	dcKW := actualKW
	if cfg.InverterEfficiency > 0 {
		dcKW = actualKW / cfg.InverterEfficiency
	}
	currentA = dcKW * 1000 / voltage
	return voltage, currentA
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
