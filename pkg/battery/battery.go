package battery

import (
	"errors"
	"fmt"
	"math"

	"github.com/voltwatch/voltwatch/pkg/types"
)

var (
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidCapacity = errors.New("capacity must be positive")
)

const (
	// HealthFloor is the lowest health a battery can degrade to.
	HealthFloor = 70.0

	minTemperatureC = -10.0
	maxTemperatureC = 60.0

	// heatPerKWMinute is the temperature rise per kW of throughput per minute.
	heatPerKWMinute = 0.05
	// coolingPerMinute is the fraction of the gap to ambient closed per minute.
	coolingPerMinute = 0.1

	// healthLossPerMinute is the health lost per minute per unit of stress.
	healthLossPerMinute = 0.0001
	lowSOCStress        = 0.3
	highSOCStress       = 0.9
)

// Config is the per-site battery configuration.
type Config struct {
	NominalVoltage         float64 `json:"nominalVoltage"`
	CapacityKWH            float64 `json:"capacityKWH"`
	MinSOC                 float64 `json:"minSOC"` // 0-1
	MaxSOC                 float64 `json:"maxSOC"` // 0-1
	MaxChargeRateC         float64 `json:"maxChargeRateC"`
	MaxDischargeRateC      float64 `json:"maxDischargeRateC"`
	ChargeEfficiency       float64 `json:"chargeEfficiency"`
	DischargeEfficiency    float64 `json:"dischargeEfficiency"`
	SelfDischargePerMinute float64 `json:"selfDischargePerMinute"` // fraction of stored energy
	OptimalTemperatureC    float64 `json:"optimalTemperatureC"`
}

// DefaultConfig returns the standard configuration for a battery bank of
// the given nominal voltage and capacity.
func DefaultConfig(nominalVoltage, capacityKWH float64) Config {
	return Config{
		NominalVoltage:      nominalVoltage,
		CapacityKWH:         capacityKWH,
		MinSOC:              0.20,
		MaxSOC:              0.95,
		MaxChargeRateC:      0.5,
		MaxDischargeRateC:   1.0,
		ChargeEfficiency:    0.95,
		DischargeEfficiency: 0.95,
		// roughly 2% per month
		SelfDischargePerMinute: 0.02 / (30 * 24 * 60),
		OptimalTemperatureC:    25,
	}
}

// State is the electrical, thermal and aging state of a battery bank.
type State struct {
	SOC          float64 `json:"soc"` // 0-1
	Voltage      float64 `json:"voltage"`
	CurrentA     float64 `json:"currentA"` // negative while charging
	TemperatureC float64 `json:"temperatureC"`
	Health       float64 `json:"health"` // 0-100
	Cycles       float64 `json:"cycles"`
}

// DefaultState returns the state of a battery with no history.
func DefaultState(cfg Config) State {
	return newState(cfg, 0.5, 25, 98, 0)
}

// Restore rebuilds the battery state from the last persisted reading. A nil
// reading yields the default state.
func Restore(cfg Config, last *types.Reading) State {
	if last == nil {
		return DefaultState(cfg)
	}
	soc := last.BatterySOC / 100
	if math.IsNaN(soc) {
		soc = 0.5
	}
	health := last.BatteryHealth
	if health <= 0 || health > 100 || math.IsNaN(health) {
		health = 98
	}
	cycles := last.BatteryCycles
	if cycles < 0 || math.IsNaN(cycles) {
		cycles = 0
	}
	s := newState(cfg, soc, last.BatteryTemperatureC, health, cycles)
	s.CurrentA = last.BatteryCurrentA
	return s
}

func newState(cfg Config, soc, temperatureC, health, cycles float64) State {
	soc = clamp(soc, cfg.MinSOC, cfg.MaxSOC)
	return State{
		SOC:          soc,
		Voltage:      Voltage(cfg, soc),
		TemperatureC: clamp(temperatureC, minTemperatureC, maxTemperatureC),
		Health:       clamp(health, HealthFloor, 100),
		Cycles:       cycles,
	}
}

// Voltage returns the terminal voltage at the given state of charge. It is
// monotonically non-decreasing in soc and bounded to ±4% of nominal.
func Voltage(cfg Config, soc float64) float64 {
	minV := 0.96 * cfg.NominalVoltage
	maxV := 1.04 * cfg.NominalVoltage
	soc = clamp(soc, cfg.MinSOC, cfg.MaxSOC)
	return minV + (maxV-minV)*math.Sqrt(math.Max(0, soc))
}

// PowerFromCurrent returns the battery power implied by the state's current
// and voltage, positive while discharging.
func PowerFromCurrent(s State) float64 {
	return s.CurrentA * s.Voltage / 1000
}

// Inputs are the conditions a battery is advanced through.
type Inputs struct {
	DurationMinutes     float64
	SolarKW             float64
	LoadKW              float64
	AmbientTemperatureC float64
	GridAvailable       bool
}

// Result is the outcome of advancing a battery by one step.
type Result struct {
	State State
	// BatteryKW is the power at the battery terminals, positive for
	// discharge and negative for charge.
	BatteryKW       float64
	GridImportKW    float64
	GridExportKW    float64
	EnergyChangeKWH float64
	// CurtailedKW is surplus solar that could neither be stored nor exported.
	CurtailedKW float64
	// UnservedKW is load that could be served by neither the battery nor the
	// grid.
	UnservedKW float64
}

// Advance moves the battery forward by the given duration. The solar and
// load figures are settled against the battery first and the grid second.
func Advance(cfg Config, s State, in Inputs) (Result, error) {
	if !(in.DurationMinutes > 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDuration, in.DurationMinutes)
	}
	if !(cfg.CapacityKWH > 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCapacity, cfg.CapacityKWH)
	}

	hours := in.DurationMinutes / 60
	soc := clamp(s.SOC, cfg.MinSOC, cfg.MaxSOC)
	net := in.SolarKW - in.LoadKW

	var res Result
	var chargeKW, dischargeKW float64
	if net > 0 {
		chargeKW = min(net, cfg.CapacityKWH*cfg.MaxChargeRateC, powerToReach(cfg, soc, cfg.MaxSOC, hours))
		chargeKW = math.Max(0, chargeKW)
		remaining := net - chargeKW
		if in.GridAvailable {
			res.GridExportKW = remaining
		} else {
			res.CurtailedKW = remaining
		}
	} else {
		deficit := -net
		dischargeKW = min(deficit, cfg.CapacityKWH*cfg.MaxDischargeRateC, powerAvailableTo(cfg, soc, cfg.MinSOC, hours))
		dischargeKW = math.Max(0, dischargeKW)
		remaining := deficit - dischargeKW
		if in.GridAvailable {
			res.GridImportKW = remaining
		} else {
			res.UnservedKW = remaining
		}
	}

	// energy actually moved into (positive) or out of (negative) storage
	var storedKWH float64
	switch {
	case chargeKW > 0:
		storedKWH = chargeKW * hours * cfg.ChargeEfficiency
		res.BatteryKW = -chargeKW
	case dischargeKW > 0:
		storedKWH = -dischargeKW * hours / cfg.DischargeEfficiency
		res.BatteryKW = dischargeKW
	}
	res.EnergyChangeKWH = storedKWH
	selfDischargeKWH := soc * cfg.CapacityKWH * cfg.SelfDischargePerMinute * in.DurationMinutes

	next := State{
		SOC: clamp(soc+(storedKWH-selfDischargeKWH)/cfg.CapacityKWH, cfg.MinSOC, cfg.MaxSOC),
	}
	next.Voltage = Voltage(cfg, next.SOC)
	if next.Voltage > 0 {
		next.CurrentA = res.BatteryKW * 1000 / next.Voltage
	}
	next.TemperatureC = nextTemperature(s.TemperatureC, in.AmbientTemperatureC, math.Abs(res.BatteryKW), in.DurationMinutes)
	next.Health = nextHealth(cfg, s.Health, next.SOC, next.TemperatureC, math.Abs(res.BatteryKW), in.DurationMinutes)
	next.Cycles = math.Max(0, s.Cycles) + math.Abs(storedKWH)/cfg.CapacityKWH

	res.State = next
	return res, nil
}

// powerToReach is the charge power that fills the battery to target over the
// given hours, accounting for charge losses.
func powerToReach(cfg Config, soc, target, hours float64) float64 {
	headroomKWH := (target - soc) * cfg.CapacityKWH
	if headroomKWH <= 0 || cfg.ChargeEfficiency <= 0 {
		return 0
	}
	return headroomKWH / cfg.ChargeEfficiency / hours
}

// powerAvailableTo is the discharge power that drains the battery to floor
// over the given hours, accounting for discharge losses.
func powerAvailableTo(cfg Config, soc, floor, hours float64) float64 {
	availableKWH := (soc - floor) * cfg.CapacityKWH
	if availableKWH <= 0 {
		return 0
	}
	return availableKWH * cfg.DischargeEfficiency / hours
}

func nextTemperature(current, ambient, absKW, minutes float64) float64 {
	heating := heatPerKWMinute * absKW * minutes
	// never cool past ambient within a single step
	cooling := math.Min(1, coolingPerMinute*minutes) * (current - ambient)
	return clamp(current+heating-cooling, minTemperatureC, maxTemperatureC)
}

func nextHealth(cfg Config, health, soc, temperatureC, absKW, minutes float64) float64 {
	intensity := absKW / cfg.CapacityKWH
	tempStress := math.Abs(temperatureC-cfg.OptimalTemperatureC) / 25
	var socStress float64
	if soc < lowSOCStress {
		socStress = (lowSOCStress - soc) * 5
	} else if soc > highSOCStress {
		socStress = (soc - highSOCStress) * 5
	}
	loss := healthLossPerMinute * (intensity + tempStress + socStress) * minutes
	next := health - math.Max(0, loss)
	if next < HealthFloor {
		// a state restored below the floor must not be raised back up
		next = math.Min(health, HealthFloor)
	}
	return next
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
