package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voltwatch/voltwatch/pkg/battery"
	"github.com/voltwatch/voltwatch/pkg/inverter"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/metrics"
	"github.com/voltwatch/voltwatch/pkg/solar"
	"github.com/voltwatch/voltwatch/pkg/types"
	"github.com/voltwatch/voltwatch/pkg/weather"
)

const (
	// defaultNominalVoltage is used for sites without a battery bus voltage.
	defaultNominalVoltage = 48.0

	gridNominalVoltage   = 230.0
	gridVoltageSpread    = 0.01
	gridNominalFrequency = 50.0
	gridFrequencySpread  = 0.05
)

// Capacity is the active capacity of a site by equipment type.
type Capacity struct {
	BatteryKWH float64
	SolarKW    float64
	InverterKW float64
}

// SiteCapacity sums the rated capacity of the operational and degraded units
// of each type. A type without any capacity falls back to the site's
// nameplate value.
func SiteCapacity(site types.Site, equipment []types.Equipment) Capacity {
	var c Capacity
	for _, e := range equipment {
		if !e.Active() || e.RatedCapacity <= 0 {
			continue
		}
		switch e.Type {
		case types.EquipmentTypeBattery:
			c.BatteryKWH += e.RatedCapacity
		case types.EquipmentTypeSolarPanel:
			c.SolarKW += e.RatedCapacity
		case types.EquipmentTypeInverter:
			c.InverterKW += e.RatedCapacity
		}
	}
	if c.BatteryKWH <= 0 {
		c.BatteryKWH = site.BatteryCapacityKWH
	}
	if c.SolarKW <= 0 {
		c.SolarKW = site.SolarCapacityKW
	}
	return c
}

func inverters(equipment []types.Equipment) []types.Equipment {
	var out []types.Equipment
	for _, e := range equipment {
		if e.Type == types.EquipmentTypeInverter {
			out = append(out, e)
		}
	}
	return out
}

// jitter maps the random source onto [-spread, spread).
func (s *Simulator) jitter(spread float64) float64 {
	return (s.rand()*2 - 1) * spread
}

// ProcessSite simulates a single site for the tick starting at at and
// persists the resulting reading. It returns ErrAlreadySimulated if the site
// already has a reading for the tick.
func (s *Simulator) ProcessSite(ctx context.Context, site types.Site, at time.Time, wp weather.Provider) (types.Reading, error) {
	ctx = log.WithSite(ctx, site.ID)
	tickMinutes := s.tickInterval.Minutes()

	equipment, err := s.storage.ListActiveEquipment(ctx, site.ID)
	if err != nil {
		return types.Reading{}, fmt.Errorf("failed to list equipment: %w", err)
	}
	capacity := SiteCapacity(site, equipment)

	last, err := s.storage.GetLatestReading(ctx, site.ID)
	if err != nil {
		return types.Reading{}, fmt.Errorf("failed to get latest reading: %w", err)
	}
	if last != nil && !last.Timestamp.Before(at) {
		return types.Reading{}, fmt.Errorf("%w: latest reading at %s", ErrAlreadySimulated, last.Timestamp.Format(time.RFC3339))
	}

	nominalVoltage := site.NominalVoltage
	if nominalVoltage <= 0 {
		nominalVoltage = defaultNominalVoltage
	}
	batCfg := battery.DefaultConfig(nominalVoltage, capacity.BatteryKWH)
	state := battery.Restore(batCfg, last)

	w := weather.SampleOrFallback(ctx, wp, site, at)
	if w.Fallback {
		metrics.IncWeatherFallback()
	}

	loadKW := s.load.PowerAt(at, w, s.load.ProfileFor(site))

	solarCfg := solar.Config{
		CapacityKW:             capacity.SolarKW,
		TemperatureCoefficient: s.temperatureCoefficient,
		InverterEfficiency:     solar.DefaultConfig(0).InverterEfficiency,
		SystemLosses:           s.systemLosses,
	}
	solarKW := s.solar.Produce(w, solarCfg, at)

	res, err := battery.Advance(batCfg, state, battery.Inputs{
		DurationMinutes:     tickMinutes,
		SolarKW:             solarKW,
		LoadKW:              loadKW,
		AmbientTemperatureC: w.TemperatureC,
		GridAvailable:       true,
	})
	if err != nil {
		return types.Reading{}, fmt.Errorf("failed to advance battery: %w", err)
	}
	next := res.State
	hours := tickMinutes / 60

	gridKW := res.GridImportKW - res.GridExportKW
	dcVoltage, dcCurrent := solar.DCOutput(solarKW, solarCfg)

	reading := types.Reading{
		ID:          uuid.NewString(),
		SiteID:      site.ID,
		Timestamp:   at,
		TickMinutes: tickMinutes,

		BatterySOC:            next.SOC * 100,
		BatteryVoltage:        next.Voltage,
		BatteryCurrentA:       next.CurrentA,
		BatteryPowerKW:        battery.PowerFromCurrent(next),
		BatteryPowerDerivedKW: loadKW + res.GridExportKW - solarKW - res.GridImportKW,
		BatteryTemperatureC:   next.TemperatureC,
		BatteryHealth:         next.Health,
		BatteryCycles:         next.Cycles,
		BatteryCapacityKWH:    batCfg.CapacityKWH,

		SolarPowerKW:    solarKW,
		SolarEnergyKWH:  solarKW * hours,
		SolarEfficiency: solar.Efficiency(solarKW, w, solarCfg),
		SolarDCVoltage:  dcVoltage,
		SolarDCCurrentA: dcCurrent,

		InverterCapacityKW: capacity.InverterKW,
		Inverters:          inverter.Readings(solarKW, inverters(equipment)),

		GridPowerKW:     gridKW,
		GridImportKW:    res.GridImportKW,
		GridExportKW:    res.GridExportKW,
		GridEnergyKWH:   gridKW * hours,
		GridVoltage:     gridNominalVoltage * (1 + s.jitter(gridVoltageSpread)),
		GridFrequencyHz: gridNominalFrequency + s.jitter(gridFrequencySpread),

		LoadPowerKW:   loadKW,
		LoadEnergyKWH: loadKW * hours,

		WeatherCondition:    w.Condition,
		AmbientTemperatureC: w.TemperatureC,
		IrradianceWM2:       w.IrradianceWM2,
		CloudCover:          w.CloudCover,
		WeatherFallback:     w.Fallback,

		Source:  types.ReadingSourceSimulation,
		Version: types.CurrentReadingVersion,
	}

	if err := s.storage.InsertReading(ctx, reading); err != nil {
		return types.Reading{}, fmt.Errorf("failed to insert reading: %w", err)
	}
	metrics.SetBatterySOC(site.ID, reading.BatterySOC)

	if err := s.storage.UpdateHeartbeat(ctx, site.ID, at); err != nil {
		return reading, fmt.Errorf("failed to update heartbeat: %w", err)
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"simulated site",
		slog.Float64("soc", reading.BatterySOC),
		slog.Float64("solarKW", solarKW),
		slog.Float64("loadKW", loadKW),
		slog.Float64("batteryKW", res.BatteryKW),
		slog.Float64("gridKW", gridKW),
		slog.Bool("weatherFallback", w.Fallback),
	)
	return reading, nil
}
