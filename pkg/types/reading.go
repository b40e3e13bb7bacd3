package types

import "time"

// Reading is a single telemetry record for a site at the end of a tick.
// Readings are append-only and never modified after they are written.
type Reading struct {
	ID          string    `json:"id"`
	SiteID      string    `json:"siteID"`
	Timestamp   time.Time `json:"timestamp"`
	TickMinutes float64   `json:"tickMinutes"`

	// Battery
	BatterySOC          float64 `json:"batterySOC"` // 0-100
	BatteryVoltage      float64 `json:"batteryVoltage"`
	BatteryCurrentA     float64 `json:"batteryCurrentA"` // negative while charging
	BatteryPowerKW      float64 `json:"batteryPowerKW"`  // positive for discharge, negative for charge
	BatteryTemperatureC float64 `json:"batteryTemperatureC"`
	BatteryHealth       float64 `json:"batteryHealth"` // 0-100
	BatteryCycles       float64 `json:"batteryCycles"`
	BatteryCapacityKWH  float64 `json:"batteryCapacityKWH"`
	// BatteryPowerDerivedKW is the battery power implied by the other four
	// flows (load + export - solar - import). It is kept next to
	// BatteryPowerKW and not reconciled with it.
	BatteryPowerDerivedKW float64 `json:"batteryPowerDerivedKW"`

	// Solar
	SolarPowerKW    float64 `json:"solarPowerKW"`
	SolarEnergyKWH  float64 `json:"solarEnergyKWH"`
	SolarEfficiency float64 `json:"solarEfficiency"` // 0-100
	SolarDCVoltage  float64 `json:"solarDCVoltage"`
	SolarDCCurrentA float64 `json:"solarDCCurrentA"`

	// Inverters
	InverterCapacityKW float64           `json:"inverterCapacityKW"`
	Inverters          []InverterReading `json:"inverters"`

	// Grid
	GridPowerKW     float64 `json:"gridPowerKW"` // positive for import, negative for export
	GridImportKW    float64 `json:"gridImportKW"`
	GridExportKW    float64 `json:"gridExportKW"`
	GridEnergyKWH   float64 `json:"gridEnergyKWH"`
	GridVoltage     float64 `json:"gridVoltage"`
	GridFrequencyHz float64 `json:"gridFrequencyHz"`

	// Load
	LoadPowerKW   float64 `json:"loadPowerKW"`
	LoadEnergyKWH float64 `json:"loadEnergyKWH"`

	// Metadata
	WeatherCondition    string  `json:"weatherCondition"`
	AmbientTemperatureC float64 `json:"ambientTemperatureC"`
	IrradianceWM2       float64 `json:"irradianceWM2"`
	CloudCover          float64 `json:"cloudCover"`
	WeatherFallback     bool    `json:"weatherFallback,omitempty"`
	Source              string  `json:"source"`
	Version             int     `json:"version"`
}

// InverterReading is the share of solar output allocated to one inverter.
type InverterReading struct {
	EquipmentID string  `json:"equipmentID"`
	Name        string  `json:"name,omitempty"`
	PowerKW     float64 `json:"powerKW"`
	Share       float64 `json:"share"` // 0-1
}
