package types

import "time"

const (
	// CurrentReadingVersion is stamped on every reading so consumers can
	// detect older payloads.
	CurrentReadingVersion = 1

	// ReadingSourceSimulation marks readings produced by the simulation engine.
	ReadingSourceSimulation = "simulation"
)

// SiteStatus represents the operating status of a site.
type SiteStatus string

const (
	SiteStatusActive      SiteStatus = "active"
	SiteStatusInactive    SiteStatus = "inactive"
	SiteStatusMaintenance SiteStatus = "maintenance"
)

// Site represents a location that has a battery and solar panels.
type Site struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	BatteryCapacityKWH  float64    `json:"batteryCapacityKWH"`  // nameplate battery capacity
	SolarCapacityKW     float64    `json:"solarCapacityKW"`     // nameplate solar capacity
	NominalVoltage      float64    `json:"nominalVoltage"`      // battery bus nominal voltage
	DailyConsumptionKWH float64    `json:"dailyConsumptionKWH"` // estimated daily load
	Status              SiteStatus `json:"status"`
	Timezone            string     `json:"timezone,omitempty"`
	Latitude            float64    `json:"latitude"`
	Longitude           float64    `json:"longitude"`

	// LastHeartbeat is the only field written by the simulation engine.
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
}

// Location returns the site's time zone, falling back to UTC when it is
// unset or unknown.
func (s Site) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Simulated returns true if the site should receive readings on a tick.
// An empty status is treated as active.
func (s Site) Simulated() bool {
	return s.Status == "" || s.Status == SiteStatusActive
}

// EquipmentType is the kind of physical unit installed at a site.
type EquipmentType string

const (
	EquipmentTypeBattery          EquipmentType = "battery"
	EquipmentTypeInverter         EquipmentType = "inverter"
	EquipmentTypeSolarPanel       EquipmentType = "solar_panel"
	EquipmentTypeChargeController EquipmentType = "charge_controller"
	EquipmentTypeGridMeter        EquipmentType = "grid_meter"
)

// EquipmentStatus is the operating status of a unit.
type EquipmentStatus string

const (
	EquipmentStatusOperational EquipmentStatus = "operational"
	EquipmentStatusDegraded    EquipmentStatus = "degraded"
	EquipmentStatusOffline     EquipmentStatus = "offline"
	EquipmentStatusMaintenance EquipmentStatus = "maintenance"
	EquipmentStatusFailed      EquipmentStatus = "failed"
)

// Equipment represents a physical unit installed at a site.
type Equipment struct {
	ID     string          `json:"id"`
	SiteID string          `json:"siteID"`
	Type   EquipmentType   `json:"type"`
	Name   string          `json:"name"`
	Status EquipmentStatus `json:"status"`
	// RatedCapacity is kWh for batteries and kW for everything else.
	RatedCapacity float64 `json:"ratedCapacity"`
}

// Active returns true if the unit contributes to the site's active capacity.
func (e Equipment) Active() bool {
	return e.Status == EquipmentStatusOperational || e.Status == EquipmentStatusDegraded
}

// Down returns true if the unit is offline or failed and must not be given
// any power.
func (e Equipment) Down() bool {
	return e.Status == EquipmentStatusOffline || e.Status == EquipmentStatusFailed
}

// WeatherSample is the weather at a site for a specific instant.
type WeatherSample struct {
	Timestamp     time.Time `json:"timestamp"`
	TemperatureC  float64   `json:"temperatureC"`
	Humidity      float64   `json:"humidity"`
	CloudCover    float64   `json:"cloudCover"`    // 0-100
	IrradianceWM2 float64   `json:"irradianceWM2"` // >= 0
	Sunrise       time.Time `json:"sunrise"`
	Sunset        time.Time `json:"sunset"`
	Condition     string    `json:"condition"`
	// Fallback is true when the sample was synthesized because the weather
	// provider failed.
	Fallback bool `json:"fallback,omitempty"`
}

// TickSummary is returned by every scheduler invocation.
type TickSummary struct {
	SitesProcessed  int   `json:"sitesProcessed"`
	Errors          int   `json:"errors"`
	TotalSites      int   `json:"totalSites"`
	Skipped         int   `json:"skipped"`
	DurationMS      int64 `json:"durationMs"`
	DeadlineReached bool  `json:"deadlineReached,omitempty"`
}
