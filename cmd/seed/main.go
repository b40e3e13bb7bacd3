package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/voltwatch/voltwatch/pkg/load"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/simulator"
	"github.com/voltwatch/voltwatch/pkg/storage"
	"github.com/voltwatch/voltwatch/pkg/types"
	"github.com/voltwatch/voltwatch/pkg/weather"
)

var demoSites = []types.Site{
	{
		ID:                  "demo-chicago",
		Name:                "Chicago Rooftop",
		BatteryCapacityKWH:  27.2,
		SolarCapacityKW:     8,
		NominalVoltage:      48,
		DailyConsumptionKWH: 28,
		Status:              types.SiteStatusActive,
		Timezone:            "America/Chicago",
		Latitude:            41.8781,
		Longitude:           -87.6298,
	},
	{
		ID:                  "demo-phoenix",
		Name:                "Phoenix Warehouse",
		BatteryCapacityKWH:  200,
		SolarCapacityKW:     120,
		NominalVoltage:      800,
		DailyConsumptionKWH: 450,
		Status:              types.SiteStatusActive,
		Timezone:            "America/Phoenix",
		Latitude:            33.4484,
		Longitude:           -112.0740,
	},
	{
		ID:                  "demo-berlin",
		Name:                "Berlin Clinic",
		BatteryCapacityKWH:  50,
		SolarCapacityKW:     30,
		NominalVoltage:      400,
		DailyConsumptionKWH: 90,
		Status:              types.SiteStatusMaintenance,
		Timezone:            "Europe/Berlin",
		Latitude:            52.5200,
		Longitude:           13.4050,
	},
}

// demoEquipment returns a battery bank, the panel strings and the inverters
// of a site. One inverter of every site is failed.
func demoEquipment(site types.Site) []types.Equipment {
	var out []types.Equipment
	add := func(t types.EquipmentType, n int, status types.EquipmentStatus, capacity float64) {
		out = append(out, types.Equipment{
			ID:            fmt.Sprintf("%s-%s-%d", site.ID, t, n),
			SiteID:        site.ID,
			Type:          t,
			Name:          fmt.Sprintf("%s %d", t, n),
			Status:        status,
			RatedCapacity: capacity,
		})
	}

	add(types.EquipmentTypeBattery, 1, types.EquipmentStatusOperational, site.BatteryCapacityKWH/2)
	add(types.EquipmentTypeBattery, 2, types.EquipmentStatusDegraded, site.BatteryCapacityKWH/2)
	for i := 1; i <= 4; i++ {
		add(types.EquipmentTypeSolarPanel, i, types.EquipmentStatusOperational, site.SolarCapacityKW/4)
	}
	add(types.EquipmentTypeInverter, 1, types.EquipmentStatusOperational, site.SolarCapacityKW*0.6)
	add(types.EquipmentTypeInverter, 2, types.EquipmentStatusOperational, site.SolarCapacityKW*0.4)
	add(types.EquipmentTypeInverter, 3, types.EquipmentStatusFailed, site.SolarCapacityKW*0.4)
	add(types.EquipmentTypeGridMeter, 1, types.EquipmentStatusOperational, 0)
	return out
}

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	w := weather.Configured()
	l := load.Configured()
	sim := simulator.Configured(s, w, l)
	backfill := lflag.Duration("backfill", 0, "Simulate every tick over this long a window ending now (0 disables)")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding demo sites")

	for _, site := range demoSites {
		if err := s.UpsertSite(ctx, site); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed site", slog.String("siteID", site.ID), slog.Any("error", err))
			os.Exit(1)
		}
		for _, e := range demoEquipment(site) {
			if err := s.UpsertEquipment(ctx, e); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed equipment", slog.String("equipmentID", e.ID), slog.Any("error", err))
				os.Exit(1)
			}
		}
		fmt.Printf("Seeded site %s (%s)\n", site.ID, site.Name)
	}

	if *backfill > 0 {
		now := time.Now()
		for t := now.Add(-*backfill); !t.After(now); t = t.Add(sim.TickInterval()) {
			summary, err := sim.Tick(ctx, t)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to backfill tick", slog.Time("at", t), slog.Any("error", err))
				os.Exit(1)
			}
			fmt.Printf("Backfilled %s: %d processed, %d skipped, %d errors\n",
				t.Format(time.RFC3339), summary.SitesProcessed, summary.Skipped, summary.Errors)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded demo data successfully")
}
