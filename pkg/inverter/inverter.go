package inverter

import (
	"cmp"
	"slices"

	"github.com/voltwatch/voltwatch/pkg/types"
)

// defaultCapacityKW is used for inverters without a rated capacity so they
// still receive an even share.
const defaultCapacityKW = 1.0

// eligible returns the inverters that can carry power, ordered by capacity
// descending and then by ID.
func eligible(inverters []types.Equipment) []types.Equipment {
	out := make([]types.Equipment, 0, len(inverters))
	for _, inv := range inverters {
		if inv.Down() {
			continue
		}
		out = append(out, inv)
	}
	slices.SortFunc(out, func(a, b types.Equipment) int {
		if c := cmp.Compare(capacity(b), capacity(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func capacity(inv types.Equipment) float64 {
	if inv.RatedCapacity > 0 {
		return inv.RatedCapacity
	}
	return defaultCapacityKW
}

// Distribute splits totalKW across the inverters in proportion to their rated
// capacity. Offline and failed units are skipped. The result is empty when no
// inverter can carry power.
func Distribute(totalKW float64, inverters []types.Equipment) map[string]float64 {
	readings := Readings(totalKW, inverters)
	out := make(map[string]float64, len(readings))
	for _, r := range readings {
		out[r.EquipmentID] += r.PowerKW
	}
	return out
}

// Readings is like Distribute but returns an ordered breakdown suitable for
// storing on a reading. Inverters are ordered by rated capacity descending and
// then by ID.
func Readings(totalKW float64, inverters []types.Equipment) []types.InverterReading {
	active := eligible(inverters)
	if len(active) == 0 {
		return []types.InverterReading{}
	}

	var sum float64
	for _, inv := range active {
		sum += capacity(inv)
	}

	out := make([]types.InverterReading, 0, len(active))
	for _, inv := range active {
		share := capacity(inv) / sum
		out = append(out, types.InverterReading{
			EquipmentID: inv.ID,
			Name:        inv.Name,
			PowerKW:     totalKW * share,
			Share:       share,
		})
	}
	return out
}
