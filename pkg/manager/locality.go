package manager

import (
	"sort"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/topology"
)

// farthestAvailable orders the unassigned cores by descending average
// distance to every already-allocated core on the node, and returns
// the first (farthest) one. Used to seed a brand new subset as far
// from existing activity as possible.
func farthestAvailable(topo *topology.CpuSet, unassigned, allocated []idset.ID) (idset.ID, bool) {
	if len(unassigned) == 0 {
		return idset.Unknown, false
	}
	if len(allocated) == 0 {
		// Nothing allocated yet: any core is as far as any other;
		// pick the lowest id for determinism.
		sorted := append([]idset.ID(nil), unassigned...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		return sorted[0], true
	}
	avgs := topo.ClosestFrom(unassigned, allocated, 0)
	return pickExtreme(avgs, true)
}

// closestAvailable orders the unassigned cores by ascending average
// distance to subsetCores, then penalizes (adds the host's max
// distance) any candidate that sits closer to otherCores (some other
// subset on the node) than to subsetCores, and returns the least
// penalized (closest) candidate.
func closestAvailable(topo *topology.CpuSet, unassigned, subsetCores, otherCores []idset.ID, maxDistance int) (idset.ID, bool) {
	if len(unassigned) == 0 {
		return idset.Unknown, false
	}
	toSubset := topo.ClosestFrom(unassigned, subsetCores, 0)
	var toOther map[idset.ID]float64
	if len(otherCores) > 0 {
		toOther = topo.ClosestFrom(unassigned, otherCores, 0)
	}
	penalized := make(map[idset.ID]float64, len(toSubset))
	for id, d := range toSubset {
		if toOther != nil {
			if od, ok := toOther[id]; ok && od < d {
				d += float64(maxDistance)
			}
		}
		penalized[id] = d
	}
	return pickExtreme(penalized, false)
}

// pickExtreme returns the key with the maximum (farthest=true) or
// minimum (farthest=false) value, ties broken by ascending cpu id.
func pickExtreme(values map[idset.ID]float64, farthest bool) (idset.ID, bool) {
	if len(values) == 0 {
		return idset.Unknown, false
	}
	ids := make([]idset.ID, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	best := ids[0]
	for _, id := range ids[1:] {
		if farthest && values[id] > values[best] {
			best = id
		} else if !farthest && values[id] < values[best] {
			best = id
		}
	}
	return best, true
}
