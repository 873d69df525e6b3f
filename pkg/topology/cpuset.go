package topology

import (
	"fmt"
	"sort"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
)

// Distance pairs a core id with its distance to some reference set.
type Distance struct {
	CPUID idset.ID
	Value int
}

// CpuSet owns the admitted cores of a host, the raw NUMA distance
// matrix, and the derived pairwise core-distance matrix. Built once
// at startup and treated as immutable afterwards.
type CpuSet struct {
	cores         map[idset.ID]*Core
	order         []idset.ID
	hostCount     int
	numaDistances map[idset.ID]map[idset.ID]int
	distances     map[idset.ID][]Distance
}

// NewCpuSet builds a CpuSet from pre-discovered cores and the raw NUMA
// distance matrix. hostCount is the unfiltered number of cores the
// host actually has, independent of any include/exclude filtering
// already applied to cores.
func NewCpuSet(cores []*Core, numaDistances map[idset.ID]map[idset.ID]int, hostCount int) *CpuSet {
	cs := &CpuSet{
		cores:         make(map[idset.ID]*Core, len(cores)),
		numaDistances: numaDistances,
		hostCount:     hostCount,
	}
	for _, c := range cores {
		cs.cores[c.CPUID] = c
		cs.order = append(cs.order, c.CPUID)
	}
	sort.Slice(cs.order, func(i, j int) bool { return cs.order[i] < cs.order[j] })
	return cs
}

// Cores returns the admitted cores ordered by ascending cpu id.
func (cs *CpuSet) Cores() []*Core {
	out := make([]*Core, 0, len(cs.order))
	for _, id := range cs.order {
		out = append(out, cs.cores[id])
	}
	return out
}

// Core returns the admitted core with the given id, or nil.
func (cs *CpuSet) Core(id idset.ID) *Core {
	return cs.cores[id]
}

// HostCoreCount returns the number of cores on the host, ignoring any
// include/exclude filtering.
func (cs *CpuSet) HostCoreCount() int {
	return cs.hostCount
}

// AllowedCount returns the number of admitted cores usable for VMs.
func (cs *CpuSet) AllowedCount() int {
	return len(cs.cores)
}

// NumaDistance returns the raw platform-supplied distance between two NUMA nodes.
func (cs *CpuSet) NumaDistance(a, b idset.ID) int {
	if row, ok := cs.numaDistances[a]; ok {
		return row[b]
	}
	return 0
}

// BuildDistances computes, for every admitted core, the distance to
// every other admitted core, ordered nearest-first (ties broken by
// ascending cpu id).
func (cs *CpuSet) BuildDistances() *CpuSet {
	cs.distances = make(map[idset.ID][]Distance, len(cs.cores))
	for _, from := range cs.cores {
		row := make([]Distance, 0, len(cs.cores)-1)
		for _, to := range cs.cores {
			if to.CPUID == from.CPUID {
				continue
			}
			row = append(row, Distance{CPUID: to.CPUID, Value: from.distanceTo(to, cs.NumaDistance)})
		}
		sort.Slice(row, func(i, j int) bool {
			if row[i].Value != row[j].Value {
				return row[i].Value < row[j].Value
			}
			return row[i].CPUID < row[j].CPUID
		})
		cs.distances[from.CPUID] = row
	}
	return cs
}

// DistanceBetween returns the derived distance between two admitted cores.
// Panics if BuildDistances has not been called yet.
func (cs *CpuSet) DistanceBetween(a, b idset.ID) int {
	row, ok := cs.distances[a]
	if !ok {
		panic("distances were not built")
	}
	for _, d := range row {
		if d.CPUID == b {
			return d.Value
		}
	}
	panic(fmt.Sprintf("cpu %d is not a member of this cpuset", b))
}

// DistancesFrom returns the nearest-first ordered distances from a core
// to every other admitted core.
func (cs *CpuSet) DistancesFrom(id idset.ID) []Distance {
	return cs.distances[id]
}

// ClosestFrom returns, for each id in fromList that is not itself a
// member of toList, the average distance to the members of toList;
// ids present in toList are left out of the result. A candidate whose
// average distance exceeds ceiling is dropped when ceiling > 0.
func (cs *CpuSet) ClosestFrom(fromList, toList []idset.ID, ceiling int) map[idset.ID]float64 {
	to := idset.New(toList...)
	out := make(map[idset.ID]float64, len(fromList))
	for _, from := range fromList {
		if to.Has(from) {
			continue
		}
		sum, n := 0, 0
		for _, t := range toList {
			if t == from {
				continue
			}
			sum += cs.DistanceBetween(from, t)
			n++
		}
		if n == 0 {
			continue
		}
		avg := float64(sum) / float64(n)
		if ceiling > 0 && avg > float64(ceiling) {
			continue
		}
		out[from] = avg
	}
	return out
}
