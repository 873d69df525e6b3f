// Package topology discovers a host's CPU/NUMA graph from sysfs and
// derives the pairwise core-distance model the subset locality
// policies are built on.
package topology

import (
	"fmt"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
)

// Core is a single host CPU thread, the atomic unit subsets allocate.
type Core struct {
	CPUID          idset.ID
	NumaID         idset.ID
	SMTSiblings    idset.Set        // other threads of the same physical core
	SocketSiblings idset.Set        // other cores in the same package
	CacheIDs       map[int]idset.ID // cache level (0 = innermost) -> cache id
	MaxFreqHz      uint64

	idleTicks    uint64
	nonIdleTicks uint64
}

// SetUsageCounters replaces the raw idle/non-idle tick counters for this core.
func (c *Core) SetUsageCounters(idle, nonIdle uint64) {
	c.idleTicks, c.nonIdleTicks = idle, nonIdle
}

// UsageCounters returns the raw idle/non-idle tick counters for this core.
func (c *Core) UsageCounters() (idle, nonIdle uint64) {
	return c.idleTicks, c.nonIdleTicks
}

func (c *Core) String() string {
	return fmt.Sprintf("cpu%d@numa%d", c.CPUID, c.NumaID)
}

// cacheLevels returns the core's cache levels in innermost-first order.
func (c *Core) cacheLevels() []int {
	levels := make([]int, 0, len(c.CacheIDs))
	for l := range c.CacheIDs {
		levels = append(levels, l)
	}
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j-1] > levels[j]; j-- {
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
	return levels
}

// distanceTo computes the pairwise distance from c to other as defined
// in the data model: 10*k at the first shared cache level (levels
// walked innermost-out, k counted from 1), else 10*L + the NUMA
// distance between the two cores' nodes, where L is the cache depth.
func (c *Core) distanceTo(other *Core, numaDistance func(a, b idset.ID) int) int {
	if c.CPUID == other.CPUID {
		panic("cannot compute distance of a core to itself")
	}

	levels := c.cacheLevels()
	dist := 0
	step := 10
	for _, level := range levels {
		dist += step
		if id, ok := other.CacheIDs[level]; ok && id == c.CacheIDs[level] {
			return dist
		}
	}
	return dist + numaDistance(c.NumaID, other.NumaID)
}
