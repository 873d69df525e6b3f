package topology

import "github.com/jacquetpi/sweetspotvm/pkg/idset"

// MemorySet is the host's memory topology: total capacity, the
// capacity usable for VMs, and the per-NUMA-node breakdown. Built
// once at startup and immutable afterwards. Oversubscription ratio
// for memory is always 1.0, so MemorySet carries no ratio of its own.
type MemorySet struct {
	TotalMB   uint64
	AllowedMB uint64
	PerNuma   map[idset.ID]uint64
}

// NumaMB returns the amount of memory (MB) attached to a NUMA node.
func (m *MemorySet) NumaMB(numa idset.ID) uint64 {
	return m.PerNuma[numa]
}
