package subset

import (
	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
)

// Range is a contiguous span of MB on a NUMA node's single memory pool.
type Range struct {
	LowMB  uint64
	HighMB uint64 // exclusive
}

func (r Range) length() int { return int(r.HighMB - r.LowMB) }

// MemSubset is the memory subset variant: always one pool per NUMA
// node at ratio 1.0, capacity expressed as the sum of its range
// lengths in MB. It never pins anything, so it needs no PinApplier
// and its Deploy is pure bookkeeping.
type MemSubset struct {
	base

	ranges  []Range
	monitor Monitor
}

// NewMemSubset builds a memory subset. Production code always
// constructs it at ratio 1.0; the ratio is still a parameter so tests
// can exercise the shared oversub.Policy math.
func NewMemSubset(numaID idset.ID, policy oversub.Policy, ranges []Range, monitor Monitor) *MemSubset {
	s := &MemSubset{
		ranges:  append([]Range(nil), ranges...),
		monitor: monitor,
	}
	s.base = newBase(numaID, policy, s)
	return s
}

func (s *MemSubset) resourceKind() ResourceKind { return ResourceMem }

func (s *MemSubset) capacity() int {
	total := 0
	for _, r := range s.ranges {
		total += r.length()
	}
	return total
}

func (s *MemSubset) vmAllocation(vm *domain.Entity) int { return int(vm.MemMB()) }

// Ranges returns the memory ranges currently owned by this subset.
func (s *MemSubset) Ranges() []Range {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Range(nil), s.ranges...)
}

// AddRange grows the subset's pool.
func (s *MemSubset) AddRange(r Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranges = append(s.ranges, r)
}

// Deploy registers vm as a memory consumer. Memory is never pinned,
// so there is nothing further to synchronize with the hypervisor.
func (s *MemSubset) Deploy(vm *domain.Entity) bool {
	s.addConsumer(vm)
	vm.ClearTime()
	return true
}

func (s *MemSubset) UpdateMonitoring(t float64) (*float64, map[string]float64, bool, error) {
	if s.monitor == nil {
		return nil, nil, false, nil
	}
	usage, perConsumer, err := s.monitor.LoadSubset(t, s)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "subset: monitoring sample failed")
	}
	stale := s.reconcileConsumers(perConsumer)
	return usage, perConsumer, len(stale) > 0, nil
}
