package subset

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
)

// CPUSubset is the static vCPU subset variant: every physical core
// currently in the subset is always part of the pin template handed
// to new consumers.
type CPUSubset struct {
	base

	resources []int // sorted core ids, owned by this subset
	hostWidth int    // total host core count, for pin bitmap sizing

	connector PinApplier
	monitor   Monitor
}

// NewCPUSubset builds a static CPU subset over the given physical
// cores, on one NUMA node, under one oversubscription policy.
func NewCPUSubset(numaID idset.ID, policy oversub.Policy, cores []int, hostWidth int, connector PinApplier, monitor Monitor) *CPUSubset {
	s := &CPUSubset{
		resources: sortedCopy(cores),
		hostWidth: hostWidth,
		connector: connector,
		monitor:   monitor,
	}
	s.base = newBase(numaID, policy, s)
	return s
}

func sortedCopy(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	return out
}

func (s *CPUSubset) resourceKind() ResourceKind { return ResourceCPU }
func (s *CPUSubset) capacity() int              { return len(s.resources) }
func (s *CPUSubset) vmAllocation(vm *domain.Entity) int { return vm.VCPUs() }

// Resources returns the physical core ids currently owned by this subset.
func (s *CPUSubset) Resources() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.resources)
}

// AddResource grows the subset by one physical core.
func (s *CPUSubset) AddResource(core int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.resources {
		if c == core {
			return
		}
	}
	s.resources = append(s.resources, core)
	sort.Ints(s.resources)
}

// RemoveResource shrinks the subset by one physical core, if present.
func (s *CPUSubset) RemoveResource(core int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.resources {
		if c == core {
			s.resources = append(s.resources[:i], s.resources[i+1:]...)
			return
		}
	}
}

// pinningRes is the set of cores actually handed out as a pin
// template. CPUElasticSubset overrides this to its active window.
func (s *CPUSubset) pinningRes() []int {
	return s.Resources()
}

// Deploy registers vm as a consumer and synchronizes its vCPU pinning
// against the subset's current pinning resources.
func (s *CPUSubset) Deploy(vm *domain.Entity) bool {
	s.addConsumer(vm)
	if err := s.syncPinning(vm); err != nil {
		s.RemoveConsumer(vm)
		return false
	}
	vm.ClearTime()
	return true
}

func (s *CPUSubset) syncPinning(vm *domain.Entity) error {
	if s.connector == nil {
		return errors.New("subset: no pin connector configured")
	}
	template := s.connector.BuildPinTemplate(s.pinningRes(), s.hostWidth)
	vm.SetPinMask(template)
	return s.connector.UpdatePin(vm)
}

// UpdateMonitoring refreshes the subset's own usage sample and the
// per-consumer usage map at time t, dropping any consumer the sample
// no longer reports (it disappeared from the hypervisor since the
// last tick) and flagging cleanNeeded so the manager shrinks this
// subset's now-idle cores afterward.
func (s *CPUSubset) UpdateMonitoring(t float64) (*float64, map[string]float64, bool, error) {
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
