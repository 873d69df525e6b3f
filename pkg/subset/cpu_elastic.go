package subset

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/predictor"
)

type timedValue struct {
	t     float64
	value float64
}

// CPUElasticSubset is the elastic vCPU subset variant: the physical
// cores actually handed out as a pin template (activeRes) is a
// growing/shrinking prefix of the subset's full resource list,
// driven by a predictor.CSOAA fed with the subset's observed peak
// usage every tick.
type CPUElasticSubset struct {
	base

	resources []int
	hostWidth int

	connector PinApplier
	monitor   Monitor
	predictor *predictor.CSOAA

	monitoringWindow float64

	activeRes []int

	histUsage          []timedValue
	histConsumersUsage map[string][]timedValue
}

// NewCPUElasticSubset builds an elastic CPU subset. monitoringWindow
// bounds how long historical usage samples are retained; the
// predictor itself owns the learning-window and leeway knobs.
func NewCPUElasticSubset(numaID idset.ID, policy oversub.Policy, cores []int, hostWidth int, connector PinApplier, monitor Monitor, pred *predictor.CSOAA, monitoringWindow float64) *CPUElasticSubset {
	s := &CPUElasticSubset{
		resources:          sortedCopy(cores),
		hostWidth:          hostWidth,
		connector:          connector,
		monitor:            monitor,
		predictor:          pred,
		monitoringWindow:   monitoringWindow,
		histConsumersUsage: make(map[string][]timedValue),
	}
	s.base = newBase(numaID, policy, s)
	return s
}

func (s *CPUElasticSubset) resourceKind() ResourceKind         { return ResourceCPU }
func (s *CPUElasticSubset) capacity() int                      { return len(s.resources) }
func (s *CPUElasticSubset) vmAllocation(vm *domain.Entity) int { return vm.VCPUs() }

// Resources returns every physical core owned by this subset,
// including cores currently outside the active pinning window.
func (s *CPUElasticSubset) Resources() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCopy(s.resources)
}

// ActiveResources returns the cores currently handed out as the pin
// template: the prefix of Resources() sized by the last prediction.
func (s *CPUElasticSubset) ActiveResources() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.activeRes) == 0 {
		return sortedCopy(s.resources)
	}
	return sortedCopy(s.activeRes)
}

// AddResource grows the subset by one physical core. It does not by
// itself grow the active window; that only happens on the next
// predicted resize.
func (s *CPUElasticSubset) AddResource(core int) {
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

// RemoveResource shrinks the subset by one physical core.
func (s *CPUElasticSubset) RemoveResource(core int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.resources {
		if c == core {
			s.resources = append(s.resources[:i], s.resources[i+1:]...)
			break
		}
	}
	for i, c := range s.activeRes {
		if c == core {
			s.activeRes = append(s.activeRes[:i], s.activeRes[i+1:]...)
			break
		}
	}
}

func (s *CPUElasticSubset) pinningResLocked() []int {
	if len(s.activeRes) == 0 {
		return s.resources
	}
	return s.activeRes
}

func (s *CPUElasticSubset) Deploy(vm *domain.Entity) bool {
	s.addConsumer(vm)
	if err := s.syncPinning(vm); err != nil {
		s.RemoveConsumer(vm)
		return false
	}
	vm.ClearTime()
	return true
}

func (s *CPUElasticSubset) syncPinning(vm *domain.Entity) error {
	if s.connector == nil {
		return errors.New("subset: no pin connector configured")
	}
	s.mu.RLock()
	cores := sortedCopy(s.pinningResLocked())
	width := s.hostWidth
	s.mu.RUnlock()
	template := s.connector.BuildPinTemplate(cores, width)
	vm.SetPinMask(template)
	return s.connector.UpdatePin(vm)
}

// resyncAllConsumers pushes the current active window to every
// registered consumer, used after the active window resizes.
func (s *CPUElasticSubset) resyncAllConsumers() error {
	for _, vm := range s.Consumers() {
		if err := s.syncPinning(vm); err != nil {
			return err
		}
	}
	return nil
}

// RemoveConsumer unregisters vm and forgets its historical usage
// samples, mirroring the Python implementation's paired cleanup of
// consumer membership and hist_consumers_usage.
func (s *CPUElasticSubset) RemoveConsumer(vm *domain.Entity) {
	s.base.RemoveConsumer(vm)
	s.mu.Lock()
	delete(s.histConsumersUsage, vm.UUID())
	s.mu.Unlock()
}

// UpdateMonitoring samples usage, records it into the history
// buffers (pruning anything older than monitoringWindow), feeds the
// subset's peak usage to the predictor, and resizes+resyncs the
// active pinning window if the prediction changed.
func (s *CPUElasticSubset) UpdateMonitoring(t float64) (*float64, map[string]float64, bool, error) {
	if s.monitor == nil {
		return nil, nil, false, nil
	}
	usage, perConsumer, err := s.monitor.LoadSubset(t, s)
	if err != nil {
		return nil, nil, false, errors.Wrap(err, "subset: monitoring sample failed")
	}
	stale := s.reconcileConsumers(perConsumer)

	s.mu.Lock()
	for _, uuid := range stale {
		delete(s.histConsumersUsage, uuid)
	}
	if usage != nil {
		s.histUsage = append(s.histUsage, timedValue{t: t, value: *usage})
		s.histUsage = pruneExpired(s.histUsage, t, s.monitoringWindow)
	}
	for uuid, v := range perConsumer {
		list := append(s.histConsumersUsage[uuid], timedValue{t: t, value: v})
		s.histConsumersUsage[uuid] = pruneExpired(list, t, s.monitoringWindow)
	}
	s.mu.Unlock()

	cleanNeeded := len(stale) > 0

	if usage == nil || s.predictor == nil {
		return usage, perConsumer, cleanNeeded, nil
	}

	s.mu.RLock()
	currentResources := len(s.resources)
	allocation := s.allocationLocked()
	prevActive := len(s.pinningResLocked())
	s.mu.RUnlock()

	predicted := s.predictor.Predict(t, currentResources, allocation, *usage)

	s.mu.Lock()
	changed := predicted != prevActive
	if changed {
		s.activeRes = firstN(sortedCopy(s.resources), predicted)
	}
	s.mu.Unlock()

	if changed {
		if err := s.resyncAllConsumers(); err != nil {
			return usage, perConsumer, cleanNeeded, errors.Wrap(err, "subset: resync after active window resize failed")
		}
	}
	return usage, perConsumer, cleanNeeded, nil
}

func firstN(xs []int, n int) []int {
	if n < 0 {
		n = 0
	}
	if n > len(xs) {
		n = len(xs)
	}
	out := make([]int, n)
	copy(out, xs[:n])
	return out
}

func pruneExpired(list []timedValue, now float64, window float64) []timedValue {
	out := list[:0]
	for _, v := range list {
		if v.t >= now-window {
			out = append(out, v)
		}
	}
	return append([]timedValue(nil), out...)
}
