package manager

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/predictor"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
	"github.com/jacquetpi/sweetspotvm/pkg/topology"
)

// CPUManager owns one NUMA node's CPU subsets. Deploy picks, for the
// whole VM, the oversubscription ratio its template assigns (the
// common configuration is a single-entry OVSB_TEMPLATE, making every
// vCPU of every VM map to the same ratio; a multi-entry template that
// would otherwise split one VM's vCPUs across several subsets is
// reduced here to the ratio of its last vCPU index, matching
// CPUTemplate.RatioFor — see the scope decision in DESIGN.md's
// pkg/manager entry).
type CPUManager struct {
	numaID idset.ID
	topo   *topology.CpuSet

	collection *subset.Collection
	template   CPUTemplate

	criticalSize int
	hostWidth    int

	connector subset.PinApplier
	monitor   subset.Monitor

	elastic          bool
	predictorCfg     predictor.Config
	monitoringWindow float64
}

// Config groups the knobs a CPUManager needs beyond topology/template.
type Config struct {
	CriticalSize     int
	HostWidth        int
	Elastic          bool
	PredictorCfg     predictor.Config
	MonitoringWindow float64
}

// NewCPUManager builds an empty CPU manager for one NUMA node.
func NewCPUManager(numaID idset.ID, topo *topology.CpuSet, template CPUTemplate, connector subset.PinApplier, monitor subset.Monitor, cfg Config) *CPUManager {
	return &CPUManager{
		numaID:           numaID,
		topo:             topo,
		collection:       subset.NewCollection(subset.ResourceCPU),
		template:         template,
		criticalSize:     cfg.CriticalSize,
		hostWidth:        cfg.HostWidth,
		connector:        connector,
		monitor:          monitor,
		elastic:          cfg.Elastic,
		predictorCfg:     cfg.PredictorCfg,
		monitoringWindow: cfg.MonitoringWindow,
	}
}

// Collection exposes the underlying subset collection (status, listvm).
func (m *CPUManager) Collection() *subset.Collection { return m.collection }

// ResName identifies this manager's resource for global telemetry,
// satisfying dataendpoint.GlobalSource.
func (m *CPUManager) ResName() string { return string(subset.ResourceCPU) }

// Capacity returns the node's total core count, regardless of subset
// membership.
func (m *CPUManager) Capacity() int { return len(m.nodeCoreIDs()) }

func (m *CPUManager) nodeCoreIDs() []idset.ID {
	var out []idset.ID
	for _, c := range m.topo.Cores() {
		if c.NumaID == m.numaID {
			out = append(out, c.CPUID)
		}
	}
	return out
}

// freeCores returns the node's cores not currently owned by any
// subset in the collection.
func (m *CPUManager) freeCores() []idset.ID {
	owned := idset.New()
	for _, s := range m.collection.Subsets() {
		r, ok := s.(subset.Resizer)
		if !ok {
			continue
		}
		for _, c := range r.Resources() {
			owned.Add(idset.ID(c))
		}
	}
	var free []idset.ID
	for _, id := range m.nodeCoreIDs() {
		if !owned.Has(id) {
			free = append(free, id)
		}
	}
	return free
}

// allocatedCores returns every core currently owned by any subset on the node.
func (m *CPUManager) allocatedCores() []idset.ID {
	var out []idset.ID
	for _, s := range m.collection.Subsets() {
		r, ok := s.(subset.Resizer)
		if !ok {
			continue
		}
		for _, c := range r.Resources() {
			out = append(out, idset.ID(c))
		}
	}
	return out
}

// Deploy attempts to place vm on this NUMA node's CPU subsets,
// creating a new subset at its target ratio when one does not already
// exist. On any failure the node's CPU state is rolled back to
// exactly what it was before the call.
func (m *CPUManager) Deploy(vm *domain.Entity) error {
	ratio := m.template.RatioFor(vm.VCPUs())

	s, existed := m.collection.GetSubset(ratio)
	var addedCores []int
	var createdSubset bool

	if !existed {
		seed, ok := farthestAvailable(m.topo, m.freeCores(), m.allocatedCores())
		if !ok {
			return schederr.New(schederr.NotEnoughResources, "numa %d: no free core to seed a new ratio-%.3f subset", m.numaID, ratio)
		}
		policy := oversub.New(ratio, m.criticalSize)
		s = m.newSubset(policy, []int{int(seed)})
		if err := m.collection.AddSubset(s); err != nil {
			return errors.Wrap(err, "manager: failed to register new subset")
		}
		createdSubset = true
		addedCores = append(addedCores, int(seed))
	}

	needed := s.AdditionalNeeded(vm)
	resizer, _ := s.(subset.Resizer)
	for i := 0; i < needed; i++ {
		free := m.freeCores()
		core, ok := closestAvailable(m.topo, free, intsToIDs(resizer.Resources()), m.otherSubsetsCores(ratio), m.maxDistance())
		if !ok {
			m.rollback(ratio, createdSubset, addedCores)
			return schederr.NotEnough("cpu", "numa %d: not enough free cores for a %d-vCPU VM at ratio %.3f", m.numaID, vm.VCPUs(), ratio)
		}
		resizer.AddResource(int(core))
		addedCores = append(addedCores, int(core))
	}

	if !s.Deploy(vm) {
		m.rollback(ratio, createdSubset, addedCores)
		return schederr.New(schederr.HypervisorFailure, "numa %d: subset deploy failed for vm %s", m.numaID, vm.Name())
	}

	m.balanceAvailable()
	return nil
}

// Rollback undoes a successful Deploy (used by the manager pool when a
// later manager in the same deploy attempt fails). The cores gained
// while placing vm stay owned by their subset; the next Shrink (run by
// every Pool.Iterate) releases the ones no consumer needs.
func (m *CPUManager) Rollback(vm *domain.Entity) {
	m.collection.RemoveConsumer(vm)
}

func (m *CPUManager) rollback(ratio float64, createdSubset bool, addedCores []int) {
	if createdSubset {
		m.collection.RemoveSubset(ratio)
		return
	}
	s, ok := m.collection.GetSubset(ratio)
	if !ok {
		return
	}
	resizer, ok := s.(subset.Resizer)
	if !ok {
		return
	}
	for _, c := range addedCores {
		resizer.RemoveResource(c)
	}
}

func (m *CPUManager) newSubset(policy oversub.Policy, cores []int) subset.Subset {
	if m.elastic {
		pred := predictor.New(m.predictorCfg)
		return subset.NewCPUElasticSubset(m.numaID, policy, cores, m.hostWidth, m.connector, m.monitor, pred, m.monitoringWindow)
	}
	return subset.NewCPUSubset(m.numaID, policy, cores, m.hostWidth, m.connector, m.monitor)
}

func (m *CPUManager) otherSubsetsCores(excludeRatio float64) []idset.ID {
	var out []idset.ID
	for _, s := range m.collection.Subsets() {
		if s.OversubID() == excludeRatio {
			continue
		}
		if r, ok := s.(subset.Resizer); ok {
			out = append(out, intsToIDs(r.Resources())...)
		}
	}
	return out
}

func (m *CPUManager) maxDistance() int {
	max := 0
	for _, c := range m.nodeCoreIDs() {
		for _, d := range m.topo.DistancesFrom(c) {
			if d.Value > max {
				max = d.Value
			}
		}
	}
	return max
}

// balanceAvailable implements the shared-active-mask mechanism: for
// every CPU subset on the node still below its critical size, if the
// node's free pool together with the subset's
// current allocation would already meet the minimum mutualisation
// ceil(allocated/minRatio), the free cores are folded into that
// subset's pin template (without changing its ownership bookkeeping)
// so its consumers can opportunistically use them before critical
// size is reached. Implemented at the Collection level: every
// below-critical-size subset on the node shares the same free-core
// mask, recomputed each time any one of them resizes, rather than
// separately negotiating pairwise with its neighbors.
func (m *CPUManager) balanceAvailable() {
	free := m.freeCores()
	if len(free) == 0 {
		return
	}
	minRatio := m.minRatio()
	if minRatio <= 0 {
		return
	}
	for _, s := range m.collection.Subsets() {
		resizer, ok := s.(subset.Resizer)
		if !ok {
			continue
		}
		n := len(s.Consumers())
		if n >= m.criticalSize {
			continue
		}
		allocated := s.Allocation()
		mutualisationFloor := int(math.Ceil(float64(allocated) / minRatio))
		if len(resizer.Resources())+len(free) < mutualisationFloor {
			continue
		}
		for _, c := range free {
			resizer.AddResource(int(c))
		}
	}
}

func (m *CPUManager) minRatio() float64 {
	min := 0.0
	first := true
	for _, s := range m.collection.Subsets() {
		if first || s.OversubID() < min {
			min = s.OversubID()
			first = false
		}
	}
	return min
}

// Shrink drops the unused tail of every subset on the node, re-syncing
// pin templates for any subsets that actually changed.
func (m *CPUManager) Shrink() {
	for _, s := range m.collection.Subsets() {
		resizer, ok := s.(subset.Resizer)
		if !ok {
			continue
		}
		u := s.UnusedResources()
		if u <= 0 {
			continue
		}
		cores := resizer.Resources()
		sort.Ints(cores)
		drop := cores
		if u < len(drop) {
			drop = drop[len(drop)-u:]
		}
		for _, c := range drop {
			resizer.RemoveResource(c)
		}
		for _, vm := range s.Consumers() {
			s.Deploy(vm)
		}
	}
}

func intsToIDs(xs []int) []idset.ID {
	out := make([]idset.ID, len(xs))
	for i, x := range xs {
		out[i] = idset.ID(x)
	}
	return out
}
