package manager

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// node bundles one NUMA node's CPU and memory managers.
type node struct {
	numaID idset.ID
	cpu    *CPUManager
	mem    *MemManager
}

// Pool coordinates every NUMA node's CPU and memory managers behind a
// single coarse mutex: handlers and the control loop never observe a
// partially-modified subset.
type Pool struct {
	mu    sync.Mutex
	nodes []node

	connector hypervisor.Connector
	global    GlobalLoader
}

// GlobalLoader is the whole-resource telemetry capability Iterate
// draws on before per-subset monitoring, satisfied by
// *dataendpoint.Pool. Kept as a narrow local interface so this
// package does not import dataendpoint (which already imports this
// package's sibling subset package, and would otherwise risk a cycle
// the moment dataendpoint needed anything manager-shaped).
type GlobalLoader interface {
	LoadGlobal(t float64, src interface {
		ResName() string
		Capacity() int
	}) (*float64, error)
}

// NewPool builds an empty pool. Nodes are added with AddNode before
// the pool is used.
func NewPool(connector hypervisor.Connector) *Pool {
	return &Pool{connector: connector}
}

// SetGlobalLoader wires the whole-resource telemetry source Iterate
// samples before per-subset monitoring: loadGlobal(t) precedes
// updateMonitoring(t) within one iteration. Optional: a pool with no
// loader set simply skips this step.
func (p *Pool) SetGlobalLoader(g GlobalLoader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = g
}

// AddNode registers a NUMA node's CPU and memory managers, in
// ascending numaID order (deploy tries nodes in this order).
func (p *Pool) AddNode(numaID idset.ID, cpu *CPUManager, mem *MemManager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = append(p.nodes, node{numaID: numaID, cpu: cpu, mem: mem})
	sort.Slice(p.nodes, func(i, j int) bool { return p.nodes[i].numaID < p.nodes[j].numaID })
}

// Deploy places vm using the two-phase discipline: for each NUMA node
// in order, try the CPU manager then the memory manager; on any
// failure, roll back whichever of the two already succeeded for that
// node, then move to the next node. If every node fails, Deploy
// returns false with every node's failure reason combined. On success, if the VM
// is not yet realized on the hypervisor, CreateVM is called; a
// hypervisor failure at that point is reported but the in-memory
// model is not rolled back, since the pin template the connector
// needs to retry is the one now stored.
func (p *Pool) Deploy(vm *domain.Entity) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for _, n := range p.nodes {
		if err := n.cpu.Deploy(vm); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := n.mem.Deploy(vm); err != nil {
			n.cpu.Rollback(vm)
			errs = multierror.Append(errs, err)
			continue
		}

		if vm.IsDeployed() {
			return true, ""
		}
		ok, reason := p.connector.CreateVM(vm)
		if !ok {
			return false, reason
		}
		return true, ""
	}
	if errs == nil {
		errs = schederr.New(schederr.NotEnoughResources, "no numa node available")
	}
	return false, errs.Error()
}

// Remove drops vm from whichever subsets currently hold it and asks
// the hypervisor connector to delete it.
func (p *Pool) Remove(vm *domain.Entity) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.nodes {
		n.cpu.collection.RemoveConsumer(vm)
		n.mem.collection.RemoveConsumer(vm)
	}
	ok, reason := p.connector.DeleteVM(vm)
	return ok, reason
}

// FindVM looks up a currently-deployed VM by name across every NUMA
// node's CPU collections, for callers (the REST /remove handler, the
// replay driver) that only have a name to go on.
func (p *Pool) FindVM(name string) (*domain.Entity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.nodes {
		if vm := n.cpu.collection.VMByName(name); vm != nil {
			return vm, true
		}
	}
	return nil, false
}

// ListVM concatenates consumer names across every NUMA node's CPU
// collections. This is the corrected form of the historical
// single-collection list_vm bug: every node's collection is walked,
// not just the first.
func (p *Pool) ListVM() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	collections := make([]*subset.Collection, 0, len(p.nodes))
	for _, n := range p.nodes {
		collections = append(collections, n.cpu.Collection())
	}
	var names []string
	for _, vm := range subset.AllConsumers(collections...) {
		names = append(names, vm.Name())
	}
	return names
}

// Iterate ticks every node's monitoring and shrinks any CPU subset
// whose resources went idle.
func (p *Pool) Iterate(t float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for _, n := range p.nodes {
		if p.global != nil {
			_, _ = p.global.LoadGlobal(t, n.cpu)
			_, _ = p.global.LoadGlobal(t, n.mem)
		}
		if err := n.cpu.Collection().UpdateMonitoring(t); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := n.mem.Collection().UpdateMonitoring(t); err != nil {
			errs = multierror.Append(errs, err)
		}
		n.cpu.Shrink()
	}
	if errs != nil {
		return errs
	}
	return nil
}

// Status renders the per-node, per-resource-kind manager status used
// by the /status REST handler.
func (p *Pool) Status() map[string]map[idset.ID]ManagerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := map[string]map[idset.ID]ManagerStatus{
		"cpu": {},
		"mem": {},
	}
	for _, n := range p.nodes {
		out["cpu"][n.numaID] = n.cpu.Status()
		out["mem"][n.numaID] = n.mem.Status()
	}
	return out
}
