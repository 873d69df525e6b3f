package manager

import (
	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// MemManager owns one NUMA node's single memory pool, always at
// MemRatio: one pool per node, no memory oversubscription.
type MemManager struct {
	numaID     idset.ID
	collection *subset.Collection
	pool       *subset.MemSubset
}

// NewMemManager builds a memory manager covering [0, allowedMB) of the
// node's single memory pool.
func NewMemManager(numaID idset.ID, allowedMB uint64, monitor subset.Monitor) *MemManager {
	pool := subset.NewMemSubset(numaID, oversub.New(MemRatio, 0), []subset.Range{{LowMB: 0, HighMB: allowedMB}}, monitor)
	collection := subset.NewCollection(subset.ResourceMem)
	_ = collection.AddSubset(pool)
	return &MemManager{numaID: numaID, collection: collection, pool: pool}
}

// Collection exposes the underlying subset collection (status, listvm).
func (m *MemManager) Collection() *subset.Collection { return m.collection }

// ResName identifies this manager's resource for global telemetry,
// satisfying dataendpoint.GlobalSource.
func (m *MemManager) ResName() string { return string(subset.ResourceMem) }

// Capacity returns the node's total memory pool capacity in MB.
func (m *MemManager) Capacity() int { return m.pool.Capacity() }

// Deploy registers vm against the node's memory pool, failing if the
// pool's single range cannot fit it.
func (m *MemManager) Deploy(vm *domain.Entity) error {
	if needed := m.pool.AdditionalNeeded(vm); needed > 0 {
		return schederr.NotEnough("mem", "numa %d: %d MB short for vm %s", m.numaID, needed, vm.Name())
	}
	if !m.pool.Deploy(vm) {
		return schederr.New(schederr.HypervisorFailure, "numa %d: memory subset deploy failed for vm %s", m.numaID, vm.Name())
	}
	return nil
}

// Rollback undoes a successful Deploy (used by the manager pool when a
// later manager in the same deploy attempt fails).
func (m *MemManager) Rollback(vm *domain.Entity) {
	m.pool.RemoveConsumer(vm)
}
