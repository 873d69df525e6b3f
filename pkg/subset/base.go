package subset

import (
	"sync"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
)

// allocator is implemented by each concrete resource kind and called
// back into by base: it is the "what does this kind of resource
// measure" half of Subset, kept separate from the "how do consumers
// come and go" half that base owns outright.
type allocator interface {
	resourceKind() ResourceKind
	capacity() int
	vmAllocation(vm *domain.Entity) int
}

// base implements the bookkeeping shared by every concrete Subset:
// consumer membership, capacity/allocation accounting against an
// oversubscription policy, and status rendering. Concrete subsets
// embed base and supply the allocator half plus their own Deploy.
type base struct {
	mu sync.RWMutex

	numaID idset.ID
	policy oversub.Policy

	consumers map[string]*domain.Entity

	self allocator
}

func newBase(numaID idset.ID, policy oversub.Policy, self allocator) base {
	return base{
		numaID:    numaID,
		policy:    policy,
		consumers: make(map[string]*domain.Entity),
		self:      self,
	}
}

func (b *base) ResourceKind() ResourceKind { return b.self.resourceKind() }
func (b *base) NumaID() idset.ID           { return b.numaID }
func (b *base) OversubID() float64         { return b.policy.ID() }

func (b *base) Capacity() int { return b.self.capacity() }

func (b *base) Allocation() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allocationLocked()
}

func (b *base) allocationLocked() int {
	total := 0
	for _, vm := range b.consumers {
		total += b.self.vmAllocation(vm)
	}
	return total
}

func (b *base) MaxConsumerAllocation() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	max := 0
	for _, vm := range b.consumers {
		if a := b.self.vmAllocation(vm); a > max {
			max = a
		}
	}
	return max
}

func (b *base) UnusedResources() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.policy.UnusedPhysical(b.self.capacity(), b.allocationLocked(), len(b.consumers), b.maxConsumerAllocationLocked())
}

func (b *base) maxConsumerAllocationLocked() int {
	max := 0
	for _, vm := range b.consumers {
		if a := b.self.vmAllocation(vm); a > max {
			max = a
		}
	}
	return max
}

func (b *base) AdditionalNeeded(vm *domain.Entity) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.consumers) + 1
	rEff := b.policy.EffectiveRatio(n)
	avail := b.policy.AvailableVirtual(b.self.capacity(), b.allocationLocked(), n)
	return b.policy.AdditionalPhysicalNeeded(b.self.capacity(), avail, b.self.vmAllocation(vm), rEff)
}

func (b *base) Consumers() []*domain.Entity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*domain.Entity, 0, len(b.consumers))
	for _, vm := range b.consumers {
		out = append(out, vm)
	}
	return out
}

func (b *base) HasVM(vm *domain.Entity) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.consumers[vm.UUID()]
	return ok
}

func (b *base) VMByName(name string) *domain.Entity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, vm := range b.consumers {
		if vm.Name() == name {
			return vm
		}
	}
	return nil
}

// addConsumer registers vm as a consumer of this subset. It is the
// base-level bookkeeping step of Deploy; concrete subsets call it
// before doing their own resource-specific work (pin sync, active
// window resize, ...).
func (b *base) addConsumer(vm *domain.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers[vm.UUID()] = vm
}

func (b *base) RemoveConsumer(vm *domain.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.consumers, vm.UUID())
}

// reconcileConsumers drops any registered consumer absent from
// perConsumer: a consumer the monitor skipped as ConsumerNotAlive is
// treated as gone rather than kept forever, per the "unequal presence"
// cleanup spec §4.6 ties to a subset's UpdateMonitoring. Returns the
// UUIDs actually dropped, empty if none (including when perConsumer is
// nil, meaning no sample was taken at all).
func (b *base) reconcileConsumers(perConsumer map[string]float64) []string {
	if perConsumer == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var stale []string
	for uuid := range b.consumers {
		if _, ok := perConsumer[uuid]; !ok {
			stale = append(stale, uuid)
		}
	}
	for _, uuid := range stale {
		delete(b.consumers, uuid)
	}
	return stale
}

func (b *base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cap := b.self.capacity()
	alloc := b.allocationLocked()
	n := len(b.consumers)
	return Status{
		PCap:   cap,
		PAlloc: alloc,
		VAvail: b.policy.AvailableVirtual(cap, alloc, n),
	}
}
