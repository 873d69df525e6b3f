package subset

import (
	"sort"
	"sync"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
)

// Collection groups every subset of one resource kind on one NUMA
// node, keyed by oversubscription ratio.
type Collection struct {
	kind ResourceKind

	mu      sync.RWMutex
	subsets map[float64]Subset
}

// NewCollection builds an empty collection for kind.
func NewCollection(kind ResourceKind) *Collection {
	return &Collection{kind: kind, subsets: make(map[float64]Subset)}
}

// Kind returns the resource kind every subset in this collection shares.
func (c *Collection) Kind() ResourceKind { return c.kind }

// AddSubset registers s under its oversubscription ratio. It is an
// error to add a subset of a different resource kind, or to add a
// second subset at an already-registered ratio.
func (c *Collection) AddSubset(s Subset) error {
	if s.ResourceKind() != c.kind {
		return schederr.New(schederr.DoesNotExist, "subset kind %s does not match collection kind %s", s.ResourceKind(), c.kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.subsets[s.OversubID()]; exists {
		return schederr.New(schederr.UnequalPresence, "subset already registered at ratio %.3f", s.OversubID())
	}
	c.subsets[s.OversubID()] = s
	return nil
}

// RemoveSubset drops the subset at the given oversubscription ratio.
func (c *Collection) RemoveSubset(oversubID float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subsets, oversubID)
}

// GetSubset returns the subset registered at oversubID, if any.
func (c *Collection) GetSubset(oversubID float64) (Subset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subsets[oversubID]
	return s, ok
}

// ContainsSubset reports whether a subset is registered at oversubID.
func (c *Collection) ContainsSubset(oversubID float64) bool {
	_, ok := c.GetSubset(oversubID)
	return ok
}

// Subsets returns every subset in the collection, ordered by
// ascending oversubscription ratio for deterministic iteration.
func (c *Collection) Subsets() []Subset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ratios := make([]float64, 0, len(c.subsets))
	for r := range c.subsets {
		ratios = append(ratios, r)
	}
	sort.Float64s(ratios)
	out := make([]Subset, 0, len(ratios))
	for _, r := range ratios {
		out = append(out, c.subsets[r])
	}
	return out
}

// Capacity sums every subset's physical capacity.
func (c *Collection) Capacity() int {
	total := 0
	for _, s := range c.Subsets() {
		total += s.Capacity()
	}
	return total
}

// Consumers concatenates the consumer lists of every subset in the
// collection. A previous revision of this method stopped after the
// first subset's consumers due to a copy/paste slice-append mistake;
// it now walks every subset, which is what every caller (list_vm,
// status, placement) actually needs.
func (c *Collection) Consumers() []*domain.Entity {
	var out []*domain.Entity
	for _, s := range c.Subsets() {
		out = append(out, s.Consumers()...)
	}
	return out
}

// HasVM reports whether vm is a consumer of any subset in the collection.
func (c *Collection) HasVM(vm *domain.Entity) bool {
	for _, s := range c.Subsets() {
		if s.HasVM(vm) {
			return true
		}
	}
	return false
}

// VMByName searches every subset for a consumer with the given name.
func (c *Collection) VMByName(name string) *domain.Entity {
	for _, s := range c.Subsets() {
		if vm := s.VMByName(name); vm != nil {
			return vm
		}
	}
	return nil
}

// RemoveConsumer removes vm from whichever subset currently holds it.
func (c *Collection) RemoveConsumer(vm *domain.Entity) {
	for _, s := range c.Subsets() {
		if s.HasVM(vm) {
			s.RemoveConsumer(vm)
			return
		}
	}
}

// UpdateMonitoring ticks every subset's monitoring sample at time t,
// returning the first error encountered (if any) after attempting
// every subset, so one failing subset does not prevent the others
// from reporting.
func (c *Collection) UpdateMonitoring(t float64) error {
	var first error
	for _, s := range c.Subsets() {
		if _, _, _, err := s.UpdateMonitoring(t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// AllConsumers concatenates the consumer lists of every collection
// passed in, e.g. every NUMA node's collection for one resource kind.
// It exists as the fixed form of the bug Collection.Consumers' doc
// comment above describes: list_vm must report consumers across every
// NUMA collection, not just the first one it is handed.
func AllConsumers(collections ...*Collection) []*domain.Entity {
	var out []*domain.Entity
	for _, c := range collections {
		if c == nil {
			continue
		}
		out = append(out, c.Consumers()...)
	}
	return out
}
