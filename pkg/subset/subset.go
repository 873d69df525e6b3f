// Package subset implements the Subset abstraction: an arbitrary
// group of physical resources, governed by one oversubscription
// policy, to which VMs are attributed.
package subset

import (
	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
)

// ResourceKind distinguishes what a subset governs.
type ResourceKind string

const (
	ResourceCPU ResourceKind = "cpu"
	ResourceMem ResourceKind = "mem"
)

// Status summarizes a subset's current allocation for the REST status surface.
type Status struct {
	PCap   int     `json:"pcap"`
	PAlloc int     `json:"palloc"`
	VAvail float64 `json:"vavail"`
}

// Monitor is the capability subsets use to sample resource and
// per-consumer usage. Production code backs it with the data
// endpoint pool; tests and replay use a stub.
type Monitor interface {
	// LoadSubset returns the subset's own usage (nil if unavailable)
	// and a uuid -> usage map for its current consumers, as of t.
	LoadSubset(t float64, s Subset) (subsetUsage *float64, perConsumer map[string]float64, err error)
}

// PinApplier is the capability a CPU subset uses to push its pin
// template to the hypervisor. MemSubset does not need one.
type PinApplier interface {
	BuildPinTemplate(cores []int, hostWidth int) []bool
	UpdatePin(vm *domain.Entity) error
}

// Resizer is implemented by the CPU subset variants: it lets the
// subset manager grow or shrink a subset's physical core membership.
// MemSubset grows by range instead and does not implement this.
type Resizer interface {
	Resources() []int
	AddResource(core int)
	RemoveResource(core int)
}

// Subset is the common capability every resource-kind-specific subset
// implements.
type Subset interface {
	ResourceKind() ResourceKind
	NumaID() idset.ID
	OversubID() float64

	Capacity() int
	Allocation() int
	MaxConsumerAllocation() int
	UnusedResources() int
	AdditionalNeeded(vm *domain.Entity) int

	Consumers() []*domain.Entity
	HasVM(vm *domain.Entity) bool
	VMByName(name string) *domain.Entity
	RemoveConsumer(vm *domain.Entity)

	Deploy(vm *domain.Entity) bool
	Status() Status
	UpdateMonitoring(t float64) (subsetUsage *float64, perConsumer map[string]float64, cleanNeeded bool, err error)
}
