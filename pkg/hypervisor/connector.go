// Package hypervisor is the narrow capability the core consumes to
// talk to the virtualization layer: list domains, create/delete them,
// apply pinning, and sample their CPU/memory usage. Everything the
// core does to a VM goes through this interface, never through the
// connector's concrete type.
package hypervisor

import (
	"github.com/jacquetpi/sweetspotvm/pkg/domain"
)

// OversubRatios is the metadata contract's ratio block: cpu/mem/disk/
// network oversubscription ratios, persisted on the VM descriptor.
type OversubRatios struct {
	CPU     float64
	Mem     float64
	Disk    float64
	Network float64
}

// DefaultOversubRatios is written back when a descriptor lacks the
// metadata block entirely.
var DefaultOversubRatios = OversubRatios{CPU: 1.0, Mem: 1.0, Disk: 1.0, Network: 1.0}

// CreateParams describes a VM to be created. Name, VCPUs and MemKB
// are mandatory; DiskPath is optional (diskless domains are allowed).
type CreateParams struct {
	Name     string
	VCPUs    int
	MemKB    uint64
	CPURatio float64
	DiskPath string
	PinMask  [][]bool
}

// Connector is the capability set the subset managers and the agent
// control loop use to reach the hypervisor. Implementations never
// return Go errors for "VM no longer exists" during a usage sample:
// that case is reported through schederr.ConsumerNotAlive so callers
// can skip it silently instead of failing the whole deploy.
type Connector interface {
	// ListAlive returns the domains currently running.
	ListAlive() ([]*domain.Entity, error)
	// ListDefined returns the domains defined but not running.
	ListDefined() ([]*domain.Entity, error)

	// UpdatePin pushes vm's current PinMask to the hypervisor, both
	// live (if the VM is running) and in its persisted description.
	UpdatePin(vm *domain.Entity) error

	// BuildPinTemplate returns a host-wide boolean vector with exactly
	// the given cores set, suitable for domain.Entity.SetPinMask.
	BuildPinTemplate(cores []int, hostWidth int) []bool

	// CPUUsage samples vm's cumulative CPU time and folds it into a
	// [0,1] utilization via vm.Usage. Returns schederr.ConsumerNotAlive
	// wrapped as error if the VM has disappeared.
	CPUUsage(vm *domain.Entity) (float64, error)
	// MemUsage samples vm's resident memory as a fraction of its
	// allocation.
	MemUsage(vm *domain.Entity) (float64, error)

	// CreateVM defines and starts a new domain from vm's parameters.
	// On partial failure (defined but not started) the stub is
	// undefined before returning. Reports (false, reason) rather than
	// an error, per the hypervisor failure contract.
	CreateVM(vm *domain.Entity) (success bool, reason string)
	// DeleteVM destroys and undefines vm. Deleting an already-absent
	// VM is treated as success.
	DeleteVM(vm *domain.Entity) (success bool, reason string)

	// CachePurge drops the uuid->entity conversion cache.
	CachePurge()
}
