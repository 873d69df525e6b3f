// Package domain holds the DomainEntity value object shared by the
// hypervisor connector and the subset managers that place it.
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Entity is a VM descriptor. It is created by a deploy call, mutated
// only by the subset manager that owns it, and destroyed by the
// hypervisor connector on remove.
type Entity struct {
	uuid     string
	name     string
	vcpus    int
	memKB    uint64
	cpuRatio float64
	pinMask  [][]bool // one bitmap per vCPU, indexed by host core id
	diskPath string

	beingDestroyed bool

	timeSet  bool
	epochNs  int64
	total    uint64
	system   uint64
	user     uint64
}

// Params groups the required constructor arguments.
type Params struct {
	Name     string
	VCPUs    int
	MemKB    uint64
	CPURatio float64

	UUID     string
	DiskPath string
}

// New builds a not-yet-deployed Entity. Name, VCPUs, MemKB and
// CPURatio are mandatory.
func New(p Params) (*Entity, error) {
	if p.Name == "" {
		return nil, errors.New("domain: name is required")
	}
	if p.VCPUs <= 0 {
		return nil, errors.New("domain: vcpus must be positive")
	}
	if p.MemKB == 0 {
		return nil, errors.New("domain: memKB must be positive")
	}
	if p.CPURatio <= 0 {
		return nil, errors.New("domain: cpuRatio must be positive")
	}
	return &Entity{
		uuid:     p.UUID,
		name:     p.Name,
		vcpus:    p.VCPUs,
		memKB:    p.MemKB,
		cpuRatio: p.CPURatio,
		diskPath: p.DiskPath,
	}, nil
}

// UUID returns the hypervisor-assigned identifier, empty until deployed.
func (e *Entity) UUID() string { return e.uuid }

// SetUUID sets the identifier once the hypervisor accepts the create.
func (e *Entity) SetUUID(uuid string) { e.uuid = uuid }

// IsDeployed reports whether the hypervisor has accepted this VM.
func (e *Entity) IsDeployed() bool { return e.uuid != "" }

// Name returns the VM name.
func (e *Entity) Name() string { return e.name }

// VCPUs returns the vCPU count.
func (e *Entity) VCPUs() int { return e.vcpus }

// MemKB returns the memory allocation in KB.
func (e *Entity) MemKB() uint64 { return e.memKB }

// MemMB returns the memory allocation in MB, rounded down.
func (e *Entity) MemMB() uint64 { return e.memKB / 1024 }

// CPURatio returns the oversubscription ratio requested for this VM.
func (e *Entity) CPURatio() float64 { return e.cpuRatio }

// DiskPath returns the backing disk location, if any.
func (e *Entity) DiskPath() string { return e.diskPath }

// IsBeingDestroyed reports whether a remove is already in flight.
func (e *Entity) IsBeingDestroyed() bool { return e.beingDestroyed }

// SetBeingDestroyed marks the VM as undergoing removal.
func (e *Entity) SetBeingDestroyed(v bool) { e.beingDestroyed = v }

// PinMask returns the per-vCPU pin bitmaps, indexed [vcpu][coreID].
func (e *Entity) PinMask() [][]bool { return e.pinMask }

// SetPinMask broadcasts a single host-wide boolean vector to every
// vCPU: template[i] is true if core i is part of the VM's pin set.
func (e *Entity) SetPinMask(template []bool) {
	mask := make([][]bool, e.vcpus)
	for i := range mask {
		row := make([]bool, len(template))
		copy(row, template)
		mask[i] = row
	}
	e.pinMask = mask
}

// PinMaskAggregated collapses the per-vCPU masks into a single
// core-id -> pinned boolean, true if any vCPU is pinned to that core.
func (e *Entity) PinMaskAggregated() map[int]bool {
	out := make(map[int]bool)
	for _, row := range e.pinMask {
		for core, pinned := range row {
			if pinned {
				out[core] = true
			}
		}
	}
	return out
}

// HasTime reports whether SetTime has been called at least once.
func (e *Entity) HasTime() bool { return e.timeSet }

// SetTime replaces the previous CPU-time counters used to derive
// per-VM utilization. epochNs is a monotonic timestamp; total,
// system and user are cumulative CPU-time counters as reported by
// the hypervisor.
func (e *Entity) SetTime(epochNs int64, total, system, user uint64) {
	e.epochNs, e.total, e.system, e.user = epochNs, total, system, user
	e.timeSet = true
}

// Time returns the last-set CPU-time counters.
func (e *Entity) Time() (epochNs int64, total, system, user uint64) {
	return e.epochNs, e.total, e.system, e.user
}

// ClearTime forgets the last-set CPU-time counters, so the next
// SetTime call is treated as a first observation rather than a delta.
func (e *Entity) ClearTime() {
	e.epochNs, e.total, e.system, e.user = 0, 0, 0, 0
	e.timeSet = false
}

// Usage computes the fractional CPU utilization of the VM between the
// previously recorded counters and the newly supplied ones, without
// mutating state. usage = (total-prevTotal)/(epochNs-prevEpoch)/vcpus,
// clamped to [0,1]. Returns an error if no previous sample exists or
// the elapsed time is non-positive.
func (e *Entity) Usage(epochNs int64, total uint64) (float64, error) {
	if !e.timeSet {
		return 0, errors.New("domain: no previous time sample")
	}
	elapsed := epochNs - e.epochNs
	if elapsed <= 0 {
		return 0, errors.Errorf("domain: non-positive elapsed time %dns", elapsed)
	}
	if total < e.total {
		return 0, errors.New("domain: total counter went backwards")
	}
	delta := float64(total - e.total)
	usage := delta / float64(elapsed) / float64(e.vcpus)
	if usage < 0 {
		usage = 0
	}
	if usage > 1 {
		usage = 1
	}
	return usage, nil
}

// Equal reports identity by UUID when both are set, or else by
// (same name AND same vCPU count AND same memory).
func (e *Entity) Equal(other *Entity) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e == other {
		return true
	}
	if e.uuid != "" && e.uuid == other.uuid {
		return true
	}
	return e.name == other.name && e.vcpus == other.vcpus && e.memKB == other.memKB
}

func (e *Entity) String() string {
	return fmt.Sprintf("vm %s %dvCPU %dMB with oc %.2f", e.name, e.vcpus, e.MemMB(), e.cpuRatio)
}
