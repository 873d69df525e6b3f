// Package oversub implements the subset oversubscription accounting:
// effective ratio, virtual capacity, and the physical-resource deltas
// a subset must apply when it grows, shrinks or accepts a new
// consumer.
package oversub

import "math"

// Policy is identified by its ratio r and critical size k: below k
// consumers, no oversubscription is granted regardless of r.
type Policy struct {
	Ratio        float64
	CriticalSize int
}

// New builds a Policy. A ratio of 1.0 always means no oversubscription.
func New(ratio float64, criticalSize int) Policy {
	return Policy{Ratio: ratio, CriticalSize: criticalSize}
}

// ID is the policy's identity: its ratio.
func (p Policy) ID() float64 { return p.Ratio }

// EffectiveRatio returns 1.0 while the consumer count n stays below
// the policy's critical size, and the configured ratio afterward.
func (p Policy) EffectiveRatio(n int) float64 {
	if n < p.CriticalSize {
		return 1.0
	}
	return p.Ratio
}

// VirtualCapacity is C*r_eff for a subset of physical capacity C with
// n current (or candidate) consumers.
func (p Policy) VirtualCapacity(capacity int, n int) float64 {
	return float64(capacity) * p.EffectiveRatio(n)
}

// AvailableVirtual is C*r_eff - A, where A is the sum of already
// allocated vCPUs.
func (p Policy) AvailableVirtual(capacity, allocated, n int) float64 {
	return p.VirtualCapacity(capacity, n) - float64(allocated)
}

// UnusedPhysical returns the number of physical resources the subset
// could give up without going under its largest consumer's vCPU
// count. u = floor((C*r_eff - A)/r_eff), clamped so that C - u is
// never smaller than maxConsumerVcpus.
func (p Policy) UnusedPhysical(capacity, allocated, n, maxConsumerVcpus int) int {
	rEff := p.EffectiveRatio(n)
	if rEff == 0 {
		return 0
	}
	u := int(math.Floor((float64(capacity)*rEff - float64(allocated)) / rEff))
	if u < 0 {
		u = 0
	}
	if capacity-u < maxConsumerVcpus {
		u = capacity - maxConsumerVcpus
	}
	if u < 0 {
		u = 0
	}
	return u
}

// AdditionalPhysicalNeeded returns how many more physical resources
// the subset must acquire to fit a candidate VM requesting vcpus,
// given the candidate effective ratio (computed against n+1
// consumers by the caller) and the subset's currently available
// virtual capacity.
func (p Policy) AdditionalPhysicalNeeded(capacity int, availableVirtual float64, vcpus int, rEff float64) int {
	missingVirt := float64(vcpus) - availableVirtual
	if missingVirt <= 0 {
		return 0
	}
	missingPhys := int(math.Ceil(missingVirt / rEff))
	if capacity+missingPhys < vcpus {
		missingPhys = vcpus - capacity
	}
	return missingPhys
}
