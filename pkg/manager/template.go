// Package manager implements the subset managers and the manager
// pool / local agent deploy discipline: turning a deploy request into
// subset membership, pin templates, and hypervisor calls, with
// rollback on any failure.
package manager

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CPUTemplate assigns an oversubscription ratio to each vCPU index of
// a candidate VM, by position in a configured ratio sequence: index i
// maps to ratios[i], and any index beyond the configured sequence
// reuses its last value. An empty template always yields ratio 1.0
// (no oversubscription).
type CPUTemplate struct {
	ratios []float64
}

// MemRatio is the fixed oversubscription ratio the memory subset
// manager always deploys at.
const MemRatio = 1.0

// ParseCPUTemplate parses a comma-separated list of ratios, as found
// in the OVSB_TEMPLATE configuration value.
func ParseCPUTemplate(raw string) (CPUTemplate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CPUTemplate{}, nil
	}
	parts := strings.Split(raw, ",")
	ratios := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return CPUTemplate{}, errors.Wrapf(err, "manager: invalid OVSB_TEMPLATE entry %q", p)
		}
		ratios = append(ratios, v)
	}
	return CPUTemplate{ratios: ratios}, nil
}

// RatioAt returns the ratio assigned to vCPU index i.
func (t CPUTemplate) RatioAt(i int) float64 {
	if len(t.ratios) == 0 {
		return 1.0
	}
	if i >= len(t.ratios) {
		i = len(t.ratios) - 1
	}
	return t.ratios[i]
}

// RatioFor returns the single oversubscription ratio a whole VM
// deploys under: the ratio assigned to its last vCPU index. The
// default single-entry template (the common configuration) makes
// this equal to the ratio for every vCPU; see the CPUManager doc
// comment in cpu_manager.go for the scope of this per-VM simplification.
func (t CPUTemplate) RatioFor(vcpus int) float64 {
	if vcpus <= 0 {
		return t.RatioAt(0)
	}
	return t.RatioAt(vcpus - 1)
}
