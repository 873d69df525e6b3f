package dataendpoint

import (
	"encoding/json"
	"strconv"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// Pool composes a loader (where samples come from) with an optional
// saver (where they are mirrored to): every read through the pool is
// replayed to the
// saver as a trace row, but only the loader ever answers a read.
type Pool struct {
	loader Endpoint
	saver  Saver
}

// NewPool builds a pool. saver may be nil: then loads pass through
// without being recorded anywhere.
func NewPool(loader Endpoint, saver Saver) *Pool {
	return &Pool{loader: loader, saver: saver}
}

// LoadSubset implements subset.Monitor: it loads from the pool's
// source and, if a saver is configured, mirrors both the subset-level
// and every per-consumer sample as trace rows.
func (p *Pool) LoadSubset(t float64, s subset.Subset) (*float64, map[string]float64, error) {
	usage, perConsumer, err := p.loader.LoadSubset(t, s)
	if err != nil {
		return nil, nil, err
	}
	if p.saver == nil {
		return usage, perConsumer, nil
	}

	res := string(s.ResourceKind())
	subsetID := subsetRecordID(s.OversubID())
	oc := strconv.FormatFloat(s.OversubID(), 'g', -1, 64)

	if rec, err := NewSubsetRecord(t, res, usage, float64(s.Capacity()), subsetID, oc, float64(s.UnusedResources()), describeSubset(s)); err == nil {
		_ = p.saver.Store(rec)
	}

	for _, vm := range s.Consumers() {
		val, sampled := perConsumer[vm.UUID()]
		var valPtr *float64
		if sampled {
			valPtr = &val
		}
		config := float64(vmAllocationFor(s, vm))
		if rec, err := NewVMRecord(t, res, valPtr, config, subsetID, oc, vm.UUID(), vm.Name()); err == nil {
			_ = p.saver.Store(rec)
		}
	}
	return usage, perConsumer, nil
}

// LoadGlobal loads the whole-resource sample and mirrors it to the
// saver as a "global" record.
func (p *Pool) LoadGlobal(t float64, src GlobalSource) (*float64, error) {
	val, err := p.loader.LoadGlobal(t, src)
	if err != nil {
		return nil, err
	}
	if p.saver != nil {
		_ = p.saver.Store(NewGlobalRecord(t, src.ResName(), val, float64(src.Capacity())))
	}
	return val, nil
}

// IsLive reports whether the loader samples a live system.
func (p *Pool) IsLive() bool { return p.loader.IsLive() }

// describeSubset renders a compact JSON description of a subset for
// the sb_dsc column.
func describeSubset(s subset.Subset) string {
	desc := struct {
		Res    string  `json:"res"`
		Numa   int     `json:"numa"`
		Oc     float64 `json:"oc"`
		PCap   int     `json:"pcap"`
		PAlloc int     `json:"palloc"`
	}{
		Res:    string(s.ResourceKind()),
		Numa:   int(s.NumaID()),
		Oc:     s.OversubID(),
		PCap:   s.Capacity(),
		PAlloc: s.Allocation(),
	}
	b, err := json.Marshal(desc)
	if err != nil {
		return ""
	}
	return string(b)
}

// vmAllocationFor reports the physical resources vm would consume in
// s, without oversubscription, i.e. s's notion of get_vm_allocation.
func vmAllocationFor(s subset.Subset, vm *domain.Entity) int {
	if s.ResourceKind() == subset.ResourceMem {
		return int(vm.MemMB())
	}
	return vm.VCPUs()
}
