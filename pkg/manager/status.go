package manager

import "strconv"

// SubsetStatus is one ratio's entry in a manager's status map, the
// shape managerStatus.subset values take on the REST surface.
// VPotential extends subset.Status with the virtual capacity reachable
// through balanceAvailable's idle-core sharing, without that capacity
// having actually been folded into the subset yet -- it is what the
// dispatcher's first-fit match checks in addition to VAvail.
type SubsetStatus struct {
	PCap       int     `json:"pcap"`
	PAlloc     int     `json:"palloc"`
	VAvail     float64 `json:"vavail"`
	VPotential float64 `json:"vpotential"`
}

// ManagerStatus is one NUMA node's status for one resource kind. The
// Subset map is keyed by the formatted ratio rather than a float64
// directly: encoding/json only allows string, integer or
// TextMarshaler map keys, and a ratio like 3.0 has to cross the REST
// boundary as the JSON object key "3".
type ManagerStatus struct {
	Avail  int                     `json:"avail"`
	Subset map[string]SubsetStatus `json:"subset"`
}

// formatRatio renders an oversubscription ratio the same way the CSV
// endpoint's sb_oc column does, so a ratio key reads identically
// whether it arrives via REST or via the trace.
func formatRatio(ratio float64) string {
	return strconv.FormatFloat(ratio, 'g', -1, 64)
}

// Status renders this node's CPU status, one entry per active ratio
// plus the free-core count.
func (m *CPUManager) Status() ManagerStatus {
	out := ManagerStatus{Avail: len(m.freeCores()), Subset: map[string]SubsetStatus{}}
	for _, s := range m.collection.Subsets() {
		st := s.Status()
		out.Subset[formatRatio(s.OversubID())] = SubsetStatus{
			PCap:       st.PCap,
			PAlloc:     st.PAlloc,
			VAvail:     st.VAvail,
			VPotential: m.vpotential(s.OversubID()),
		}
	}
	return out
}

// vpotential is the extra virtual capacity a ratio's subset could
// reach by absorbing the node's currently free cores, the same pool
// balanceAvailable draws from. It is zero once the subset has crossed
// its critical size, since balanceAvailable no longer shares with it.
func (m *CPUManager) vpotential(ratio float64) float64 {
	s, ok := m.collection.GetSubset(ratio)
	if !ok {
		return 0
	}
	if len(s.Consumers()) >= m.criticalSize {
		return 0
	}
	return float64(len(m.freeCores())) * ratio
}

// Status renders this node's memory status. Memory never
// oversubscribes (ratio fixed at 1.0), so VPotential is always zero;
// Avail is the pool's remaining capacity in MB.
func (m *MemManager) Status() ManagerStatus {
	st := m.pool.Status()
	return ManagerStatus{
		Avail: m.pool.Capacity() - m.pool.Allocation(),
		Subset: map[string]SubsetStatus{
			formatRatio(MemRatio): {PCap: st.PCap, PAlloc: st.PAlloc, VAvail: st.VAvail, VPotential: 0},
		},
	}
}
