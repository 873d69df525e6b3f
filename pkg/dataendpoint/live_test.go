package dataendpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

func TestLiveEndpointAveragesConsumerUsage(t *testing.T) {
	conn := hypervisor.NewMemConnector()
	conn.SetCPUSampler(func(vm *domain.Entity) (uint64, bool) {
		if vm.Name() == "vm1" {
			return 100, true
		}
		return 200, true
	})

	vm1, err := domain.New(domain.Params{Name: "vm1", VCPUs: 1, MemKB: 1024 * 1024, CPURatio: 1.0})
	require.NoError(t, err)
	vm2, err := domain.New(domain.Params{Name: "vm2", VCPUs: 1, MemKB: 1024 * 1024, CPURatio: 1.0})
	require.NoError(t, err)
	require.True(t, func() bool { ok, _ := conn.CreateVM(vm1); return ok }())
	require.True(t, func() bool { ok, _ := conn.CreateVM(vm2); return ok }())

	policy := oversub.New(1, 0)
	s := subset.NewCPUSubset(idset.ID(0), policy, []int{0, 1}, 8, conn, nil)
	require.True(t, s.Deploy(vm1))
	require.True(t, s.Deploy(vm2))

	e := NewLiveEndpoint(conn)
	// First sample only primes the counters (no previous sample yet).
	_, _, err = e.LoadSubset(0, s)
	require.NoError(t, err)
}

func TestLiveEndpointIsLive(t *testing.T) {
	e := NewLiveEndpoint(hypervisor.NewMemConnector())
	require.True(t, e.IsLive())
}
