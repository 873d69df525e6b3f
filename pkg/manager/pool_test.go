package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
)

func TestPoolDeployCreatesVMAndListsIt(t *testing.T) {
	topo := buildSingleNumaTopology(t)
	tmpl, err := ParseCPUTemplate("1.0")
	require.NoError(t, err)

	conn := hypervisor.NewMemConnector()
	cpu := NewCPUManager(idset.ID(0), topo, tmpl, conn, nil, Config{CriticalSize: 0, HostWidth: 8})
	mem := NewMemManager(idset.ID(0), 8192, nil)

	pool := NewPool(conn)
	pool.AddNode(idset.ID(0), cpu, mem)

	vm, err := domain.New(domain.Params{Name: "vm1", VCPUs: 2, MemKB: 2 * 1024 * 1024, CPURatio: 1.0})
	require.NoError(t, err)

	ok, reason := pool.Deploy(vm)
	require.True(t, ok, reason)
	require.True(t, vm.IsDeployed())
	require.Contains(t, pool.ListVM(), "vm1")
}

func TestPoolDeployRollsBackMemoryFailureFromCPU(t *testing.T) {
	topo := buildSingleNumaTopology(t)
	tmpl, err := ParseCPUTemplate("1.0")
	require.NoError(t, err)

	conn := hypervisor.NewMemConnector()
	cpu := NewCPUManager(idset.ID(0), topo, tmpl, conn, nil, Config{CriticalSize: 0, HostWidth: 8})
	mem := NewMemManager(idset.ID(0), 1, nil) // effectively no memory available

	pool := NewPool(conn)
	pool.AddNode(idset.ID(0), cpu, mem)

	vm, err := domain.New(domain.Params{Name: "vm1", VCPUs: 2, MemKB: 4 * 1024 * 1024, CPURatio: 1.0})
	require.NoError(t, err)

	ok, _ := pool.Deploy(vm)
	require.False(t, ok)
	require.False(t, cpu.Collection().HasVM(vm))
}

func TestPoolRemove(t *testing.T) {
	topo := buildSingleNumaTopology(t)
	tmpl, err := ParseCPUTemplate("1.0")
	require.NoError(t, err)

	conn := hypervisor.NewMemConnector()
	cpu := NewCPUManager(idset.ID(0), topo, tmpl, conn, nil, Config{CriticalSize: 0, HostWidth: 8})
	mem := NewMemManager(idset.ID(0), 8192, nil)

	pool := NewPool(conn)
	pool.AddNode(idset.ID(0), cpu, mem)

	vm, err := domain.New(domain.Params{Name: "vm1", VCPUs: 2, MemKB: 2 * 1024 * 1024, CPURatio: 1.0})
	require.NoError(t, err)
	ok, _ := pool.Deploy(vm)
	require.True(t, ok)

	ok, _ = pool.Remove(vm)
	require.True(t, ok)
	require.NotContains(t, pool.ListVM(), "vm1")
}
