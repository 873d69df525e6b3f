package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/dataendpoint"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/manager"
	"github.com/jacquetpi/sweetspotvm/pkg/topology"
)

func buildSingleNumaTopology(t *testing.T) *topology.CpuSet {
	t.Helper()
	var cores []*topology.Core
	for i := 0; i < 8; i++ {
		cores = append(cores, &topology.Core{
			CPUID:    idset.ID(i),
			NumaID:   idset.ID(0),
			CacheIDs: map[int]idset.ID{0: idset.ID(i)},
		})
	}
	return topology.NewCpuSet(cores, map[idset.ID]map[idset.ID]int{0: {0: 0}}, 8).BuildDistances()
}

func buildLocal(t *testing.T) (*Local, *hypervisor.MemConnector) {
	t.Helper()
	topo := buildSingleNumaTopology(t)
	tmpl, err := manager.ParseCPUTemplate("1.0")
	require.NoError(t, err)

	conn := hypervisor.NewMemConnector()
	cpu := manager.NewCPUManager(idset.ID(0), topo, tmpl, conn, nil, manager.Config{CriticalSize: 4, HostWidth: 8})
	mem := manager.NewMemManager(idset.ID(0), 8192, nil)

	pool := manager.NewPool(conn)
	pool.AddNode(idset.ID(0), cpu, mem)

	return NewLocal(pool, conn, 1.0), conn
}

func TestLocalDeployListRemove(t *testing.T) {
	local, _ := buildLocal(t)

	ok, reason := local.Deploy("vm1", 2, 2*1024*1024, 1.0, "")
	require.True(t, ok, reason)
	require.Contains(t, local.ListVM(), "vm1")

	ok, reason = local.Remove("vm1")
	require.True(t, ok, reason)
	require.NotContains(t, local.ListVM(), "vm1")
}

func TestLocalDeployRejectsSubCriticalRatio(t *testing.T) {
	local, _ := buildLocal(t)
	ok, reason := local.Deploy("vm1", 1, 1024*1024, 0.5, "")
	require.False(t, ok)
	require.Contains(t, reason, "oversubscription ratio")
}

func TestLocalRemoveUnknownVM(t *testing.T) {
	local, _ := buildLocal(t)
	ok, _ := local.Remove("ghost")
	require.False(t, ok)
}

func TestLocalStatusReportsNumaEntries(t *testing.T) {
	local, _ := buildLocal(t)
	status := local.Status()
	require.Contains(t, status, "cpu")
	require.Contains(t, status["cpu"], idset.ID(0))
	require.Equal(t, 8, status["cpu"][idset.ID(0)].Avail)
}

func writeReplayTrace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.csv")
	lines := []string{
		"0\tvm\tcpu\t0.2\t2\tsubset-1\tuuid-1\tvm1\t1\tNone\tNone",
		"0\tvm\tmem\t0.3\t2048\tsubset-1\tuuid-1\tvm1\tNone\tNone\tNone",
	}
	content := dataendpoint.Header + "\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalReplayDeploysTraceVM(t *testing.T) {
	local, _ := buildLocal(t)
	trace, err := dataendpoint.NewCSVEndpoint(writeReplayTrace(t), "")
	require.NoError(t, err)

	local.Replay(trace)
	require.Contains(t, local.ListVM(), "vm1")
}
