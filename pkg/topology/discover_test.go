package topology

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
)

// fakeCPU writes the sysfs files for a single SMT thread under two
// NUMA nodes and a shared L2/L3, modelling a 2-socket, 2-thread-per-
// core host: cpus 0-3 on numa0/pkg0, cpus 4-7 on numa1/pkg1, with
// cpu pairs (0,1) (2,3) (4,5) (6,7) sharing an L2 and each socket
// sharing one L3.
func fakeCPU(t *testing.T, root string, id, numa, pkg, sibling, l2, l3 int) {
	t.Helper()
	base := filepath.Join(root, cpuPath, "cpu"+itoa(id))
	write := func(rel, content string) {
		full := filepath.Join(base, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, ioutil.WriteFile(full, []byte(content), 0644))
	}
	write("topology/physical_package_id", itoa(pkg))
	write("topology/thread_siblings_list", itoa(id)+","+itoa(sibling))
	write("cpufreq/cpuinfo_max_freq", "2400000")

	numaLink := filepath.Join(base, "node"+itoa(numa))
	require.NoError(t, os.MkdirAll(filepath.Dir(numaLink), 0755))
	require.NoError(t, os.Mkdir(numaLink, 0755))

	write("cache/index2/type", "Unified")
	write("cache/index2/level", "2")
	write("cache/index2/id", itoa(l2))
	write("cache/index3/type", "Unified")
	write("cache/index3/level", "3")
	write("cache/index3/id", itoa(l3))
	write("cache/index0/type", "Instruction")
	write("cache/index0/level", "1")
	write("cache/index0/id", itoa(id))
}

func fakeNode(t *testing.T, root string, id int, cpulist, distance, memTotalKB string) {
	t.Helper()
	base := filepath.Join(root, nodePath, "node"+itoa(id))
	require.NoError(t, os.MkdirAll(base, 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(base, "cpulist"), []byte(cpulist), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(base, "distance"), []byte(distance), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(base, "meminfo"),
		[]byte("Node "+itoa(id)+" MemTotal:       "+memTotalKB+" kB\n"), 0644))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func buildFakeHost(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	fakeCPU(t, root, 0, 0, 0, 1, 0, 0)
	fakeCPU(t, root, 1, 0, 0, 0, 0, 0)
	fakeCPU(t, root, 2, 0, 0, 3, 1, 0)
	fakeCPU(t, root, 3, 0, 0, 2, 1, 0)
	fakeCPU(t, root, 4, 1, 1, 5, 2, 1)
	fakeCPU(t, root, 5, 1, 1, 4, 2, 1)
	fakeCPU(t, root, 6, 1, 1, 7, 3, 1)
	fakeCPU(t, root, 7, 1, 1, 6, 3, 1)

	fakeNode(t, root, 0, "0-3", "10 21", "16777216")
	fakeNode(t, root, 1, "4-7", "21 10", "16777216")

	return root
}

func TestDiscoverTopology(t *testing.T) {
	root := buildFakeHost(t)

	cpus, mem, err := Discover(root, Filter{})
	require.NoError(t, err)
	require.Equal(t, 8, cpus.AllowedCount())
	require.Equal(t, 8, cpus.HostCoreCount())

	require.Equal(t, uint64(32768), mem.TotalMB)
	require.Equal(t, uint64(16384), mem.NumaMB(0))
	require.Equal(t, uint64(16384), mem.NumaMB(1))

	core0 := cpus.Core(0)
	require.NotNil(t, core0)
	require.Equal(t, idset.ID(0), core0.NumaID)
	require.True(t, core0.SMTSiblings.Has(1))
	require.True(t, core0.SocketSiblings.Has(2, 3))
	require.False(t, core0.SocketSiblings.Has(0))

	// cpu0 and cpu1 share L2 (distance 10).
	require.Equal(t, 10, cpus.DistanceBetween(0, 1))
	// cpu0 and cpu2 share only the socket's L3 (distance 20).
	require.Equal(t, 20, cpus.DistanceBetween(0, 2))
	// cpu0 and cpu4 share nothing, cross NUMA (L3 depth 20 + numa distance 21).
	require.Equal(t, 41, cpus.DistanceBetween(0, 4))

	// distances from cpu0 are nearest first.
	row := cpus.DistancesFrom(0)
	require.Equal(t, idset.ID(1), row[0].CPUID)
	require.Less(t, row[0].Value, row[len(row)-1].Value)
}

func TestDiscoverTopologyFilter(t *testing.T) {
	root := buildFakeHost(t)

	cpus, _, err := Discover(root, Filter{Exclude: idset.New(4, 5, 6, 7)})
	require.NoError(t, err)
	require.Equal(t, 4, cpus.AllowedCount())
	require.Equal(t, 8, cpus.HostCoreCount())

	for _, c := range cpus.Cores() {
		require.False(t, c.SMTSiblings.Has(4, 5, 6, 7))
		require.False(t, c.SocketSiblings.Has(4, 5, 6, 7))
	}
}

func TestClosestFrom(t *testing.T) {
	root := buildFakeHost(t)
	cpus, _, err := Discover(root, Filter{})
	require.NoError(t, err)

	result := cpus.ClosestFrom([]idset.ID{0, 4}, []idset.ID{1, 2, 3}, 0)
	require.Contains(t, result, idset.ID(0))
	require.Contains(t, result, idset.ID(4))
	require.Less(t, result[0], result[4])
}

func TestClosestFromCeiling(t *testing.T) {
	root := buildFakeHost(t)
	cpus, _, err := Discover(root, Filter{})
	require.NoError(t, err)

	result := cpus.ClosestFrom([]idset.ID{0, 4}, []idset.ID{1, 2, 3}, 25)
	require.Contains(t, result, idset.ID(0))
	require.NotContains(t, result, idset.ID(4))
}

func TestParseIDList(t *testing.T) {
	s, err := parseIDList("0-2,5,7-8")
	require.NoError(t, err)
	require.Equal(t, idset.New(0, 1, 2, 5, 7, 8), s)

	empty, err := parseIDList("")
	require.NoError(t, err)
	require.Equal(t, 0, empty.Size())
}
