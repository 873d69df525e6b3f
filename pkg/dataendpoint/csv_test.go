package dataendpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

func writeTrace(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.csv")
	content := Header + "\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVEndpointLoadsSubsetAndVMRows(t *testing.T) {
	path := writeTrace(t,
		"0\tsubset\tcpu\t0.5\t8\tsubset-2\tNone\tNone\t2\t3\t{}",
		"0\tvm\tcpu\t0.8\t2\tsubset-2\tuuid-1\tvm1\t2\tNone\tNone",
	)
	e, err := NewCSVEndpoint(path, "")
	require.NoError(t, err)

	policy := oversub.New(2, 0)
	s := subset.NewCPUSubset(idset.ID(0), policy, []int{0, 1}, 8, nil, nil)

	usage, perConsumer, err := e.LoadSubset(0, s)
	require.NoError(t, err)
	require.NotNil(t, usage)
	require.InDelta(t, 0.5, *usage, 1e-9)
	require.InDelta(t, 0.8, perConsumer["uuid-1"], 1e-9)
}

func TestCSVEndpointRejectsMalformedRow(t *testing.T) {
	path := writeTrace(t, "0\tsubset\tcpu\t0.5\t8\tsubset-2")
	_, err := NewCSVEndpoint(path, "")
	require.Error(t, err)
}

func TestCSVEndpointDeployedAndDestroyedOn(t *testing.T) {
	// vm1 is only ever seen at t=0 (it departs before t=10); vm2
	// survives into t=10. Destruction is detected one timestamp late,
	// mirroring the trace's own departure-detection rule.
	path := writeTrace(t,
		"0\tvm\tcpu\t0.1\t2\tsubset-1\tuuid-1\tvm1\t1\tNone\tNone",
		"0\tvm\tmem\t0.1\t1024\tsubset-1\tuuid-1\tvm1\t1\tNone\tNone",
		"0\tvm\tcpu\t0.1\t2\tsubset-1\tuuid-2\tvm2\t1\tNone\tNone",
		"0\tvm\tmem\t0.1\t1024\tsubset-1\tuuid-2\tvm2\t1\tNone\tNone",
		"10\tvm\tcpu\t0.2\t2\tsubset-1\tuuid-2\tvm2\t1\tNone\tNone",
		"10\tvm\tmem\t0.2\t1024\tsubset-1\tuuid-2\tvm2\t1\tNone\tNone",
	)
	e, err := NewCSVEndpoint(path, "")
	require.NoError(t, err)

	deployed := e.DeployedOn(0)
	require.Len(t, deployed, 2)

	destroyed := e.DestroyedOn(10)
	require.Len(t, destroyed, 1)
	require.Equal(t, "uuid-1", destroyed[0].UUID())
}

func TestCSVEndpointStoreRoundTrips(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	e, err := NewCSVEndpoint("", out)
	require.NoError(t, err)

	val := 0.3
	require.NoError(t, e.Store(NewGlobalRecord(5, "cpu", &val, 16)))
	require.NoError(t, e.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Equal(t, Header, lines[0])
	require.Contains(t, lines[1], "global\tcpu\t0.3\t16")
}
