package dataendpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

type noopPinApplier struct{}

func (noopPinApplier) BuildPinTemplate(cores []int, hostWidth int) []bool {
	return make([]bool, hostWidth)
}
func (noopPinApplier) UpdatePin(vm *domain.Entity) error { return nil }

type stubGlobalSource struct {
	res string
	cap int
}

func (s stubGlobalSource) ResName() string { return s.res }
func (s stubGlobalSource) Capacity() int   { return s.cap }

func TestPoolMirrorsLoadsToSaver(t *testing.T) {
	in := writeTrace(t,
		"0\tsubset\tcpu\t0.5\t8\tsubset-2\tNone\tNone\t2\t3\t{}",
		"0\tvm\tcpu\t0.8\t1\tsubset-2\tuuid-1\tvm1\t2\tNone\tNone",
		"0\tglobal\tcpu\t0.4\t16\tNone\tNone\tNone\tNone\tNone\tNone",
	)
	loader, err := NewCSVEndpoint(in, "")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.csv")
	saver, err := NewCSVEndpoint("", out)
	require.NoError(t, err)

	pool := NewPool(loader, saver)

	policy := oversub.New(2, 0)
	s := subset.NewCPUSubset(idset.ID(0), policy, []int{0, 1}, 8, noopPinApplier{}, nil)
	vm, err := domain.New(domain.Params{Name: "vm1", VCPUs: 1, MemKB: 1024 * 1024, CPURatio: 1.0, UUID: "uuid-1"})
	require.NoError(t, err)
	require.True(t, s.Deploy(vm))

	usage, perConsumer, err := pool.LoadSubset(0, s)
	require.NoError(t, err)
	require.NotNil(t, usage)
	require.InDelta(t, 0.8, perConsumer["uuid-1"], 1e-9)

	_, err = pool.LoadGlobal(0, stubGlobalSource{res: "cpu", cap: 16})
	require.NoError(t, err)

	require.NoError(t, saver.Close())
}

func TestPoolWithoutSaverPassesThrough(t *testing.T) {
	in := writeTrace(t, "0\tglobal\tcpu\t0.4\t16\tNone\tNone\tNone\tNone\tNone\tNone")
	loader, err := NewCSVEndpoint(in, "")
	require.NoError(t, err)

	pool := NewPool(loader, nil)
	val, err := pool.LoadGlobal(0, stubGlobalSource{res: "cpu", cap: 16})
	require.NoError(t, err)
	require.NotNil(t, val)
	require.InDelta(t, 0.4, *val, 1e-9)
}
