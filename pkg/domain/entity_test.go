package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, p Params) *Entity {
	t.Helper()
	e, err := New(p)
	require.NoError(t, err)
	return e
}

func TestNewRequiresFields(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)

	_, err = New(Params{Name: "vm1", VCPUs: 0, MemKB: 1024, CPURatio: 1})
	require.Error(t, err)

	_, err = New(Params{Name: "vm1", VCPUs: 2, MemKB: 0, CPURatio: 1})
	require.Error(t, err)

	e, err := New(Params{Name: "vm1", VCPUs: 2, MemKB: 2048, CPURatio: 1.5})
	require.NoError(t, err)
	require.False(t, e.IsDeployed())
	require.Equal(t, uint64(2), e.MemMB())
}

func TestSetPinMask(t *testing.T) {
	e := mustNew(t, Params{Name: "vm1", VCPUs: 2, MemKB: 1024, CPURatio: 1})
	e.SetPinMask([]bool{true, false, true, false})
	require.Len(t, e.PinMask(), 2)
	require.Equal(t, []bool{true, false, true, false}, e.PinMask()[0])
	require.Equal(t, e.PinMask()[0], e.PinMask()[1])

	agg := e.PinMaskAggregated()
	require.True(t, agg[0])
	require.False(t, agg[1])
	require.True(t, agg[2])
}

func TestUsage(t *testing.T) {
	e := mustNew(t, Params{Name: "vm1", VCPUs: 2, MemKB: 1024, CPURatio: 1})
	_, err := e.Usage(1_000_000_000, 500)
	require.Error(t, err, "no prior sample")

	e.SetTime(0, 0, 0, 0)
	usage, err := e.Usage(1_000_000_000, 1_000_000_000)
	require.NoError(t, err)
	require.InDelta(t, 0.5, usage, 0.0001)

	// Clamp to 1 when the elapsed CPU time exceeds wall time*vcpus.
	e.SetTime(0, 0, 0, 0)
	usage, err = e.Usage(1_000_000_000, 10_000_000_000)
	require.NoError(t, err)
	require.Equal(t, 1.0, usage)
}

func TestUsageRejectsRegression(t *testing.T) {
	e := mustNew(t, Params{Name: "vm1", VCPUs: 1, MemKB: 1024, CPURatio: 1})
	e.SetTime(0, 1000, 0, 0)
	_, err := e.Usage(1_000_000_000, 500)
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := mustNew(t, Params{Name: "vm1", VCPUs: 2, MemKB: 2048, CPURatio: 1})
	b := mustNew(t, Params{Name: "vm1", VCPUs: 2, MemKB: 2048, CPURatio: 2})
	require.True(t, a.Equal(b), "same name/vcpu/mem is equal regardless of ratio")

	c := mustNew(t, Params{Name: "vm2", VCPUs: 2, MemKB: 2048, CPURatio: 1})
	require.False(t, a.Equal(c))

	a.SetUUID("abc")
	d := mustNew(t, Params{Name: "other", VCPUs: 4, MemKB: 4096, CPURatio: 1})
	d.SetUUID("abc")
	require.True(t, a.Equal(d), "same uuid is equal regardless of other fields")
}

func TestClearTime(t *testing.T) {
	e := mustNew(t, Params{Name: "vm1", VCPUs: 1, MemKB: 1024, CPURatio: 1})
	require.False(t, e.HasTime())
	e.SetTime(1, 2, 3, 4)
	require.True(t, e.HasTime())
	e.ClearTime()
	require.False(t, e.HasTime())
}
