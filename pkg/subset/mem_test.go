package subset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
)

func TestMemSubsetCapacityIsSumOfRanges(t *testing.T) {
	s := NewMemSubset(idset.ID(0), oversub.New(1.0, 0), []Range{{LowMB: 0, HighMB: 1024}, {LowMB: 2048, HighMB: 4096}}, nil)
	require.Equal(t, 1024+2048, s.Capacity())
}

func TestMemSubsetDeployNeedsNoPinning(t *testing.T) {
	s := NewMemSubset(idset.ID(0), oversub.New(1.0, 0), []Range{{LowMB: 0, HighMB: 8192}}, nil)
	vm := newVM(t, "vm-mem", 2)
	require.True(t, s.Deploy(vm))
	require.True(t, s.HasVM(vm))
	require.Equal(t, int(vm.MemMB()), s.Allocation())
}

func TestMemSubsetAddRange(t *testing.T) {
	s := NewMemSubset(idset.ID(0), oversub.New(1.0, 0), nil, nil)
	require.Equal(t, 0, s.Capacity())
	s.AddRange(Range{LowMB: 0, HighMB: 512})
	require.Equal(t, 512, s.Capacity())
}
