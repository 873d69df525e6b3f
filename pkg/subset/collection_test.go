package subset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
)

func TestCollectionAddRejectsKindMismatch(t *testing.T) {
	c := NewCollection(ResourceCPU)
	mem := NewMemSubset(idset.ID(0), oversub.New(1.0, 0), nil, nil)
	require.Error(t, c.AddSubset(mem))
}

func TestCollectionAddRejectsDuplicateRatio(t *testing.T) {
	c := NewCollection(ResourceCPU)
	a := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 4, &fakeConnector{}, nil)
	b := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{2, 3}, 4, &fakeConnector{}, nil)
	require.NoError(t, c.AddSubset(a))
	require.Error(t, c.AddSubset(b))
}

func TestCollectionConsumersSpansAllSubsets(t *testing.T) {
	c := NewCollection(ResourceCPU)
	a := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 4, &fakeConnector{}, nil)
	b := NewCPUSubset(idset.ID(0), oversub.New(2.0, 0), []int{2, 3}, 4, &fakeConnector{}, nil)
	require.NoError(t, c.AddSubset(a))
	require.NoError(t, c.AddSubset(b))

	vm1 := newVM(t, "vm1", 1)
	vm2 := newVM(t, "vm2", 1)
	require.True(t, a.Deploy(vm1))
	require.True(t, b.Deploy(vm2))

	consumers := c.Consumers()
	require.Len(t, consumers, 2)
}

func TestAllConsumersSpansMultipleNumaCollections(t *testing.T) {
	node0 := NewCollection(ResourceCPU)
	node1 := NewCollection(ResourceCPU)
	s0 := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 8, &fakeConnector{}, nil)
	s1 := NewCPUSubset(idset.ID(1), oversub.New(1.0, 0), []int{4, 5}, 8, &fakeConnector{}, nil)
	require.NoError(t, node0.AddSubset(s0))
	require.NoError(t, node1.AddSubset(s1))

	vmA := newVM(t, "vmA", 1)
	vmB := newVM(t, "vmB", 1)
	require.True(t, s0.Deploy(vmA))
	require.True(t, s1.Deploy(vmB))

	all := AllConsumers(node0, node1)
	require.Len(t, all, 2)
}

func TestCollectionCapacity(t *testing.T) {
	c := NewCollection(ResourceCPU)
	a := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1, 2}, 4, &fakeConnector{}, nil)
	require.NoError(t, c.AddSubset(a))
	require.Equal(t, 3, c.Capacity())
}
