package subset

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
)

type fakeConnector struct {
	lastTemplate []bool
	lastVM       *domain.Entity
	failUpdate   bool
}

func (f *fakeConnector) BuildPinTemplate(cores []int, hostWidth int) []bool {
	mask := make([]bool, hostWidth)
	for _, c := range cores {
		if c >= 0 && c < hostWidth {
			mask[c] = true
		}
	}
	return mask
}

func (f *fakeConnector) UpdatePin(vm *domain.Entity) error {
	if f.failUpdate {
		return errFakeUpdate
	}
	f.lastVM = vm
	f.lastTemplate = vm.PinMask()[0]
	return nil
}

var errFakeUpdate = errors.New("fake pin update failure")

type fakeMonitor struct {
	usage       *float64
	perConsumer map[string]float64
	err         error
}

func (f *fakeMonitor) LoadSubset(t float64, s Subset) (*float64, map[string]float64, error) {
	return f.usage, f.perConsumer, f.err
}

func newVM(t *testing.T, name string, vcpus int) *domain.Entity {
	t.Helper()
	vm, err := domain.New(domain.Params{Name: name, VCPUs: vcpus, MemKB: 1024 * 1024, CPURatio: 1.0})
	require.NoError(t, err)
	vm.SetUUID(name + "-uuid")
	return vm
}

func TestCPUSubsetDeployPinsAndRegisters(t *testing.T) {
	conn := &fakeConnector{}
	s := NewCPUSubset(idset.ID(0), oversub.New(2.0, 0), []int{0, 1, 2, 3}, 8, conn, nil)
	vm := newVM(t, "vm1", 2)

	ok := s.Deploy(vm)
	require.True(t, ok)
	require.True(t, s.HasVM(vm))
	require.Equal(t, vm, conn.lastVM)
	require.Equal(t, []bool{true, true, true, true, false, false, false, false}, conn.lastTemplate)
}

func TestCPUSubsetAddRemoveResource(t *testing.T) {
	s := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 4, &fakeConnector{}, nil)
	s.AddResource(2)
	require.Equal(t, []int{0, 1, 2}, s.Resources())
	s.AddResource(2) // idempotent
	require.Equal(t, []int{0, 1, 2}, s.Resources())
	s.RemoveResource(1)
	require.Equal(t, []int{0, 2}, s.Resources())
}

func TestCPUSubsetUnusedAndAdditional(t *testing.T) {
	s := NewCPUSubset(idset.ID(0), oversub.New(2.0, 0), []int{0, 1, 2, 3, 4, 5, 6, 7}, 8, &fakeConnector{}, nil)
	vm := newVM(t, "big", 6)
	require.True(t, s.Deploy(vm))

	// capacity=8, ratio=2.0, allocation=6, n=1: available virtual = 16-6=10,
	// unused physical floor = floor(10/2)=5, clamped to capacity-maxConsumer=2.
	require.Equal(t, 2, s.UnusedResources())

	small := newVM(t, "small", 20)
	needed := s.AdditionalNeeded(small)
	require.Greater(t, needed, 0)
}

func TestCPUSubsetStatus(t *testing.T) {
	s := NewCPUSubset(idset.ID(1), oversub.New(1.0, 0), []int{0, 1}, 4, &fakeConnector{}, nil)
	st := s.Status()
	require.Equal(t, 2, st.PCap)
	require.Equal(t, 0, st.PAlloc)
	require.Equal(t, 2.0, st.VAvail)
}

func TestCPUSubsetMonitoring(t *testing.T) {
	usage := 0.5
	mon := &fakeMonitor{usage: &usage, perConsumer: map[string]float64{"vm1-uuid": 0.5}}
	s := NewCPUSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 4, &fakeConnector{}, mon)
	got, perConsumer, cleanNeeded, err := s.UpdateMonitoring(10)
	require.NoError(t, err)
	require.False(t, cleanNeeded)
	require.Equal(t, 0.5, *got)
	require.Equal(t, 0.5, perConsumer["vm1-uuid"])
}
