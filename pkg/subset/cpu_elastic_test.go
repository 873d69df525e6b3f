package subset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/oversub"
	"github.com/jacquetpi/sweetspotvm/pkg/predictor"
)

func TestCPUElasticSubsetFirstTickUsesFullWindow(t *testing.T) {
	conn := &fakeConnector{}
	usage := 2.0
	mon := &fakeMonitor{usage: &usage, perConsumer: map[string]float64{}}
	pred := predictor.New(predictor.Config{MonitoringWindow: 100, MonitoringLearning: 1000, MonitoringLeeway: 8})
	s := NewCPUElasticSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1, 2, 3}, 8, conn, mon, pred, 100)

	vm := newVM(t, "vm1", 2)
	require.True(t, s.Deploy(vm))
	require.Equal(t, []int{0, 1, 2, 3}, s.ActiveResources())
	mon.perConsumer[vm.UUID()] = 2.0

	_, _, cleanNeeded, err := s.UpdateMonitoring(0)
	require.NoError(t, err)
	require.False(t, cleanNeeded)
	// predictor's first call always passes through currentResources (4).
	require.Len(t, s.ActiveResources(), 4)
}

func TestCPUElasticSubsetRemoveConsumerForgetsHistory(t *testing.T) {
	conn := &fakeConnector{}
	mon := &fakeMonitor{usage: nil, perConsumer: map[string]float64{}}
	pred := predictor.New(predictor.Config{MonitoringWindow: 100, MonitoringLearning: 1000, MonitoringLeeway: 8})
	s := NewCPUElasticSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 4, conn, mon, pred, 100)

	vm := newVM(t, "vm1", 1)
	require.True(t, s.Deploy(vm))
	s.mu.Lock()
	s.histConsumersUsage[vm.UUID()] = []timedValue{{t: 0, value: 0.5}}
	s.mu.Unlock()

	s.RemoveConsumer(vm)
	s.mu.RLock()
	_, ok := s.histConsumersUsage[vm.UUID()]
	s.mu.RUnlock()
	require.False(t, ok)
	require.False(t, s.HasVM(vm))
}

func TestCPUElasticSubsetAddRemoveResourceUpdatesActiveWindow(t *testing.T) {
	s := NewCPUElasticSubset(idset.ID(0), oversub.New(1.0, 0), []int{0, 1}, 4, &fakeConnector{}, nil, nil, 100)
	s.activeRes = []int{0, 1}
	s.RemoveResource(1)
	require.Equal(t, []int{0}, s.Resources())
	require.Equal(t, []int{0}, s.ActiveResources())
}
