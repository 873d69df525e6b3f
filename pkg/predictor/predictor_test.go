package predictor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstCallPassesThroughCurrentResources(t *testing.T) {
	p := New(Config{MonitoringWindow: 100, MonitoringLearning: 10, MonitoringLeeway: 8})
	got := p.Predict(0, 16, 4, 2.0)
	require.Equal(t, 16, got)
}

func TestBufferNotFullPassesThroughLastPrediction(t *testing.T) {
	p := New(Config{MonitoringWindow: 100, MonitoringLearning: 10, MonitoringLeeway: 8})
	p.Predict(0, 16, 4, 2.0)
	// Second call, short elapsed time and metric below last prediction: neither
	// safeguard nor buffer-full trips, so the previous prediction is repeated.
	got := p.Predict(1, 16, 4, 1.0)
	require.Equal(t, 16, got)
}

func TestSafeguardGrowsFast(t *testing.T) {
	p := New(Config{MonitoringWindow: 100, MonitoringLearning: 1000, MonitoringLeeway: 8})
	p.Predict(0, 16, 4, 2.0) // first call -> lastPrediction = 16... already at capacity
	// Build a scenario where lastPrediction starts low via a second predictor.
	p2 := New(Config{MonitoringWindow: 100, MonitoringLearning: 1000, MonitoringLeeway: 8})
	p2.Predict(0, 16, 4, 2.0)
	p2.lastPrediction = floatPtr(4)
	got := p2.Predict(1, 16, 4, 5.0) // ceil(5) >= 4 trips safeguard
	require.Equal(t, 9, got)         // ceil(4+5)=9, below capacity 16
}

func TestSafeguardClampsToCurrentResources(t *testing.T) {
	p := New(Config{MonitoringWindow: 100, MonitoringLearning: 1000, MonitoringLeeway: 8})
	p.Predict(0, 10, 4, 1.0)
	p.lastPrediction = floatPtr(8)
	got := p.Predict(1, 10, 4, 9.0) // ceil(8+5)=13, clamped to 10
	require.Equal(t, 10, got)
}

func floatPtr(v float64) *float64 { return &v }
