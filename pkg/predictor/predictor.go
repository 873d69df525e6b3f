// Package predictor implements the active-window predictor an
// elastic CPU subset uses to decide how many of its
// physical cores should be handed out as a pin template at any given
// moment.
package predictor

import (
	"math"
	"sort"
	"sync"
)

// Config holds the three monitoring knobs the predictor needs, all in
// the same time unit as the timestamps passed to Predict (seconds
// since an arbitrary epoch).
type Config struct {
	MonitoringWindow   float64 // how far back trained-model records are kept
	MonitoringLearning float64 // buffer duration before a new model is trained
	MonitoringLeeway   int     // margin added to a freshly trained prediction
}

type features struct {
	min, max, mean, std, median float64
}

type record struct {
	peak     float64
	features features
}

// CSOAA is an active-resource predictor. It keeps a rolling buffer of
// usage samples and, once the buffer spans the configured learning
// window, estimates the next peak from summary-statistic features.
//
// This is a from-scratch Go reimplementation of the prediction
// control flow, not a binding to a specific machine-learning runtime:
// the trained-model branch here is an inverse-distance-weighted
// average of the peaks of every retained record, over the same five
// summary-statistic features. It is not a cost-sensitive
// one-against-all classifier: no over- or under-provisioning cost is
// applied, and every record contributes (there is no k-nearest cutoff).
type CSOAA struct {
	mu  sync.Mutex
	cfg Config

	modelRecords map[float64]record
	lastFeatures *features

	bufferTimestamp *float64
	bufferRecords   []float64

	lastPrediction *float64
	lastAllocation int
}

// New builds a predictor against cfg. cfg's fields must all be
// positive; callers are expected to source them once at startup from
// configuration.
func New(cfg Config) *CSOAA {
	return &CSOAA{
		cfg:          cfg,
		modelRecords: make(map[float64]record),
	}
}

// Predict returns the number of physical resources that should be
// active for the next monitoring tick, given the subset's current
// physical resource count, its total allocation (vCPUs handed out to
// consumers) and the latest observed usage metric (peak vCPU usage
// within the last tick).
func (p *CSOAA) Predict(timestamp float64, currentResources int, allocation int, metric float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bufferTimestamp == nil {
		t := timestamp
		p.bufferTimestamp = &t
	}
	p.bufferRecords = append(p.bufferRecords, metric)

	firstCall := p.lastPrediction == nil
	safeguard := !firstCall && currentResources > 0 && math.Ceil(metric) >= *p.lastPrediction
	bufferFull := !firstCall && (timestamp-*p.bufferTimestamp) >= p.cfg.MonitoringLearning

	p.lastAllocation = allocation

	if firstCall {
		v := float64(currentResources)
		p.lastPrediction = &v
		return currentResources
	}

	if !safeguard && !bufferFull {
		return int(math.Ceil(*p.lastPrediction))
	}

	var prediction float64
	if safeguard {
		prediction = math.Ceil(*p.lastPrediction + 5)
	} else {
		prediction = p.predictOnNewModel(timestamp, currentResources, p.bufferRecords)
		prediction = math.Ceil(prediction + float64(p.cfg.MonitoringLeeway))
		p.bufferTimestamp = nil
		p.bufferRecords = nil
	}
	if prediction > float64(currentResources) {
		prediction = float64(currentResources)
	}
	p.lastPrediction = &prediction
	return int(prediction)
}

func (p *CSOAA) predictOnNewModel(timestamp float64, currentResources int, metrics []float64) float64 {
	if p.lastFeatures != nil {
		p.addRecord(timestamp, peak(metrics), *p.lastFeatures)
	}
	current := generateFeatures(metrics)
	p.lastFeatures = &current

	if currentResources <= 0 || !p.containsEnoughData() {
		return float64(currentResources)
	}

	prediction := p.weightedPeakEstimate(current)
	return prediction + stddev(metrics)
}

// weightedPeakEstimate is the trained-model step: a distance-weighted
// average of historical peaks, weighted so records whose features are
// closer to the current tick's features dominate the estimate. This
// plays the role the cost-sensitive classifier plays in predicting
// which resource-count bucket the next peak lands in.
func (p *CSOAA) weightedPeakEstimate(current features) float64 {
	var weightedSum, weightTotal float64
	for _, rec := range p.modelRecords {
		d := featureDistance(current, rec.features)
		w := 1.0 / (1.0 + d)
		weightedSum += w * rec.peak
		weightTotal += w
	}
	if weightTotal == 0 {
		return current.max
	}
	return weightedSum / weightTotal
}

func (p *CSOAA) addRecord(timestamp float64, peakUsage float64, f features) {
	p.modelRecords[timestamp] = record{peak: peakUsage, features: f}
	for ts := range p.modelRecords {
		if ts < timestamp-p.cfg.MonitoringWindow {
			delete(p.modelRecords, ts)
		}
	}
}

func (p *CSOAA) containsEnoughData() bool {
	if len(p.modelRecords) == 0 {
		return false
	}
	var minTs, maxTs float64
	first := true
	for ts := range p.modelRecords {
		if first {
			minTs, maxTs = ts, ts
			first = false
			continue
		}
		if ts < minTs {
			minTs = ts
		}
		if ts > maxTs {
			maxTs = ts
		}
	}
	covered := maxTs - minTs
	return covered >= (p.cfg.MonitoringWindow - p.cfg.MonitoringLearning*2)
}

func generateFeatures(metrics []float64) features {
	return features{
		min:    minOf(metrics),
		max:    maxOf(metrics),
		mean:   mean(metrics),
		std:    stddev(metrics),
		median: median(metrics),
	}
}

func featureDistance(a, b features) float64 {
	d := func(x, y float64) float64 { return (x - y) * (x - y) }
	return math.Sqrt(d(a.min, b.min) + d(a.max, b.max) + d(a.mean, b.mean) + d(a.std, b.std) + d(a.median, b.median))
}

func peak(metrics []float64) float64 { return maxOf(metrics) }

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
