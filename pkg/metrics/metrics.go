// Package metrics replaces a prior pkg/instrumentation singleton HTTP
// mux (see DESIGN.md) with a prometheus.Registry plus the handful of
// collectors that matter here -- iteration latency for both process
// kinds, and the capacity numbers already computed for the REST
// /status surface, so an operator can graph them without polling
// /status and parsing JSON.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide collector registry, exposed over
// restserver's /metrics route via promhttp.
var Registry = prometheus.NewRegistry()

// IterateDuration observes how long one control-loop iteration took,
// labeled by process kind ("agent" or "dispatcher").
var IterateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sweetspotvm",
	Name:      "iterate_duration_seconds",
	Help:      "Duration of one control-loop iteration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"component"})

// IterateOverlap counts iterations that ran past their configured
// delay, the same condition agent.Local.Run and the dispatcher loop
// already log a warning for.
var IterateOverlap = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sweetspotvm",
	Name:      "iterate_overlap_total",
	Help:      "Iterations that exceeded their configured period.",
}, []string{"component"})

// NodeAvailCores reports the local agent's last-computed free core
// count per NUMA node, mirroring one field of manager.ManagerStatus.
var NodeAvailCores = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sweetspotvm",
	Name:      "node_avail_cores",
	Help:      "Free physical cores on the last iteration, per NUMA node.",
}, []string{"numa"})

// KnownVM reports the dispatcher's knownVM directory size -- the
// number of VMs it currently believes are deployed somewhere.
var KnownVM = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "sweetspotvm",
	Name:      "dispatcher_known_vm",
	Help:      "VMs currently tracked in the dispatcher's knownVM directory.",
})

func init() {
	Registry.MustRegister(IterateDuration, IterateOverlap, NodeAvailCores, KnownVM)
}
