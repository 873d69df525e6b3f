// Package agent implements the local agent's outer control loop: the
// live periodic iterate(t) driver, the trace-driven replay driver, and
// the deploy/remove/status operations the REST surface calls into. It
// owns nothing about subset mechanics itself -- all of
// that lives in pkg/manager -- it only sequences calls into a
// manager.Pool the way schedulerlocal.py's run()/__iteration() do.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jacquetpi/sweetspotvm/pkg/dataendpoint"
	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
	"github.com/jacquetpi/sweetspotvm/pkg/manager"
	"github.com/jacquetpi/sweetspotvm/pkg/metrics"
)

var log = logger.Get("agent")

// Local is one host's agent: a manager.Pool plus the driver loop and
// REST-facing operations around it.
type Local struct {
	pool      *manager.Pool
	connector hypervisor.Connector
	delay     float64

	lastStatus string
}

// NewLocal builds a Local agent around an already-populated pool
// (AddNode called for every discovered NUMA node).
func NewLocal(pool *manager.Pool, connector hypervisor.Connector, delay float64) *Local {
	return &Local{pool: pool, connector: connector, delay: delay}
}

// Deploy builds a VM descriptor from REST-surface parameters and
// places it. memKB is already converted from the public GB surface
// by the caller.
func (l *Local) Deploy(name string, vcpus int, memKB uint64, ratio float64, diskPath string) (bool, string) {
	if ratio < 1.0 {
		return false, "oversubscription ratio must be >= 1.0"
	}
	vm, err := domain.New(domain.Params{
		Name:     name,
		VCPUs:    vcpus,
		MemKB:    memKB,
		CPURatio: ratio,
		DiskPath: diskPath,
	})
	if err != nil {
		return false, err.Error()
	}
	return l.pool.Deploy(vm)
}

// Remove looks the VM up by name and asks the pool to remove it.
func (l *Local) Remove(name string) (bool, string) {
	vm, ok := l.pool.FindVM(name)
	if !ok {
		return false, fmt.Sprintf("no such vm %q", name)
	}
	return l.pool.Remove(vm)
}

// ListVM answers GET /listvm.
func (l *Local) ListVM() []string { return l.pool.ListVM() }

// Status answers GET /status.
func (l *Local) Status() map[string]map[idset.ID]manager.ManagerStatus { return l.pool.Status() }

// Run drives the live periodic iterate(t) loop until ctx is
// cancelled, matching schedulerlocal.py's run() timing: t is seconds
// since the loop started, sleeping delay-elapsed between iterations
// and logging (never blocking on) an overlap when an iteration runs
// long.
func (l *Local) Run(ctx context.Context) {
	launch := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		begin := time.Now()
		t := begin.Sub(launch).Seconds()

		if err := l.pool.Iterate(t); err != nil {
			log.Warn("iterate(%.3f): %v", t, err)
		}
		l.logStatusIfChanged()
		l.observeNodeAvail()

		elapsed := time.Since(begin)
		metrics.IterateDuration.WithLabelValues("agent").Observe(elapsed.Seconds())
		sleep := time.Duration(l.delay*float64(time.Second)) - elapsed
		if sleep <= 0 {
			metrics.IterateOverlap.WithLabelValues("agent").Inc()
			log.Warn("overlap iteration, %.3fs over budget", -sleep.Seconds())
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Replay drives one full pass over a loaded CSV trace: at each
// timestamp in ascending order, deploy arrivals, remove departures,
// then run one iterate. Replay VMs already carry their trace UUID
// (domain.Entity.IsDeployed is true), so Pool.Deploy never calls the
// connector's CreateVM for them; departures do go through Pool.Remove,
// which calls the connector's DeleteVM for each one.
func (l *Local) Replay(trace *dataendpoint.CSVEndpoint) {
	for _, t := range trace.Timestamps() {
		for _, vm := range trace.DeployedOn(t) {
			ok, reason := l.pool.Deploy(vm)
			log.Info("replay: deploy %s -> %v %s", vm.Name(), ok, reason)
		}
		for _, vm := range trace.DestroyedOn(t) {
			if found, ok := l.pool.FindVM(vm.Name()); ok {
				l.pool.Remove(found)
			}
		}
		if err := l.pool.Iterate(t); err != nil {
			log.Warn("replay iterate(%.3f): %v", t, err)
		}
	}
	log.Info("replay: gracefully exiting")
}

// logStatusIfChanged prints the textual status only when it differs
// from the previous iteration's.
func (l *Local) logStatusIfChanged() {
	text := fmt.Sprintf("%+v", l.pool.Status())
	if text == l.lastStatus {
		return
	}
	l.lastStatus = text
	log.Info("status: %s", text)
}

// observeNodeAvail feeds metrics.NodeAvailCores from the CPU manager's
// avail field of each NUMA node's status, so the same number that
// would otherwise only be visible by polling /status and parsing JSON
// is also scrapeable.
func (l *Local) observeNodeAvail() {
	for numaID, st := range l.pool.Status()["cpu"] {
		metrics.NodeAvailCores.WithLabelValues(strconv.Itoa(int(numaID))).Set(float64(st.Avail))
	}
}
