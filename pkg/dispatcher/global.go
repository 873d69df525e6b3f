// Package dispatcher implements the global dispatcher: a directory of
// local agent node URLs, a first-fit placement rule over their
// advertised virtual capacity, and the VM -> node map the REST
// /remove handler consults. It is grounded on
// original_source/schedulerglobal/schedulerglobal.py's SchedulerGlobal
// and apirequest/apirequester.py's ApiRequester, translated from
// requests+Flask's implicit JSON dicts into typed structs and an
// http.Client with an explicit per-call deadline.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
	"github.com/jacquetpi/sweetspotvm/pkg/manager"
	"github.com/jacquetpi/sweetspotvm/pkg/metrics"
)

var log = logger.Get("dispatcher")

// downLog rate-limits the "node unreachable" warning: a node that has
// gone down stays down for many consecutive Iterate ticks, and logging
// the same complaint every tick just buries everything else in the
// window it takes maxConsecutiveFailures ticks to actually evict it.
var downLog = logger.RateLimit(log, logger.Interval(30*time.Second))

// MemRatioKey is the JSON object key memory status is always filed
// under, mirroring manager.MemRatio formatted the same way the local
// agent's own /status response renders it.
const MemRatioKey = "1"

// maxConsecutiveFailures bounds how long a node can fail /listvm
// before its knownVM entries are forgotten, so a permanently dead node
// does not keep its last-known VMs pinned forever.
const maxConsecutiveFailures = 3

// nodeStatus mirrors the local agent's GET /status JSON body.
type nodeStatus struct {
	CPU map[string]manager.ManagerStatus `json:"cpu"`
	Mem map[string]manager.ManagerStatus `json:"mem"`
}

type result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// Dispatcher holds the directory of local agent node URLs and the
// last-known VM -> node placement.
type Dispatcher struct {
	mu sync.Mutex

	nodeURLs      []string
	knownVM       map[string]string
	consecutiveFail map[string]int

	client *http.Client
}

// New builds a dispatcher over the given node URLs, tried in order
// for first-fit placement.
func New(nodeURLs []string) *Dispatcher {
	return &Dispatcher{
		nodeURLs:        append([]string(nil), nodeURLs...),
		knownVM:         make(map[string]string),
		consecutiveFail: make(map[string]int),
		client:          &http.Client{Timeout: requestTimeout},
	}
}

const requestTimeout = 3 * time.Second

// Iterate refreshes knownVM from every node's /listvm, and drops a
// node's previously-known VMs once it has failed
// maxConsecutiveFailures times in a row -- the fix to the open
// question of knownVM never forgetting entries.
func (d *Dispatcher) Iterate() {
	begin := time.Now()
	defer func() {
		metrics.IterateDuration.WithLabelValues("dispatcher").Observe(time.Since(begin).Seconds())
		d.mu.Lock()
		metrics.KnownVM.Set(float64(len(d.knownVM)))
		d.mu.Unlock()
	}()

	d.mu.Lock()
	nodes := append([]string(nil), d.nodeURLs...)
	d.mu.Unlock()

	for _, node := range nodes {
		vms, err := d.listVMOn(node)
		d.mu.Lock()
		if err != nil {
			d.consecutiveFail[node]++
			fails := d.consecutiveFail[node]
			if fails >= maxConsecutiveFailures {
				for name, owner := range d.knownVM {
					if owner == node {
						delete(d.knownVM, name)
					}
				}
			}
			d.mu.Unlock()
			downLog.Warn("listvm: node %s unreachable (failure %d): %v", node, fails, err)
			continue
		}
		d.consecutiveFail[node] = 0
		for _, vm := range vms {
			if _, known := d.knownVM[vm]; !known {
				d.knownVM[vm] = node
			}
		}
		d.mu.Unlock()
	}
}

// Status returns every reachable node's status, keyed by node URL,
// for the REST /status fan-out and for Deploy's first-fit match.
// Unreachable nodes are omitted from the result, mirroring
// SchedulerGlobal.status()'s `if val != None`, and logged through the
// rate-limited downLog. The return type is
// interface{} rather than the unexported nodeStatus map so it also
// satisfies restserver.GlobalDispatcher's generic JSON-rendering
// contract.
func (d *Dispatcher) Status() interface{} {
	return d.statusByNode()
}

func (d *Dispatcher) statusByNode() map[string]nodeStatus {
	d.mu.Lock()
	nodes := append([]string(nil), d.nodeURLs...)
	d.mu.Unlock()

	out := make(map[string]nodeStatus, len(nodes))
	for _, node := range nodes {
		st, err := d.statusOf(node)
		if err != nil {
			downLog.Warn("status: node %s unreachable: %v", node, err)
			continue
		}
		out[node] = *st
	}
	return out
}

// ListVM concatenates knownVM's names -- the dispatcher's own view of
// what is deployed, refreshed by Iterate rather than fanned out live
// on every call.
func (d *Dispatcher) ListVM() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.knownVM))
	for name := range d.knownVM {
		names = append(names, name)
	}
	return names
}

// Deploy picks the first node (in configured order) whose CPU and
// memory subsets jointly can accept the VM, and forwards the deploy
// to it.
func (d *Dispatcher) Deploy(name, cpu, mem, oc, qcow2 string) (bool, string) {
	vcpus, err := strconv.ParseFloat(cpu, 64)
	if err != nil {
		return false, "cpu must be a number"
	}
	memGB, err := strconv.ParseFloat(mem, 64)
	if err != nil {
		return false, "mem must be a number"
	}
	ratio, err := strconv.ParseFloat(oc, 64)
	if err != nil {
		return false, "oc must be a number"
	}

	d.mu.Lock()
	nodes := append([]string(nil), d.nodeURLs...)
	d.mu.Unlock()

	ratioKey := formatRatio(ratio)
	memKey := MemRatioKey
	memMB := memGB * 1024

	var chosen string
	for _, node := range nodes {
		st, err := d.statusOf(node)
		if err != nil {
			continue
		}
		if !resourceFits(st.CPU, ratioKey, vcpus) {
			continue
		}
		if !resourceFits(st.Mem, memKey, memMB) {
			continue
		}
		chosen = node
		break
	}
	if chosen == "" {
		return false, "No appropriate node found"
	}

	ok, reason := d.deployOn(chosen, name, cpu, mem, oc, qcow2)
	if ok {
		d.mu.Lock()
		d.knownVM[name] = chosen
		d.mu.Unlock()
	}
	return ok, reason
}

// resourceFits reports whether a node can accept demand virtual units
// at the given ratio key: either an existing subset at that ratio has
// enough spare plus sharable capacity, or the node still has enough
// entirely free physical capacity to seed a new subset.
func resourceFits(byRatio map[string]manager.ManagerStatus, ratioKey string, demand float64) bool {
	for _, numaStatus := range byRatio {
		if sub, ok := numaStatus.Subset[ratioKey]; ok {
			if sub.VAvail+sub.VPotential >= demand {
				return true
			}
		}
		if float64(numaStatus.Avail) >= demand {
			return true
		}
	}
	return false
}

// Remove looks name up in knownVM and forwards the remove to its node.
func (d *Dispatcher) Remove(name string) (bool, string) {
	d.mu.Lock()
	node, ok := d.knownVM[name]
	d.mu.Unlock()
	if !ok {
		return false, "Unregistered VM"
	}

	ok, reason := d.removeFrom(node, name)
	if ok {
		d.mu.Lock()
		delete(d.knownVM, name)
		d.mu.Unlock()
	}
	return ok, reason
}

func formatRatio(ratio float64) string {
	return strconv.FormatFloat(ratio, 'g', -1, 64)
}

func (d *Dispatcher) listVMOn(node string) ([]string, error) {
	var vms []string
	if err := d.getJSON(node+"/listvm", &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

func (d *Dispatcher) statusOf(node string) (*nodeStatus, error) {
	var st nodeStatus
	if err := d.getJSON(node+"/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (d *Dispatcher) deployOn(node, name, cpu, mem, oc, qcow2 string) (bool, string) {
	url := fmt.Sprintf("%s/deploy?name=%s&cpu=%s&mem=%s&oc=%s&qcow2=%s", node, name, cpu, mem, oc, qcow2)
	var res result
	if err := d.getJSON(url, &res); err != nil {
		return false, err.Error()
	}
	return res.Success, res.Reason
}

func (d *Dispatcher) removeFrom(node, name string) (bool, string) {
	url := fmt.Sprintf("%s/remove?name=%s", node, name)
	var res result
	if err := d.getJSON(url, &res); err != nil {
		return false, err.Error()
	}
	return res.Success, res.Reason
}

// getJSON performs a bounded GET and decodes the JSON body into v. No
// retries: the next periodic Iterate resynchronises state.
func (d *Dispatcher) getJSON(url string, v interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}
