package dataendpoint

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// vmSample is one "rec=vm" row's (uuid, value) pair for a given
// resource/subset/timestamp.
type vmSample struct {
	uuid string
	val  *float64
}

// vmSpec accumulates everything read about one VM across its "rec=vm"
// rows, enough to reconstruct a domain.Entity and its lifetime.
type vmSpec struct {
	name      string
	cpuRatio  float64
	cpuConfig float64
	memConfig float64
	hasCPU    bool
	hasMem    bool
	tmpFirst  float64
	tmpLast   float64
}

// CSVEndpoint loads a tab-separated trace and/or appends records to
// an output trace. Loading happens once, eagerly, at
// construction: replay trials resample the same in-memory trace many
// times, so the parse cost is paid once up front instead of per read.
type CSVEndpoint struct {
	mu sync.Mutex

	hasInput bool

	timestamps  []float64
	global      map[string]map[float64]*float64
	subsetUsage map[string]map[string]map[float64]*float64
	vmUsage     map[string]map[string]map[float64][]vmSample
	vmSpec      map[string]*vmSpec

	outFile *os.File
}

// NewCSVEndpoint opens inputPath for reading (if non-empty) and
// outputPath for writing (if non-empty, truncated and given a fresh
// header). A present-or-absent input/output file is what decides
// whether "load" and "save" are
// independently optional.
func NewCSVEndpoint(inputPath, outputPath string) (*CSVEndpoint, error) {
	e := &CSVEndpoint{
		global:      map[string]map[float64]*float64{"cpu": {}, "mem": {}},
		subsetUsage: map[string]map[string]map[float64]*float64{"cpu": {}, "mem": {}},
		vmUsage:     map[string]map[string]map[float64][]vmSample{"cpu": {}, "mem": {}},
		vmSpec:      map[string]*vmSpec{},
	}
	if inputPath != "" {
		if err := e.loadInput(inputPath); err != nil {
			return nil, err
		}
		e.hasInput = true
	}
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, errors.Wrap(err, "dataendpoint: create output trace")
		}
		if _, err := f.WriteString(Header + "\n"); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "dataendpoint: write trace header")
		}
		e.outFile = f
	}
	return e, nil
}

func (e *CSVEndpoint) loadInput(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "dataendpoint: open trace")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	seen := map[float64]bool{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue // header
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 11 {
			return schederr.New(schederr.TraceFormat, "trace line %d: expected 11 columns, got %d", lineNo, len(cols))
		}

		tmp, err := strconv.ParseFloat(cols[0], 64)
		if err != nil {
			return schederr.New(schederr.TraceFormat, "trace line %d: bad timestamp %q", lineNo, cols[0])
		}
		rec, res := cols[1], cols[2]
		val, err := parseOptFloat(cols[3])
		if err != nil {
			return schederr.New(schederr.TraceFormat, "trace line %d: bad val %q", lineNo, cols[3])
		}
		config, err := strconv.ParseFloat(cols[4], 64)
		if err != nil {
			return schederr.New(schederr.TraceFormat, "trace line %d: bad config %q", lineNo, cols[4])
		}
		subsetID, vmUUID, vmCmn, sbOC := cols[5], cols[6], cols[7], cols[8]

		if !seen[tmp] {
			seen[tmp] = true
			e.timestamps = append(e.timestamps, tmp)
		}

		switch rec {
		case recGlobal:
			if e.global[res] == nil {
				e.global[res] = map[float64]*float64{}
			}
			e.global[res][tmp] = val
		case recSubset:
			e.subsetMap(res, subsetID)[tmp] = val
			e.ensureVMMap(res, subsetID, tmp)
		case recVM:
			e.ensureVMMap(res, subsetID, tmp)
			e.vmUsage[res][subsetID][tmp] = append(e.vmUsage[res][subsetID][tmp], vmSample{uuid: vmUUID, val: val})

			spec := e.vmSpec[vmUUID]
			if spec == nil {
				spec = &vmSpec{}
				e.vmSpec[vmUUID] = spec
			}
			spec.name = vmCmn
			switch res {
			case "cpu":
				spec.cpuRatio = parseFloatOrZero(sbOC)
				spec.cpuConfig = config
				if !spec.hasCPU {
					spec.tmpFirst = tmp
				}
				spec.tmpLast = tmp
				spec.hasCPU = true
			case "mem":
				spec.memConfig = config
				spec.hasMem = true
			}
		default:
			return schederr.New(schederr.TraceFormat, "trace line %d: unknown record kind %q", lineNo, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "dataendpoint: read trace")
	}
	sort.Float64s(e.timestamps)
	return nil
}

func (e *CSVEndpoint) subsetMap(res, subsetID string) map[float64]*float64 {
	if e.subsetUsage[res] == nil {
		e.subsetUsage[res] = map[string]map[float64]*float64{}
	}
	if e.subsetUsage[res][subsetID] == nil {
		e.subsetUsage[res][subsetID] = map[float64]*float64{}
	}
	return e.subsetUsage[res][subsetID]
}

func (e *CSVEndpoint) ensureVMMap(res, subsetID string, tmp float64) {
	if e.vmUsage[res] == nil {
		e.vmUsage[res] = map[string]map[float64][]vmSample{}
	}
	if e.vmUsage[res][subsetID] == nil {
		e.vmUsage[res][subsetID] = map[float64][]vmSample{}
	}
	if _, ok := e.vmUsage[res][subsetID][tmp]; !ok {
		e.vmUsage[res][subsetID][tmp] = nil
	}
}

func parseOptFloat(s string) (*float64, error) {
	if s == "None" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// LoadSubset returns the loaded subset/vm usage at timestamp t, per
// subset.Monitor's contract.
func (e *CSVEndpoint) LoadSubset(t float64, s subset.Subset) (*float64, map[string]float64, error) {
	if !e.hasInput {
		return nil, nil, errors.New("dataendpoint: no input trace loaded")
	}
	res := string(s.ResourceKind())
	subsetID := subsetRecordID(s.OversubID())

	e.mu.Lock()
	defer e.mu.Unlock()

	usage := e.subsetUsage[res][subsetID][t]
	samples := e.vmUsage[res][subsetID][t]
	perConsumer := make(map[string]float64, len(samples))
	for _, sample := range samples {
		if sample.val != nil {
			perConsumer[sample.uuid] = *sample.val
		}
	}
	return usage, perConsumer, nil
}

// LoadGlobal returns the loaded whole-resource usage at timestamp t.
func (e *CSVEndpoint) LoadGlobal(t float64, src GlobalSource) (*float64, error) {
	if !e.hasInput {
		return nil, errors.New("dataendpoint: no input trace loaded")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.global[src.ResName()][t], nil
}

// IsLive always reports false: a CSV endpoint only ever replays.
func (e *CSVEndpoint) IsLive() bool { return false }

// Store appends rec as one line to the output trace.
func (e *CSVEndpoint) Store(rec Record) error {
	if e.outFile == nil {
		return errors.New("dataendpoint: no output trace configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.outFile.WriteString(rec.Line() + "\n"); err != nil {
		return errors.Wrap(err, "dataendpoint: write trace row")
	}
	return nil
}

// Close flushes and closes the output trace, if any.
func (e *CSVEndpoint) Close() error {
	if e.outFile == nil {
		return nil
	}
	return e.outFile.Close()
}

// Timestamps returns the sorted, de-duplicated list of timestamps
// present anywhere in the loaded trace. Only meaningful for replay.
func (e *CSVEndpoint) Timestamps() []float64 {
	out := make([]float64, len(e.timestamps))
	copy(out, e.timestamps)
	return out
}

// DeployedOn returns the VMs whose earliest "rec=vm,res=cpu" row is
// exactly t, reconstructed as not-yet-deployed domain.Entity values
// ready to hand to a replay driver's deploy call.
func (e *CSVEndpoint) DeployedOn(t float64) []*domain.Entity {
	var out []*domain.Entity
	for uuid, spec := range e.vmSpec {
		if spec.tmpFirst != t {
			continue
		}
		if vm := e.entityFromSpec(uuid, spec); vm != nil {
			out = append(out, vm)
		}
	}
	return out
}

// DestroyedOn returns the VMs whose latest "rec=vm,res=cpu" row is the
// timestamp immediately preceding t in the trace's sorted timestamp
// list: departures are detected one step after they were last
// observed.
func (e *CSVEndpoint) DestroyedOn(t float64) []*domain.Entity {
	idx := sort.SearchFloat64s(e.timestamps, t)
	if idx >= len(e.timestamps) || e.timestamps[idx] != t {
		return nil
	}
	lastSeenIdx := idx - 1
	if lastSeenIdx < 0 {
		return nil
	}
	lastSeen := e.timestamps[lastSeenIdx]

	var out []*domain.Entity
	for uuid, spec := range e.vmSpec {
		if spec.tmpLast != lastSeen {
			continue
		}
		if vm := e.entityFromSpec(uuid, spec); vm != nil {
			out = append(out, vm)
		}
	}
	return out
}

func (e *CSVEndpoint) entityFromSpec(uuid string, spec *vmSpec) *domain.Entity {
	if !spec.hasCPU || !spec.hasMem {
		return nil
	}
	vm, err := domain.New(domain.Params{
		Name:     spec.name,
		VCPUs:    int(spec.cpuConfig),
		MemKB:    uint64(spec.memConfig) * 1024,
		CPURatio: spec.cpuRatio,
		UUID:     uuid,
	})
	if err != nil {
		return nil
	}
	return vm
}
