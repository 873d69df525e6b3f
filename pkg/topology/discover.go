package topology

import (
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
)

const (
	cpuPath  = "devices/system/cpu"
	nodePath = "devices/system/node"
)

var log = logger.Get("topology")

// Filter is the include/exclude core filter applied before the
// distance matrix is built. An empty Include means "no restriction".
type Filter struct {
	Include idset.Set
	Exclude idset.Set
}

func (f Filter) admits(id idset.ID) bool {
	if f.Exclude.Has(id) {
		return false
	}
	if len(f.Include) == 0 {
		return true
	}
	return f.Include.Has(id)
}

// Discover builds the CpuSet and MemorySet of the host whose sysfs is
// mounted at root (typically "/sys"). It is idempotent: calling it
// twice on the same root yields equivalent, independently immutable
// results.
func Discover(root string, filter Filter) (*CpuSet, *MemorySet, error) {
	allCores, numaCPUs, err := discoverCPUs(root)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cpu discovery failed")
	}
	hostCount := len(allCores)

	numaDistances, err := discoverNumaDistances(root, numaCPUs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "numa distance discovery failed")
	}

	admitted := make([]*Core, 0, len(allCores))
	admittedSet := idset.New()
	for _, c := range allCores {
		if filter.admits(c.CPUID) {
			admitted = append(admitted, c)
			admittedSet.Add(c.CPUID)
		}
	}
	for _, c := range admitted {
		c.SMTSiblings = intersectIDs(c.SMTSiblings, admittedSet)
		c.SocketSiblings = intersectIDs(c.SocketSiblings, admittedSet)
	}

	cpus := NewCpuSet(admitted, numaDistances, hostCount).BuildDistances()

	mem, err := discoverMemory(root, numaCPUs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "memory discovery failed")
	}

	log.Info("discovered %d/%d admitted cores across %d NUMA nodes", len(admitted), hostCount, len(numaCPUs))
	return cpus, mem, nil
}

func intersectIDs(s, allowed idset.Set) idset.Set {
	out := idset.New()
	for id := range s {
		if allowed.Has(id) {
			out.Add(id)
		}
	}
	return out
}

func discoverCPUs(root string) ([]*Core, map[idset.ID]idset.Set, error) {
	entries, err := filepath.Glob(filepath.Join(root, cpuPath, "cpu[0-9]*"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(entries)

	cores := make(map[idset.ID]*Core, len(entries))
	byPkg := make(map[idset.ID]idset.Set)
	byNuma := make(map[idset.ID]idset.Set)

	for _, path := range entries {
		id := enumeratedID(path)
		if id < 0 {
			continue
		}
		online := true
		if v, err := readTrimmed(path, "online"); err == nil && v != "" {
			online = v != "0"
		}
		if !online {
			continue
		}

		pkg, err := readID(path, "topology/physical_package_id")
		if err != nil {
			return nil, nil, err
		}
		threads, err := readIDList(path, "topology/thread_siblings_list")
		if err != nil {
			return nil, nil, err
		}
		numaDirs, _ := filepath.Glob(filepath.Join(path, "node[0-9]*"))
		if len(numaDirs) != 1 {
			return nil, nil, errors.Errorf("%s: expected exactly one numa node, found %d", path, len(numaDirs))
		}
		numa := enumeratedID(numaDirs[0])

		var maxFreq uint64
		if v, err := readUint(path, "cpufreq/cpuinfo_max_freq"); err == nil {
			maxFreq = v * 1000 // kHz -> Hz
		}

		caches, err := discoverCaches(path)
		if err != nil {
			return nil, nil, err
		}

		c := &Core{
			CPUID:          id,
			NumaID:         numa,
			SMTSiblings:    threads.Clone(),
			SocketSiblings: idset.New(),
			CacheIDs:       caches,
			MaxFreqHz:      maxFreq,
		}
		c.SMTSiblings.Del(id)
		cores[id] = c

		if byPkg[pkg] == nil {
			byPkg[pkg] = idset.New()
		}
		byPkg[pkg].Add(id)

		if byNuma[numa] == nil {
			byNuma[numa] = idset.New()
		}
		byNuma[numa].Add(id)
	}

	for _, members := range byPkg {
		for id := range members {
			siblings := members.Clone()
			siblings.Del(id)
			cores[id].SocketSiblings = siblings
		}
	}

	out := make([]*Core, 0, len(cores))
	for _, c := range cores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CPUID < out[j].CPUID })

	return out, byNuma, nil
}

func discoverCaches(cpuPath string) (map[int]idset.ID, error) {
	entries, err := filepath.Glob(filepath.Join(cpuPath, "cache/index[0-9]*"))
	if err != nil {
		return nil, err
	}
	caches := make(map[int]idset.ID)
	for _, entry := range entries {
		kind, err := readTrimmed(entry, "type")
		if err != nil {
			continue
		}
		if kind == "Instruction" {
			// Instruction-only caches don't constrain data-sharing
			// locality the way a data or unified cache does.
			continue
		}
		level, err := readInt(entry, "level")
		if err != nil {
			continue
		}
		id, err := readID(entry, "id")
		if err != nil {
			continue
		}
		caches[level-1] = id // sysfs levels are 1-based, ours are 0-based/innermost-first
	}
	return caches, nil
}

func discoverNumaDistances(root string, nodes map[idset.ID]idset.Set) (map[idset.ID]map[idset.ID]int, error) {
	out := make(map[idset.ID]map[idset.ID]int, len(nodes))
	ids := make([]idset.ID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 0 {
		return out, nil
	}

	for _, id := range ids {
		path := filepath.Join(root, nodePath, "node"+strconv.Itoa(int(id)), "distance")
		row, err := readIntList(path)
		if err != nil {
			return nil, err
		}
		dist := make(map[idset.ID]int, len(row))
		for i, v := range row {
			dist[idset.ID(i)] = v
		}
		out[id] = dist
	}
	return out, nil
}

func discoverMemory(root string, nodes map[idset.ID]idset.Set) (*MemorySet, error) {
	perNuma := make(map[idset.ID]uint64, len(nodes))
	var total uint64

	if len(nodes) == 0 {
		mb, err := readMemTotalKB(filepath.Join(root, "..", "proc", "meminfo"))
		if err != nil {
			return nil, err
		}
		total = mb / 1024
		perNuma[0] = total
	} else {
		for id := range nodes {
			path := filepath.Join(root, nodePath, "node"+strconv.Itoa(int(id)), "meminfo")
			kb, err := readNodeMemTotalKB(path)
			if err != nil {
				return nil, err
			}
			mb := kb / 1024
			perNuma[id] = mb
			total += mb
		}
	}

	return &MemorySet{TotalMB: total, AllowedMB: total, PerNuma: perNuma}, nil
}

func readNodeMemTotalKB(path string) (uint64, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", path)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		// "Node 0 MemTotal:       16412344 kB"
		if len(fields) >= 4 && strings.HasPrefix(fields[2], "MemTotal") {
			return strconv.ParseUint(fields[3], 10, 64)
		}
	}
	return 0, errors.Errorf("%s: MemTotal entry not found", path)
}

func readMemTotalKB(path string) (uint64, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", path)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			return strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return 0, errors.Errorf("%s: MemTotal entry not found", path)
}

func enumeratedID(name string) idset.ID {
	base := filepath.Base(name)
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	if i == len(base) {
		return idset.Unknown
	}
	n, err := strconv.Atoi(base[i:])
	if err != nil {
		return idset.Unknown
	}
	return idset.ID(n)
}

func readTrimmed(base, entry string) (string, error) {
	data, err := ioutil.ReadFile(filepath.Join(base, entry))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readInt(base, entry string) (int, error) {
	v, err := readTrimmed(base, entry)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func readUint(base, entry string) (uint64, error) {
	v, err := readTrimmed(base, entry)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func readID(base, entry string) (idset.ID, error) {
	v, err := readInt(base, entry)
	if err != nil {
		return idset.Unknown, err
	}
	return idset.ID(v), nil
}

// readIDList parses a comma-separated list of ids and id ranges ("0-3,5,7-8").
func readIDList(base, entry string) (idset.Set, error) {
	v, err := readTrimmed(base, entry)
	if err != nil {
		return nil, err
	}
	return parseIDList(v)
}

func parseIDList(v string) (idset.Set, error) {
	out := idset.New()
	if v == "" {
		return out, nil
	}
	for _, part := range strings.Split(v, ",") {
		if part == "" {
			continue
		}
		if rng := strings.SplitN(part, "-", 2); len(rng) == 2 {
			lo, err := strconv.Atoi(rng[0])
			if err != nil {
				return nil, err
			}
			hi, err := strconv.Atoi(rng[1])
			if err != nil {
				return nil, err
			}
			for i := lo; i <= hi; i++ {
				out.Add(idset.ID(i))
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out.Add(idset.ID(n))
	}
	return out, nil
}

// readIntList parses a whitespace-separated list of ints (node distance rows).
func readIntList(path string) ([]int, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	fields := strings.Fields(string(data))
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid distance value %q in %s", f, path)
		}
		out = append(out, n)
	}
	return out, nil
}
