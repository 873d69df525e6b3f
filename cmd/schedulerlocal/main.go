// Command schedulerlocal is the per-host agent: it discovers the
// local CPU/NUMA topology, builds one CPU and memory manager per NUMA
// node, exposes its own REST surface, and drives either the live
// control loop or a trace replay, mirroring
// original_source/schedulerlocal/__main__.py's bootstrap sequence.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/jacquetpi/sweetspotvm/pkg/agent"
	"github.com/jacquetpi/sweetspotvm/pkg/config"
	"github.com/jacquetpi/sweetspotvm/pkg/dataendpoint"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
	"github.com/jacquetpi/sweetspotvm/pkg/manager"
	"github.com/jacquetpi/sweetspotvm/pkg/predictor"
	"github.com/jacquetpi/sweetspotvm/pkg/restserver"
	"github.com/jacquetpi/sweetspotvm/pkg/topology"
)

var log = logger.Get("schedulerlocal")

func main() {
	loadCSV := flag.StringP("load", "l", "", "replay a recorded trace instead of running live")
	saveCSV := flag.StringP("save", "s", "", "mirror every sampled record to this CSV trace")
	sysfsRoot := flag.String("sysfs-root", "/sys", "sysfs mount point to discover topology from")
	flag.Parse()

	cfg, err := config.LoadLocal()
	if err != nil {
		log.Fatal("configuration: %v", err)
	}

	cpus, mem, err := topology.Discover(*sysfsRoot, topology.Filter{Exclude: excludeSet(cfg.TopoExclude)})
	if err != nil {
		log.Fatal("topology discovery: %v", err)
	}

	connector, err := buildConnector(cfg)
	if err != nil {
		log.Fatal("hypervisor connector: %v", err)
	}

	endpointPool, replayTrace, err := buildEndpoints(connector, *loadCSV, *saveCSV)
	if err != nil {
		log.Fatal("data endpoints: %v", err)
	}

	template, err := manager.ParseCPUTemplate(cfg.OversubTemplate)
	if err != nil {
		log.Fatal("oversubscription template: %v", err)
	}

	pool := manager.NewPool(connector)
	pool.SetGlobalLoader(endpointPool)

	predictorCfg := predictor.Config{
		MonitoringWindow:   cfg.ActMonitoring,
		MonitoringLearning: cfg.ActLearning,
		MonitoringLeeway:   cfg.ActLeeway,
	}
	for _, numaID := range numaIDs(cpus) {
		cpuMgr := manager.NewCPUManager(numaID, cpus, template, connector, endpointPool, manager.Config{
			CriticalSize:     cfg.OversubCriticalSize,
			HostWidth:        cpus.HostCoreCount(),
			Elastic:          true,
			PredictorCfg:     predictorCfg,
			MonitoringWindow: cfg.ActMonitoring,
		})
		memMgr := manager.NewMemManager(numaID, mem.NumaMB(numaID), endpointPool)
		pool.AddNode(numaID, cpuMgr, memMgr)
	}

	localAgent := agent.NewLocal(pool, connector, cfg.Delay)
	server := restserver.NewLocalServer(cfg.URL, cfg.Port, localAgent)
	server.Run()

	if replayTrace != nil {
		localAgent.Replay(replayTrace)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	trapSignals(cancel)
	log.Info("schedulerlocal starting, delay=%.0fs", cfg.Delay)
	localAgent.Run(ctx)
	log.Info("schedulerlocal: gracefully exiting")
}

// numaIDs returns the distinct NUMA node ids among cpus' admitted
// cores, ascending -- CpuSet has no such accessor of its own since
// most callers only need per-core lookups.
func numaIDs(cpus *topology.CpuSet) []idset.ID {
	seen := idset.New()
	for _, c := range cpus.Cores() {
		seen.Add(c.NumaID)
	}
	return seen.SortedMembers()
}

func excludeSet(raw string) idset.Set {
	out := idset.New()
	if raw == "" {
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			log.Warn("TOPO_EXCLUDE: ignoring invalid entry %q", part)
			continue
		}
		out.Add(idset.ID(n))
	}
	return out
}

func buildConnector(cfg *config.Local) (hypervisor.Connector, error) {
	if cfg.QemuURL == "" {
		log.Warn("QEMU_URL not set, running against the in-memory hypervisor stub")
		return hypervisor.NewMemConnector(), nil
	}
	return hypervisor.Dial(cfg.QemuURL, cfg.QemuLoc, cfg.QemuMachine)
}

// buildEndpoints wires the live-vs-replay loader and the optional CSV
// saver into one dataendpoint.Pool, returning the replay trace handle
// separately when -load was given: the replay driver needs direct
// access to DeployedOn/DestroyedOn, which Endpoint does not expose.
func buildEndpoints(connector hypervisor.Connector, loadPath, savePath string) (*dataendpoint.Pool, *dataendpoint.CSVEndpoint, error) {
	if loadPath == "" {
		saver, err := optionalCSVSaver(savePath)
		if err != nil {
			return nil, nil, err
		}
		live := dataendpoint.NewLiveEndpoint(connector)
		return dataendpoint.NewPool(live, saver), nil, nil
	}

	trace, err := dataendpoint.NewCSVEndpoint(loadPath, savePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load trace %s", loadPath)
	}
	var saver dataendpoint.Saver
	if savePath != "" {
		saver = trace
	}
	return dataendpoint.NewPool(trace, saver), trace, nil
}

func optionalCSVSaver(path string) (dataendpoint.Saver, error) {
	if path == "" {
		return nil, nil
	}
	return dataendpoint.NewCSVEndpoint("", path)
}

func trapSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Info("received %s, shutting down", s)
		cancel()
	}()
}
