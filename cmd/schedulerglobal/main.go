// Command schedulerglobal is the dispatcher process: a directory of
// local agent URLs, periodically resynchronised, behind its own REST
// surface. It mirrors
// original_source/schedulerglobal/__main__.py's bootstrap, with the
// node list coming from -list/SCG_NODE_URL_LIST rather than argv
// positional arguments.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jacquetpi/sweetspotvm/pkg/config"
	"github.com/jacquetpi/sweetspotvm/pkg/dispatcher"
	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
	"github.com/jacquetpi/sweetspotvm/pkg/metrics"
	"github.com/jacquetpi/sweetspotvm/pkg/restserver"
)

var log = logger.Get("schedulerglobal")

func main() {
	nodeList := flag.StringP("list", "l", "", "comma-separated local agent URLs, overriding SCG_NODE_URL_LIST")
	flag.Parse()

	cfg, err := config.LoadGlobal()
	if err != nil {
		log.Fatal("configuration: %v", err)
	}
	if *nodeList != "" {
		cfg.NodeURLList = splitURLList(*nodeList)
	}

	d := dispatcher.New(cfg.NodeURLList)
	server := restserver.NewGlobalServer(cfg.URL, cfg.Port, d)
	server.Run()

	ctx, cancel := context.WithCancel(context.Background())
	trapSignals(cancel)

	log.Info("schedulerglobal starting, delay=%.0fs, %d node(s)", cfg.Delay, len(cfg.NodeURLList))
	run(ctx, d, cfg.Delay)
	log.Info("schedulerglobal: gracefully exiting")
}

// run drives the periodic Iterate loop until ctx is cancelled, the
// same overlap-warning timing agent.Local.Run uses for the local
// control loop.
func run(ctx context.Context, d *dispatcher.Dispatcher, delaySeconds float64) {
	period := time.Duration(delaySeconds * float64(time.Second))
	for {
		if ctx.Err() != nil {
			return
		}
		begin := time.Now()
		d.Iterate()
		elapsed := time.Since(begin)
		sleep := period - elapsed
		if sleep <= 0 {
			metrics.IterateOverlap.WithLabelValues("dispatcher").Inc()
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

func splitURLList(raw string) []string {
	var out []string
	for _, u := range strings.Split(raw, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			out = append(out, u)
		}
	}
	return out
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
