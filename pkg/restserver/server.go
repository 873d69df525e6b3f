// Package restserver exposes the GET-only REST surfaces: the local
// agent's /status, /listvm, /deploy, /remove, and the dispatcher's
// mirror of the same verbs. It replaces a prior
// singleton instrumentation.GetHTTPMux/GetHTTPServer pair (see
// DESIGN.md) with one addressable *Server per process, each wrapping
// its own http.Server/http.ServeMux rather than a package-level
// global -- the local agent and the dispatcher never share a process,
// but both want the same start/close lifecycle.
package restserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
	"github.com/jacquetpi/sweetspotvm/pkg/metrics"
)

var log = logger.Get("restserver")

// Server wraps one REST surface's listener lifecycle.
type Server struct {
	httpServer *http.Server
}

// newServer builds a Server bound to url:port, serving mux plus the
// /metrics route every REST surface exposes regardless of process
// kind.
func newServer(url string, port int, mux *http.ServeMux) *Server {
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	addr := net.JoinHostPort(url, strconv.Itoa(port))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Run starts serving in the background. Errors other than a clean
// Close/Shutdown are logged, matching waitress's behavior in
// original_source/schedulerlocal/schedulerlocal.py: the REST surface
// never takes the control loop down with it.
func (s *Server) Run() {
	log.Info("exposing REST surface on http://%s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("REST surface on %s stopped: %v", s.httpServer.Addr, err)
		}
	}()
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response: %v", err)
	}
}

// result is the {success, reason} envelope every deploy/remove
// response uses, reason empty on success.
type result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// wrongUsage renders the deterministic plain-text usage string sent
// when required query parameters are missing.
func wrongUsage(w http.ResponseWriter, example string) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Wrong usage: " + example))
}

// requestTimeout is the dispatcher -> local agent HTTP deadline
// (connect+read, no retry on timeout). Nothing in this package reads
// it; pkg/dispatcher applies its own constant of the same value.
const requestTimeout = 3 * time.Second
