package restserver

import "net/http"

// GlobalDispatcher is the capability the dispatcher REST surface calls
// into -- satisfied by *dispatcher.Dispatcher.
type GlobalDispatcher interface {
	Deploy(name, cpu, mem, oc, qcow2 string) (bool, string)
	Remove(name string) (bool, string)
	Status() interface{}
	ListVM() []string
}

// NewGlobalServer builds the dispatcher's REST surface: identical
// verbs to the local surface, with node fan-out baked into d's own
// Status/ListVM implementations.
func NewGlobalServer(url string, port int, d GlobalDispatcher) *Server {
	return newServer(url, port, buildGlobalMux(url, port, d))
}

// buildGlobalMux builds the dispatcher's route table, split out from
// NewGlobalServer for the same testing reason as buildLocalMux.
func buildGlobalMux(url string, port int, d GlobalDispatcher) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("SchedulerGlobal is working and waiting for instructions"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Status())
	})
	mux.HandleFunc("/listvm", func(w http.ResponseWriter, r *http.Request) {
		vms := d.ListVM()
		if vms == nil {
			vms = []string{}
		}
		writeJSON(w, vms)
	})
	mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		name, cpu, mem, oc, qcow2 := q.Get("name"), q.Get("cpu"), q.Get("mem"), q.Get("oc"), q.Get("qcow2")
		if name == "" || cpu == "" || mem == "" || oc == "" || qcow2 == "" {
			wrongUsage(w, deployUsageExample(url, port))
			return
		}
		ok, reason := d.Deploy(name, cpu, mem, oc, qcow2)
		writeJSON(w, result{Success: ok, Reason: reason})
	})
	mux.HandleFunc("/remove", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			wrongUsage(w, removeUsageExample(url, port))
			return
		}
		ok, reason := d.Remove(name)
		writeJSON(w, result{Success: ok, Reason: reason})
	})
	return mux
}
