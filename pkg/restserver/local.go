package restserver

import (
	"net/http"
	"strconv"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/manager"
)

// LocalAgent is the capability the local REST surface calls into --
// satisfied by *agent.Local, narrowed here so restserver does not need
// to import the agent package's run-loop machinery.
type LocalAgent interface {
	Deploy(name string, vcpus int, memKB uint64, ratio float64, diskPath string) (bool, string)
	Remove(name string) (bool, string)
	ListVM() []string
	Status() map[string]map[idset.ID]manager.ManagerStatus
}

// NewLocalServer builds the local agent's REST surface: GET /,
// /status, /listvm, /deploy, /remove.
func NewLocalServer(url string, port int, a LocalAgent) *Server {
	return newServer(url, port, buildLocalMux(url, port, a))
}

// buildLocalMux builds the local agent's route table, split out from
// NewLocalServer so tests can drive it with httptest.NewServer without
// binding a real listener.
func buildLocalMux(url string, port int, a LocalAgent) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Scheduler is working and waiting for instructions"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.Status())
	})
	mux.HandleFunc("/listvm", func(w http.ResponseWriter, r *http.Request) {
		vms := a.ListVM()
		if vms == nil {
			vms = []string{}
		}
		writeJSON(w, vms)
	})
	mux.HandleFunc("/deploy", func(w http.ResponseWriter, r *http.Request) {
		handleLocalDeploy(w, r, url, port, a)
	})
	mux.HandleFunc("/remove", func(w http.ResponseWriter, r *http.Request) {
		handleLocalRemove(w, r, url, port, a)
	})
	return mux
}

func handleLocalDeploy(w http.ResponseWriter, r *http.Request, url string, port int, a LocalAgent) {
	q := r.URL.Query()
	name, cpu, mem, oc, qcow2 := q.Get("name"), q.Get("cpu"), q.Get("mem"), q.Get("oc"), q.Get("qcow2")
	if name == "" || cpu == "" || mem == "" || oc == "" || qcow2 == "" {
		wrongUsage(w, deployUsageExample(url, port))
		return
	}
	vcpus, err := strconv.Atoi(cpu)
	if err != nil {
		writeJSON(w, result{Success: false, Reason: "cpu must be an integer"})
		return
	}
	memGB, err := strconv.ParseFloat(mem, 64)
	if err != nil {
		writeJSON(w, result{Success: false, Reason: "mem must be a number"})
		return
	}
	ratio, err := strconv.ParseFloat(oc, 64)
	if err != nil {
		writeJSON(w, result{Success: false, Reason: "oc must be a number"})
		return
	}
	memKB := uint64(memGB * 1024 * 1024)
	ok, reason := a.Deploy(name, vcpus, memKB, ratio, qcow2)
	writeJSON(w, result{Success: ok, Reason: reason})
}

func handleLocalRemove(w http.ResponseWriter, r *http.Request, url string, port int, a LocalAgent) {
	name := r.URL.Query().Get("name")
	if name == "" {
		wrongUsage(w, removeUsageExample(url, port))
		return
	}
	ok, reason := a.Remove(name)
	writeJSON(w, result{Success: ok, Reason: reason})
}

func deployUsageExample(url string, port int) string {
	return "http://" + url + ":" + strconv.Itoa(port) + "/deploy?name=example&cpu=1&mem=1&oc=1&qcow2=/var/lib/libvirt/images/volume.qcow2"
}

func removeUsageExample(url string, port int) string {
	return "http://" + url + ":" + strconv.Itoa(port) + "/remove?name=example"
}
