package restserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacquetpi/sweetspotvm/pkg/idset"
	"github.com/jacquetpi/sweetspotvm/pkg/manager"
)

type fakeLocalAgent struct {
	deployed []string
	status   map[string]map[idset.ID]manager.ManagerStatus
}

func (f *fakeLocalAgent) Deploy(name string, vcpus int, memKB uint64, ratio float64, diskPath string) (bool, string) {
	f.deployed = append(f.deployed, name)
	return true, ""
}

func (f *fakeLocalAgent) Remove(name string) (bool, string) {
	for _, n := range f.deployed {
		if n == name {
			return true, ""
		}
	}
	return false, "no such vm"
}

func (f *fakeLocalAgent) ListVM() []string { return f.deployed }

func (f *fakeLocalAgent) Status() map[string]map[idset.ID]manager.ManagerStatus { return f.status }

func newLocalTestServer(t *testing.T, a *fakeLocalAgent) (*httptest.Server, func()) {
	t.Helper()
	ts := httptest.NewServer(buildLocalMux("127.0.0.1", 9999, a))
	return ts, ts.Close
}

func TestLocalDeployMissingParamsReportsWrongUsage(t *testing.T) {
	a := &fakeLocalAgent{}
	ts, closeFn := newLocalTestServer(t, a)
	defer closeFn()

	resp, err := http.Get(ts.URL + "/deploy")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	require.Contains(t, string(buf[:n]), "Wrong usage:")
}

func TestLocalDeploySuccess(t *testing.T) {
	a := &fakeLocalAgent{}
	ts, closeFn := newLocalTestServer(t, a)
	defer closeFn()

	resp, err := http.Get(ts.URL + "/deploy?name=vm1&cpu=2&mem=1&oc=1&qcow2=/tmp/v.qcow2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var res result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.True(t, res.Success)
	require.Contains(t, a.deployed, "vm1")
}

func TestLocalListVMNeverNull(t *testing.T) {
	a := &fakeLocalAgent{}
	ts, closeFn := newLocalTestServer(t, a)
	defer closeFn()

	resp, err := http.Get(ts.URL + "/listvm")
	require.NoError(t, err)
	defer resp.Body.Close()

	var vms []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vms))
	require.Empty(t, vms)
}

func TestLocalRemoveMissingName(t *testing.T) {
	a := &fakeLocalAgent{}
	ts, closeFn := newLocalTestServer(t, a)
	defer closeFn()

	resp, err := http.Get(ts.URL + "/remove")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	require.Contains(t, string(buf[:n]), "Wrong usage:")
}
