package dataendpoint

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// JsonEndpoint accumulates records in memory and dumps them as a
// single JSON array on Close. It never loads: it is a write-only sink
// for offline analysis, not a replay
// source, and this keeps the same scope.
type JsonEndpoint struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// NewJsonEndpoint builds a sink that writes to path on Close.
func NewJsonEndpoint(path string) *JsonEndpoint {
	return &JsonEndpoint{path: path}
}

func (e *JsonEndpoint) LoadSubset(t float64, s subset.Subset) (*float64, map[string]float64, error) {
	return nil, nil, errors.New("dataendpoint: json endpoint cannot load")
}

func (e *JsonEndpoint) LoadGlobal(t float64, src GlobalSource) (*float64, error) {
	return nil, errors.New("dataendpoint: json endpoint cannot load")
}

func (e *JsonEndpoint) IsLive() bool { return false }

// Store buffers rec; it is flushed to disk by Close.
func (e *JsonEndpoint) Store(rec Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

// Close dumps every buffered record to path as a JSON array.
func (e *JsonEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := os.Create(e.path)
	if err != nil {
		return errors.Wrap(err, "dataendpoint: create json output")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(e.records)
}
