package dataendpoint

import (
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// GlobalSource is the manager-level capability an endpoint samples for
// whole-resource telemetry: its resource name ("cpu"/"mem") and its
// total physical capacity.
type GlobalSource interface {
	ResName() string
	Capacity() int
}

// Endpoint is the capability a data source offers: sampling subset
// and whole-resource usage, and reporting whether it is a live system
// (as opposed to a replayed trace). It is a superset of subset.Monitor
// so any Endpoint can seed a subset manager directly.
type Endpoint interface {
	subset.Monitor
	LoadGlobal(t float64, src GlobalSource) (*float64, error)
	IsLive() bool
}

// Saver additionally accepts records for storage. Live endpoints
// cannot act as a Saver; CSV, JSON and InfluxDB endpoints can.
type Saver interface {
	Store(rec Record) error
}
