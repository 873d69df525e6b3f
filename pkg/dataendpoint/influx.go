package dataendpoint

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// InfluxDBEndpoint stores records as points in an InfluxDB bucket.
// Only Store is implemented: LoadSubset and LoadGlobal always return
// an error, so it cannot act as a loader or a replay source (the CSV
// endpoint covers replay).
type InfluxDBEndpoint struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxDBEndpoint opens a client against url/token/org and targets
// bucket for writes.
func NewInfluxDBEndpoint(url, token, org, bucket string) *InfluxDBEndpoint {
	client := influxdb2.NewClient(url, token)
	return &InfluxDBEndpoint{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		org:      org,
		bucket:   bucket,
	}
}

func (e *InfluxDBEndpoint) LoadSubset(t float64, s subset.Subset) (*float64, map[string]float64, error) {
	return nil, nil, errors.New("dataendpoint: influxdb query-side loading is not implemented")
}

func (e *InfluxDBEndpoint) LoadGlobal(t float64, src GlobalSource) (*float64, error) {
	return nil, errors.New("dataendpoint: influxdb query-side loading is not implemented")
}

func (e *InfluxDBEndpoint) IsLive() bool { return false }

// Store writes rec as a single InfluxDB point, one field per trace
// column, tagged by record kind/resource/subset for querying.
func (e *InfluxDBEndpoint) Store(rec Record) error {
	fields := map[string]interface{}{
		"val":    valueOrNaN(rec.Val),
		"config": rec.Config,
	}
	if rec.SbUnused != nil {
		fields["sb_unused"] = *rec.SbUnused
	}
	tags := map[string]string{
		"rec":     rec.Rec,
		"res":     rec.Res,
		"subset":  rec.Subset,
		"vm_uuid": rec.VMUUID,
		"vm_cmn":  rec.VMCmn,
		"sb_oc":   rec.SbOC,
	}
	p := write.NewPoint("scheduler_sample", tags, fields, time.Unix(int64(rec.Tmp), 0))
	return e.writeAPI.WritePoint(context.Background(), p)
}

// Close flushes pending writes and releases the underlying client.
func (e *InfluxDBEndpoint) Close() {
	e.client.Close()
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
