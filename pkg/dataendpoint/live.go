package dataendpoint

import (
	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/hypervisor"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
	"github.com/jacquetpi/sweetspotvm/pkg/subset"
)

// LiveEndpoint samples usage directly from the hypervisor connector.
// It cannot store data: it always reads the live system.
type LiveEndpoint struct {
	connector hypervisor.Connector
}

// NewLiveEndpoint builds an endpoint backed by connector.
func NewLiveEndpoint(connector hypervisor.Connector) *LiveEndpoint {
	return &LiveEndpoint{connector: connector}
}

// LoadSubset samples every current consumer of s and averages their
// utilization into the subset-level usage. A consumer that has
// disappeared since the last sample is skipped silently, per
// schederr.ConsumerNotAlive's contract.
func (e *LiveEndpoint) LoadSubset(t float64, s subset.Subset) (*float64, map[string]float64, error) {
	consumers := s.Consumers()
	perConsumer := make(map[string]float64, len(consumers))
	var sum float64
	var sampled int
	for _, vm := range consumers {
		usage, err := e.sample(s.ResourceKind(), vm)
		if err != nil {
			if schederr.Is(err, schederr.ConsumerNotAlive) {
				continue
			}
			return nil, nil, err
		}
		perConsumer[vm.UUID()] = usage
		sum += usage
		sampled++
	}
	if sampled == 0 {
		return nil, perConsumer, nil
	}
	avg := sum / float64(sampled)
	return &avg, perConsumer, nil
}

func (e *LiveEndpoint) sample(kind subset.ResourceKind, vm *domain.Entity) (float64, error) {
	if kind == subset.ResourceMem {
		return e.connector.MemUsage(vm)
	}
	return e.connector.CPUUsage(vm)
}

// LoadGlobal samples the whole resource's current usage; a live
// endpoint has no direct whole-host counter, so it reports unavailable
// rather than fabricate one.
func (e *LiveEndpoint) LoadGlobal(t float64, src GlobalSource) (*float64, error) {
	return nil, nil
}

// IsLive always reports true: this endpoint never replays a trace.
func (e *LiveEndpoint) IsLive() bool { return true }
