package hypervisor

import (
	"sync"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
)

// MemConnector is an in-memory Connector used by tests and by replay
// mode, where there is no real hypervisor to talk to. VMs created
// through it are "alive" the instant CreateVM succeeds.
type MemConnector struct {
	mu      sync.Mutex
	alive   map[string]*domain.Entity
	nextID  int
	cpuHook func(vm *domain.Entity) (total uint64, ok bool)
	memHook func(vm *domain.Entity) (fraction float64, ok bool)
}

// NewMemConnector builds an empty MemConnector.
func NewMemConnector() *MemConnector {
	return &MemConnector{alive: make(map[string]*domain.Entity)}
}

// SetCPUSampler installs the function used to answer CPUUsage: it
// must return a cumulative CPU-time counter (ns) and false if the VM
// should be reported as no longer alive. Used by replay mode to feed
// recorded trace values.
func (m *MemConnector) SetCPUSampler(f func(vm *domain.Entity) (total uint64, ok bool)) {
	m.cpuHook = f
}

// SetMemSampler installs the function used to answer MemUsage.
func (m *MemConnector) SetMemSampler(f func(vm *domain.Entity) (fraction float64, ok bool)) {
	m.memHook = f
}

func (m *MemConnector) ListAlive() ([]*domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Entity, 0, len(m.alive))
	for _, vm := range m.alive {
		out = append(out, vm)
	}
	return out, nil
}

func (m *MemConnector) ListDefined() ([]*domain.Entity, error) {
	return nil, nil
}

func (m *MemConnector) UpdatePin(vm *domain.Entity) error {
	return nil
}

func (m *MemConnector) BuildPinTemplate(cores []int, hostWidth int) []bool {
	tpl := make([]bool, hostWidth)
	for _, c := range cores {
		if c >= 0 && c < hostWidth {
			tpl[c] = true
		}
	}
	return tpl
}

func (m *MemConnector) CPUUsage(vm *domain.Entity) (float64, error) {
	m.mu.Lock()
	_, alive := m.alive[vm.UUID()]
	m.mu.Unlock()
	if !alive {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	if m.cpuHook == nil {
		return 0, nil
	}
	total, ok := m.cpuHook(vm)
	if !ok {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	if !vm.HasTime() {
		vm.SetTime(0, total, 0, 0)
		return 0, nil
	}
	epochNs, _, _, _ := vm.Time()
	usage, err := vm.Usage(epochNs+1, total)
	if err != nil {
		return 0, err
	}
	vm.SetTime(epochNs+1, total, 0, 0)
	return usage, nil
}

func (m *MemConnector) MemUsage(vm *domain.Entity) (float64, error) {
	m.mu.Lock()
	_, alive := m.alive[vm.UUID()]
	m.mu.Unlock()
	if !alive {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	if m.memHook == nil {
		return 0, nil
	}
	frac, ok := m.memHook(vm)
	if !ok {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	return frac, nil
}

func (m *MemConnector) CreateVM(vm *domain.Entity) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vm.IsDeployed() {
		return false, "vm already exists"
	}
	m.nextID++
	uuid := syntheticUUID(m.nextID)
	vm.SetUUID(uuid)
	m.alive[uuid] = vm
	return true, ""
}

func (m *MemConnector) DeleteVM(vm *domain.Entity) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alive, vm.UUID())
	return true, ""
}

func (m *MemConnector) CachePurge() {}

func syntheticUUID(n int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 32)
	for i := range b {
		b[i] = hex[0]
	}
	s := []byte{}
	for n > 0 {
		s = append([]byte{hex[n%16]}, s...)
		n /= 16
	}
	copy(b[32-len(s):], s)
	return string(b[0:8]) + "-" + string(b[8:12]) + "-" + string(b[12:16]) + "-" + string(b[16:20]) + "-" + string(b[20:32])
}
