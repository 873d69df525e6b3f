package hypervisor

import (
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/pkg/errors"

	"github.com/jacquetpi/sweetspotvm/pkg/domain"
	logger "github.com/jacquetpi/sweetspotvm/pkg/log"
	"github.com/jacquetpi/sweetspotvm/pkg/schederr"
)

var log = logger.Get("hypervisor")

// LibvirtConnector is the production Connector, talking to a real
// libvirtd over its RPC wire protocol.
type LibvirtConnector struct {
	conn *libvirt.Libvirt
	tmpl *Template

	mu    sync.Mutex
	cache map[string]*domain.Entity
}

// Dial connects to the hypervisor at url (e.g. "qemu+tcp://host/system"
// or "qemu:///system" for a local unix socket) and builds domain
// descriptions for the given machine type (loc is handed to
// NewTemplate, which stores it without using it).
func Dial(rawURL, loc, machine string) (*LibvirtConnector, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "hypervisor: invalid url %q", rawURL)
	}

	network, address := "unix", "/var/run/libvirt/libvirt-sock"
	if u.Host != "" {
		network, address = "tcp", u.Host
	}

	c, err := net.DialTimeout(network, address, 5*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "hypervisor: failed to dial %s", rawURL)
	}

	l := libvirt.New(c)
	if err := l.Connect(); err != nil {
		return nil, errors.Wrap(err, "hypervisor: failed to establish libvirt session")
	}

	return &LibvirtConnector{
		conn:  l,
		tmpl:  NewTemplate(loc, machine),
		cache: make(map[string]*domain.Entity),
	}, nil
}

func (c *LibvirtConnector) ListAlive() ([]*domain.Entity, error) {
	domains, _, err := c.conn.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive)
	if err != nil {
		return nil, errors.Wrap(err, "hypervisor: failed to list active domains")
	}
	return c.toEntities(domains)
}

func (c *LibvirtConnector) ListDefined() ([]*domain.Entity, error) {
	domains, _, err := c.conn.ConnectListAllDomains(1, libvirt.ConnectListDomainsInactive)
	if err != nil {
		return nil, errors.Wrap(err, "hypervisor: failed to list inactive domains")
	}
	return c.toEntities(domains)
}

func (c *LibvirtConnector) toEntities(domains []libvirt.Domain) ([]*domain.Entity, error) {
	out := make([]*domain.Entity, 0, len(domains))
	for _, d := range domains {
		vm, err := c.toEntity(d)
		if err != nil {
			log.Warn("skipping domain %s: %v", d.Name, err)
			continue
		}
		if vm != nil {
			out = append(out, vm)
		}
	}
	return out, nil
}

// toEntity converts a libvirt domain handle to a domain.Entity,
// serving from the uuid cache when possible. If the descriptor lacks
// the oversubscription metadata block, defaults are written back and
// a warning is logged, per the metadata contract.
func (c *LibvirtConnector) toEntity(d libvirt.Domain) (*domain.Entity, error) {
	uuid := uuidString(d.UUID)

	c.mu.Lock()
	if cached, ok := c.cache[uuid]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	xmlDesc, err := c.conn.DomainGetXMLDesc(d, 0)
	if err != nil {
		return nil, errors.Wrap(err, "hypervisor: failed to fetch domain description")
	}

	ratios, defaulted, err := c.tmpl.ReadOrDefaultRatios(xmlDesc)
	if err != nil {
		return nil, err
	}
	if defaulted {
		rewritten, err := c.tmpl.WithDefaultedRatios(xmlDesc)
		if err != nil {
			return nil, err
		}
		if _, err := c.conn.DomainDefineXML(rewritten); err != nil {
			return nil, errors.Wrap(err, "hypervisor: failed to persist default oversubscription metadata")
		}
		log.Warn("no oversubscription metadata found on domain %s: defaults were written", d.Name)
	}

	_, maxMem, _, maxVCPUs, _, err := c.conn.DomainGetInfo(d)
	if err != nil {
		return nil, errors.Wrap(err, "hypervisor: failed to fetch domain info")
	}

	vm, err := domain.New(domain.Params{
		Name:     d.Name,
		VCPUs:    int(maxVCPUs),
		MemKB:    maxMem,
		CPURatio: ratios.CPU,
		UUID:     uuid,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[uuid] = vm
	c.mu.Unlock()
	return vm, nil
}

func (c *LibvirtConnector) BuildPinTemplate(cores []int, hostWidth int) []bool {
	tpl := make([]bool, hostWidth)
	for _, id := range cores {
		if id >= 0 && id < hostWidth {
			tpl[id] = true
		}
	}
	return tpl
}

func (c *LibvirtConnector) UpdatePin(vm *domain.Entity) error {
	d, err := c.lookup(vm.UUID())
	if err != nil {
		return nil // gone already; nothing to update
	}

	for vcpu, row := range vm.PinMask() {
		if err := c.conn.DomainPinVcpu(d, uint32(vcpu), boolsToBitmap(row)); err != nil {
			log.Warn("live pin update failed for vm %s vcpu %d: %v", vm.Name(), vcpu, err)
		}
	}

	xmlDesc, err := c.conn.DomainGetXMLDesc(d, 0)
	if err != nil {
		return errors.Wrap(err, "hypervisor: failed to fetch domain description")
	}
	rebuilt, err := c.tmpl.RebuildCPUTune(xmlDesc, vm.PinMask())
	if err != nil {
		return err
	}
	if _, err := c.conn.DomainDefineXML(rebuilt); err != nil {
		return errors.Wrap(err, "hypervisor: failed to persist pin update")
	}
	return nil
}

func (c *LibvirtConnector) CPUUsage(vm *domain.Entity) (float64, error) {
	d, err := c.lookup(vm.UUID())
	if err != nil {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}

	epochNs := time.Now().UnixNano()
	stats, err := c.conn.DomainGetCPUStats(d, 2, 0, 1, 0)
	if err != nil {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	total, system, user := extractCPUStats(stats)

	if !vm.HasTime() {
		vm.SetTime(epochNs, total, system, user)
		return 0, nil
	}
	usage, err := vm.Usage(epochNs, total)
	if err != nil {
		vm.SetTime(epochNs, total, system, user)
		return 0, nil
	}
	vm.SetTime(epochNs, total, system, user)
	return usage, nil
}

func (c *LibvirtConnector) MemUsage(vm *domain.Entity) (float64, error) {
	d, err := c.lookup(vm.UUID())
	if err != nil {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	stats, err := c.conn.DomainMemoryStats(d, 8, 0)
	if err != nil {
		return 0, schederr.New(schederr.ConsumerNotAlive, "vm %s is no longer alive", vm.Name())
	}
	var rss, actual uint64
	for _, s := range stats {
		switch s.Tag {
		case 7: // VIR_DOMAIN_MEMORY_STAT_RSS
			rss = s.Val
		case 6: // VIR_DOMAIN_MEMORY_STAT_ACTUAL_BALLOON
			actual = s.Val
		}
	}
	if actual == 0 {
		return 0, nil
	}
	usage := float64(rss) / float64(actual)
	if usage > 1 {
		usage = 1
	}
	return usage, nil
}

func (c *LibvirtConnector) CreateVM(vm *domain.Entity) (bool, string) {
	if vm.IsDeployed() {
		return false, "vm already exists"
	}
	xmlDesc, err := c.tmpl.Build(CreateParams{
		Name:     vm.Name(),
		VCPUs:    vm.VCPUs(),
		MemKB:    vm.MemKB(),
		CPURatio: vm.CPURatio(),
		DiskPath: vm.DiskPath(),
		PinMask:  vm.PinMask(),
	})
	if err != nil {
		return false, err.Error()
	}

	d, err := c.conn.DomainDefineXML(xmlDesc)
	if err != nil {
		return false, err.Error()
	}
	if err := c.conn.DomainCreate(d); err != nil {
		_ = c.conn.DomainUndefine(d)
		return false, err.Error()
	}

	vm.SetUUID(uuidString(d.UUID))
	return true, ""
}

func (c *LibvirtConnector) DeleteVM(vm *domain.Entity) (bool, string) {
	d, err := c.lookup(vm.UUID())
	if err != nil {
		return true, "" // already gone
	}
	if err := c.conn.DomainDestroy(d); err != nil {
		log.Warn("failed to stop vm %s before undefine: %v", vm.Name(), err)
	}
	if err := c.conn.DomainUndefine(d); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (c *LibvirtConnector) CachePurge() {
	c.mu.Lock()
	c.cache = make(map[string]*domain.Entity)
	c.mu.Unlock()
}

func (c *LibvirtConnector) lookup(uuid string) (libvirt.Domain, error) {
	return c.conn.DomainLookupByUUID(parseUUID(uuid))
}

func boolsToBitmap(mask []bool) []byte {
	out := make([]byte, (len(mask)+7)/8)
	for i, set := range mask {
		if set {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func extractCPUStats(params []libvirt.TypedParam) (total, system, user uint64) {
	for _, p := range params {
		switch p.Field {
		case "cpu_time":
			total, _ = typedParamUint(p)
		case "system_time":
			system, _ = typedParamUint(p)
		case "user_time":
			user, _ = typedParamUint(p)
		}
	}
	return
}

func typedParamUint(p libvirt.TypedParam) (uint64, bool) {
	v, ok := p.Value.D.(uint64)
	return v, ok
}
