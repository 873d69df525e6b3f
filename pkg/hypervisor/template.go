package hypervisor

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"libvirt.org/go/libvirtxml"
)

const schedMetadataNS = "https://github.com/jacquetpi/sweetspotvm/sched"

var ratioElementRe = regexp.MustCompile(`<sched:ratio\s+([^>]*)/>`)
var ratioAttrRe = regexp.MustCompile(`(\w+)="([0-9.]+)"`)

// Template builds and rewrites libvirt domain descriptions. It never
// talks to the hypervisor directly; callers pass it the XML strings
// read from / written to the connector.
type Template struct {
	loc     string // storage pool location
	machine string
}

// NewTemplate builds a Template for the given machine type. loc is
// stored but not read by Build: a new disk is attached at exactly the
// path given in CreateParams.DiskPath, not placed under loc.
func NewTemplate(loc, machine string) *Template {
	return &Template{loc: loc, machine: machine}
}

// Build renders a brand-new domain descriptor for vm, including the
// cputune/vcpupin block and the oversubscription metadata. The VM
// must not already carry pin state narrower than its vCPU count:
// Build writes one vcpupin entry per row of p.PinMask exactly as
// given (broadcasting one template to every vCPU is done earlier, by
// domain.Entity.SetPinMask).
func (t *Template) Build(p CreateParams) (string, error) {
	hostWidth := 0
	for _, row := range p.PinMask {
		if len(row) > hostWidth {
			hostWidth = len(row)
		}
	}

	dom := &libvirtxml.Domain{
		Type: "kvm",
		Name: p.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(p.MemKB),
			Unit:  "KiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     p.VCPUs,
		},
		CPUTune: &libvirtxml.DomainCPUTune{},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Type:    "hvm",
				Machine: t.machine,
			},
		},
		Metadata: &libvirtxml.DomainMetadata{
			XML: ratioMetadataXML(OversubRatios{CPU: p.CPURatio, Mem: 1.0, Disk: 1.0, Network: 1.0}),
		},
	}

	if p.DiskPath != "" {
		dom.Devices = &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: p.DiskPath},
					},
					Target: &libvirtxml.DomainDiskTarget{Dev: "vda", Bus: "virtio"},
				},
			},
		}
	}

	setVCPUPin(dom, p.PinMask)

	out, err := xml.MarshalIndent(dom, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "hypervisor: failed to marshal domain template")
	}
	return string(out), nil
}

// ReadOrDefaultRatios extracts the oversubscription metadata block
// from an existing domain description. If the block is absent, it
// returns DefaultOversubRatios and defaulted=true; the caller must
// write the descriptor back with the defaults applied and log a
// warning, per the metadata contract.
func (t *Template) ReadOrDefaultRatios(xmlDesc string) (ratios OversubRatios, defaulted bool, err error) {
	m := ratioElementRe.FindStringSubmatch(xmlDesc)
	if m == nil {
		return DefaultOversubRatios, true, nil
	}
	attrs := map[string]float64{}
	for _, pair := range ratioAttrRe.FindAllStringSubmatch(m[1], -1) {
		v, perr := strconv.ParseFloat(pair[2], 64)
		if perr != nil {
			return OversubRatios{}, false, errors.Wrapf(perr, "hypervisor: invalid ratio attribute %s", pair[1])
		}
		attrs[pair[1]] = v
	}
	ratios = OversubRatios{
		CPU:     attrs["cpu"],
		Mem:     attrs["mem"],
		Disk:    attrs["disk"],
		Network: attrs["network"],
	}
	if ratios.CPU == 0 {
		ratios.CPU = DefaultOversubRatios.CPU
	}
	if ratios.Mem == 0 {
		ratios.Mem = DefaultOversubRatios.Mem
	}
	if ratios.Disk == 0 {
		ratios.Disk = DefaultOversubRatios.Disk
	}
	if ratios.Network == 0 {
		ratios.Network = DefaultOversubRatios.Network
	}
	return ratios, false, nil
}

// WithDefaultedRatios rewrites xmlDesc so that it carries an explicit
// oversubscription metadata block, used when ReadOrDefaultRatios
// reported defaulted=true.
func (t *Template) WithDefaultedRatios(xmlDesc string) (string, error) {
	dom := &libvirtxml.Domain{}
	if err := xml.Unmarshal([]byte(xmlDesc), dom); err != nil {
		return "", errors.Wrap(err, "hypervisor: failed to parse domain description")
	}
	dom.Metadata = &libvirtxml.DomainMetadata{XML: ratioMetadataXML(DefaultOversubRatios)}
	out, err := xml.MarshalIndent(dom, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "hypervisor: failed to marshal domain description")
	}
	return string(out), nil
}

// RebuildCPUTune parses an existing domain description and replaces
// its cputune/vcpupin block to match pinMask, leaving the rest of the
// description untouched.
func (t *Template) RebuildCPUTune(xmlDesc string, pinMask [][]bool) (string, error) {
	dom := &libvirtxml.Domain{}
	if err := xml.Unmarshal([]byte(xmlDesc), dom); err != nil {
		return "", errors.Wrap(err, "hypervisor: failed to parse domain description")
	}
	if dom.CPUTune == nil {
		dom.CPUTune = &libvirtxml.DomainCPUTune{}
	}
	setVCPUPin(dom, pinMask)

	out, err := xml.MarshalIndent(dom, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "hypervisor: failed to marshal domain description")
	}
	return string(out), nil
}

func setVCPUPin(dom *libvirtxml.Domain, pinMask [][]bool) {
	pins := make([]libvirtxml.DomainCPUTuneVCPUPin, len(pinMask))
	for vcpu, row := range pinMask {
		pins[vcpu] = libvirtxml.DomainCPUTuneVCPUPin{
			VCPU:   uint(vcpu),
			CPUSet: cpuSetString(row),
		}
	}
	dom.CPUTune.VCPUPin = pins
}

// cpuSetString renders a boolean mask as a libvirt cpuset attribute:
// a comma-separated list of set bit indices.
func cpuSetString(mask []bool) string {
	var b strings.Builder
	sep := ""
	for i, set := range mask {
		if !set {
			continue
		}
		b.WriteString(sep)
		b.WriteString(strconv.Itoa(i))
		sep = ","
	}
	return b.String()
}

func ratioMetadataXML(r OversubRatios) string {
	return fmt.Sprintf(
		`<sched:ratio xmlns:sched=%q cpu="%s" mem="%s" disk="%s" network="%s"/>`,
		schedMetadataNS,
		strconv.FormatFloat(r.CPU, 'f', -1, 64),
		strconv.FormatFloat(r.Mem, 'f', -1, 64),
		strconv.FormatFloat(r.Disk, 'f', -1, 64),
		strconv.FormatFloat(r.Network, 'f', -1, 64),
	)
}
