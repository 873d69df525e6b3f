// Package dataendpoint stores and retrieves subset/global usage
// samples: a live endpoint backed by the hypervisor connector, a CSV
// trace endpoint for replay, and write-only sinks (InfluxDB, JSON)
// that cannot load samples back. A Pool composes one loader with an
// optional saver, mirroring every sample read to storage.
package dataendpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Header is the first line of every CSV trace, tab-separated.
const Header = "tmp\trec\tres\tval\tconfig\tsubset\tvm_uuid\tvm_cmn\tsb_oc\tsb_unused\tsb_dsc"

// Record is one sample line of the trace format. Which fields are
// required depends on Rec: "global" needs only Tmp/Res/
// Val/Config, "subset" additionally needs Subset/SbOC/SbUnused/SbDsc,
// and "vm" needs Subset/VMUUID/VMCmn/SbOC.
type Record struct {
	Tmp    float64
	Rec    string
	Res    string
	Val    *float64
	Config float64

	Subset   string
	VMUUID   string
	VMCmn    string
	SbOC     string
	SbUnused *float64
	SbDsc    string
}

const (
	recGlobal = "global"
	recSubset = "subset"
	recVM     = "vm"
)

// NewGlobalRecord builds a whole-resource usage record.
func NewGlobalRecord(tmp float64, res string, val *float64, config float64) Record {
	return Record{Tmp: tmp, Rec: recGlobal, Res: res, Val: val, Config: config}
}

// NewSubsetRecord builds a per-subset usage record.
func NewSubsetRecord(tmp float64, res string, val *float64, config float64, subsetID, sbOC string, sbUnused float64, sbDsc string) (Record, error) {
	if subsetID == "" || sbOC == "" {
		return Record{}, errors.New("dataendpoint: subset record requires subset and sb_oc")
	}
	return Record{
		Tmp: tmp, Rec: recSubset, Res: res, Val: val, Config: config,
		Subset: subsetID, SbOC: sbOC, SbUnused: &sbUnused, SbDsc: sbDsc,
	}, nil
}

// NewVMRecord builds a per-consumer usage record.
func NewVMRecord(tmp float64, res string, val *float64, config float64, subsetID, sbOC, vmUUID, vmCmn string) (Record, error) {
	if subsetID == "" || sbOC == "" || vmUUID == "" || vmCmn == "" {
		return Record{}, errors.New("dataendpoint: vm record requires subset, sb_oc, vm_uuid and vm_cmn")
	}
	return Record{
		Tmp: tmp, Rec: recVM, Res: res, Val: val, Config: config,
		Subset: subsetID, SbOC: sbOC, VMUUID: vmUUID, VMCmn: vmCmn,
	}, nil
}

// Line renders r as one tab-separated CSV row, matching Header's
// column order. Unset optional strings and nil floats render as the
// literal "None", the same sentinel the trace reader expects.
func (r Record) Line() string {
	fields := []string{
		formatTimestamp(r.Tmp),
		r.Rec,
		r.Res,
		formatOptFloat(r.Val),
		strconv.FormatFloat(r.Config, 'g', -1, 64),
		orNone(r.Subset),
		orNone(r.VMUUID),
		orNone(r.VMCmn),
		orNone(r.SbOC),
		formatOptFloat(r.SbUnused),
		orNone(r.SbDsc),
	}
	return strings.Join(fields, "\t")
}

func formatTimestamp(t float64) string {
	return strconv.FormatInt(int64(t), 10)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return "None"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// subsetRecordID renders a subset's oversubscription ratio using the
// "subset-<ratio>" naming the trace format keys subset/vm rows by.
func subsetRecordID(oversubID float64) string {
	return fmt.Sprintf("subset-%v", oversubID)
}
