package dataendpoint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobalRecordLineRendersNoneForMissingVal(t *testing.T) {
	rec := NewGlobalRecord(10, "cpu", nil, 8)
	line := rec.Line()
	cols := strings.Split(line, "\t")
	require.Equal(t, len(strings.Split(Header, "\t")), len(cols)) // sanity: header column count matches
	require.Equal(t, 11, len(cols))
	require.Equal(t, "10", cols[0])
	require.Equal(t, "global", cols[1])
	require.Equal(t, "cpu", cols[2])
	require.Equal(t, "None", cols[3])
	require.Equal(t, "None", cols[5]) // subset unset
}

func TestSubsetRecordRequiresFields(t *testing.T) {
	_, err := NewSubsetRecord(1, "cpu", nil, 4, "", "2.0", 1, "{}")
	require.Error(t, err)

	val := 0.5
	rec, err := NewSubsetRecord(1, "cpu", &val, 4, "subset-2.0", "2.0", 1, "{}")
	require.NoError(t, err)
	require.Equal(t, "subset-2.0", rec.Subset)
}

func TestVMRecordRequiresFields(t *testing.T) {
	_, err := NewVMRecord(1, "cpu", nil, 2, "subset-2.0", "2.0", "", "vm1")
	require.Error(t, err)

	rec, err := NewVMRecord(1, "cpu", nil, 2, "subset-2.0", "2.0", "uuid-1", "vm1")
	require.NoError(t, err)
	require.Equal(t, "uuid-1", rec.VMUUID)
	require.Equal(t, "None", strings.Split(rec.Line(), "\t")[3])
}

func TestHeaderHasElevenColumns(t *testing.T) {
	require.Equal(t, 11, len(strings.Split(Header, "\t")))
}
