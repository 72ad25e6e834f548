package firehose

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paddedXML is a throwaway request element with one variable-length
// attribute, used to probe encodeOp's sector-alignment padding at an
// exact, test-controlled document length.
type paddedXML struct {
	XMLName xml.Name `xml:"pad"`
	Value   string   `xml:"v,attr"`
}

func TestEncodeOpWrapsEnvelope(t *testing.T) {
	b, err := encodeOp(nopXML{})
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `<?xml version="1.0" encoding="UTF-8" ?>`)
	assert.Contains(t, s, "<data>")
	assert.Contains(t, s, "<nop>")
	assert.Contains(t, s, "</data>")
}

func TestEncodeConfigureBooleanFlags(t *testing.T) {
	b, err := encodeOp(configureXML{
		MemoryName:     "UFS",
		AlwaysValidate: true,
		ZLPAwareHost:   false,
	})
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `AlwaysValidate="1"`)
	assert.Contains(t, s, `ZLPAwareHost="0"`)
}

func TestParseResponseDocACK(t *testing.T) {
	doc := []byte(`<?xml version="1.0" ?><data><response value="ACK" rawmode="false" /></data>`)
	els, err := ParseResponseDoc(doc)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.True(t, IsACK(els[0]))
	assert.False(t, RawMode(els[0]))
}

func TestParseResponseDocLogThenResponse(t *testing.T) {
	doc := []byte(`<?xml version="1.0" ?><data><log value="booting" time="0.1" /><response value="ACK" rawmode="true" /></data>`)
	els, err := ParseResponseDoc(doc)
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.True(t, IsLog(els[0]))
	assert.True(t, IsACK(els[1]))
	assert.True(t, RawMode(els[1]))
}

func TestParseResponseDocNAK(t *testing.T) {
	doc := []byte(`<?xml version="1.0" ?><data><response value="NAK" MaxPayloadSizeToTargetInBytes="8192" /></data>`)
	els, err := ParseResponseDoc(doc)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.True(t, IsNAK(els[0]))
	assert.Equal(t, 8192, AttrInt(els[0], "MaxPayloadSizeToTargetInBytes"))
}

func TestEncodeOpAppendsNewlineOnSectorMultiple(t *testing.T) {
	// Measure the per-character cost of Value to find, by extrapolation,
	// the padding that makes the whole envelope exactly one sector
	// (512 bytes) long — without hard-coding encoding/xml's output format.
	short, err := encodeOp(paddedXML{Value: "a"})
	require.NoError(t, err)
	long, err := encodeOp(paddedXML{Value: "aa"})
	require.NoError(t, err)
	perChar := len(long) - len(short)
	require.Equal(t, 1, perChar)

	base := len(short) - 1 // envelope length contributed by everything but Value
	target := ((base / 512) + 1) * 512
	padLen := target - base

	aligned, err := encodeOp(paddedXML{Value: strings.Repeat("a", padLen)})
	require.NoError(t, err)
	assert.Equal(t, 0, (len(aligned)-1)%512, "expected a sector-aligned body before the trailing newline")
	assert.True(t, bytes.HasSuffix(aligned, []byte("\n")), "expected a trailing newline on a sector-aligned document")

	unaligned, err := encodeOp(paddedXML{Value: strings.Repeat("a", padLen-1)})
	require.NoError(t, err)
	assert.False(t, bytes.HasSuffix(unaligned, []byte("\n")), "expected no trailing newline on a non-sector-aligned document")
}

func TestComposeProgramsDocRendersEntryPerPartition(t *testing.T) {
	doc, err := ComposeProgramsDoc([]ProgramTag{
		{PhysicalPartitionNumber: 0, StartSector: "6", NumPartitionSectors: 4096, SectorSizeInBytes: 4096, Label: "boot_a"},
		{PhysicalPartitionNumber: 0, StartSector: "4102", NumPartitionSectors: 8192, SectorSizeInBytes: 4096, Label: "system_a"},
	})
	require.NoError(t, err)

	s := string(doc)
	assert.Equal(t, 1, strings.Count(s, "<data>"))
	assert.Equal(t, 2, strings.Count(s, "<program"))
	assert.Contains(t, s, `start_sector="6"`)
	assert.Contains(t, s, `num_partition_sectors="4096"`)
	assert.Contains(t, s, `SECTOR_SIZE_IN_BYTES="4096"`)
	assert.Contains(t, s, `label="boot_a"`)
	assert.Contains(t, s, `label="system_a"`)

	els, err := ParseResponseDoc(doc)
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "program", els[0].Tag)
	assert.Equal(t, "6", els[0].Attrs["start_sector"])
}

func TestAttrHelpersDefaultOnMissing(t *testing.T) {
	el := Element{Tag: "response", Attrs: map[string]string{}}
	assert.Equal(t, 0, AttrInt(el, "missing"))
	assert.Equal(t, int64(0), AttrInt64(el, "missing"))
}
