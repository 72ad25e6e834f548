package gpt

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHeaderBytes(numEntries, entrySize uint32) []byte {
	b := make([]byte, headerSize)
	copy(b[0:8], Signature)
	binary.LittleEndian.PutUint32(b[8:12], 0x00010000)
	binary.LittleEndian.PutUint32(b[12:16], headerSize)
	binary.LittleEndian.PutUint64(b[24:32], 1)
	binary.LittleEndian.PutUint64(b[72:80], 2)
	binary.LittleEndian.PutUint32(b[80:84], numEntries)
	binary.LittleEndian.PutUint32(b[84:88], entrySize)
	return b
}

func buildEntry(entrySize int, typeGUID byte, first, last uint64, name string) []byte {
	e := make([]byte, entrySize)
	for i := 0; i < 16; i++ {
		e[i] = typeGUID
	}
	binary.LittleEndian.PutUint64(e[32:40], first)
	binary.LittleEndian.PutUint64(e[40:48], last)
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		binary.LittleEndian.PutUint16(e[56+i*2:58+i*2], u)
	}
	return e
}

func TestParseHeaderRejectsBadSignature(t *testing.T) {
	b := make([]byte, headerSize)
	copy(b, "NOTAGPT!")
	_, err := ParseHeader(b)
	assert.Error(t, err)
}

func TestParseHeaderRejectsShortInput(t *testing.T) {
	_, err := ParseHeader([]byte("short"))
	assert.Error(t, err)
}

func TestParseHeaderDecodesFields(t *testing.T) {
	b := buildHeaderBytes(4, 128)
	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, Signature, h.Signature)
	assert.Equal(t, uint64(2), h.PartEntryStartLBA)
	assert.Equal(t, uint32(4), h.NumPartEntries)
	assert.Equal(t, uint32(128), h.PartEntrySize)
}

func TestParseEntriesSkipsUnusedSlots(t *testing.T) {
	h := Header{NumPartEntries: 2, PartEntrySize: 128}
	raw := make([]byte, 0, 256)
	raw = append(raw, make([]byte, 128)...) // unused: all-zero type GUID
	raw = append(raw, buildEntry(128, 0xAB, 100, 200, "boot_a")...)

	parts, err := ParseEntries(h, raw)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "boot_a", parts[0].Name)
	assert.Equal(t, uint64(100), parts[0].FirstLBA)
	assert.Equal(t, uint64(200), parts[0].LastLBA)
}

func TestParseEntriesRejectsShortArray(t *testing.T) {
	h := Header{NumPartEntries: 4, PartEntrySize: 128}
	_, err := ParseEntries(h, make([]byte, 10))
	assert.Error(t, err)
}

func TestParseFullTable(t *testing.T) {
	hdr := buildHeaderBytes(1, 128)
	entries := buildEntry(128, 0xCD, 10, 20, "system")

	tbl, err := Parse(hdr, entries)
	require.NoError(t, err)
	require.Len(t, tbl.Partitions, 1)
	assert.Equal(t, "system", tbl.Partitions[0].Name)
}

func TestDecodeUTF16LENameStopsAtNUL(t *testing.T) {
	b := make([]byte, 10)
	units := utf16.Encode([]rune("hi"))
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], u)
	}
	assert.Equal(t, "hi", decodeUTF16LEName(b))
}
