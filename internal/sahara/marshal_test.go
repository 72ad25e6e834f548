package sahara

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePacketHello(t *testing.T) {
	pkt := EncodePacket(CmdHello, Hello{Version: 2, Compatible: 1, MaxLen: 1024, Mode: ModeWaitingForImage})
	require.Len(t, pkt, HeaderSize+40)

	var hello Hello
	require.NoError(t, unmarshalHello(pkt[HeaderSize:], &hello))
	assert.Equal(t, uint32(2), hello.Version)
	assert.Equal(t, uint32(1024), hello.MaxLen)
	assert.Equal(t, ModeWaitingForImage, hello.Mode)
}

func TestEncodePacketEmptyBody(t *testing.T) {
	pkt := EncodePacket(CmdDone, Done{})
	assert.Len(t, pkt, HeaderSize)
	assert.Equal(t, uint32(CmdDone), binary.LittleEndian.Uint32(pkt[0:4]))
	assert.Equal(t, uint32(HeaderSize), binary.LittleEndian.Uint32(pkt[4:8]))
}

func TestReadDataRoundTrip(t *testing.T) {
	b := marshalReadData(&ReadData{Image: 1, Offset: 4096, Len: 512})
	var rd ReadData
	require.NoError(t, unmarshalReadData(b, &rd))
	assert.Equal(t, uint32(1), rd.Image)
	assert.Equal(t, uint32(4096), rd.Offset)
	assert.Equal(t, uint32(512), rd.Len)
}

func TestReadData64RoundTrip(t *testing.T) {
	b := marshalReadData64(&ReadData64{Image: 0, Offset: 1 << 32, Len: 8192})
	var rd ReadData64
	require.NoError(t, unmarshalReadData64(b, &rd))
	assert.Equal(t, uint64(1<<32), rd.Offset)
	assert.Equal(t, uint64(8192), rd.Len)
}

func TestEndOfImageRoundTrip(t *testing.T) {
	b := marshalEndOfImage(&EndOfImage{Image: 0, Status: 0})
	var eoi EndOfImage
	require.NoError(t, unmarshalEndOfImage(b, &eoi))
	assert.Equal(t, uint32(0), eoi.Status)
}

func TestDoneRespRoundTrip(t *testing.T) {
	b := marshalDoneResp(&DoneResp{Status: 1})
	var dr DoneResp
	require.NoError(t, unmarshalDoneResp(b, &dr))
	assert.Equal(t, uint32(1), dr.Status)
}

func TestExecuteRespRoundTrip(t *testing.T) {
	b := marshalExecuteResp(&ExecuteResp{Cmd: CommandReadSerialNum, Len: 4})
	var er ExecuteResp
	require.NoError(t, unmarshalExecuteResp(b, &er))
	assert.Equal(t, CommandReadSerialNum, er.Cmd)
	assert.Equal(t, uint32(4), er.Len)
}

func TestMemDebug64RoundTrip(t *testing.T) {
	b := marshalMemDebug64(&MemDebug64{Addr: 0x9000_0000, Len: 56 * 3})
	var md MemDebug64
	require.NoError(t, unmarshalMemDebug64(b, &md))
	assert.Equal(t, uint64(0x90000000), md.Addr)
	assert.Equal(t, uint64(168), md.Len)
}

func TestUnmarshalRamdumpEntry(t *testing.T) {
	raw := make([]byte, RamdumpEntrySize)
	raw[0] = 1 // save_pref low byte
	copy(raw[24:], []byte("DDR\x00"))
	copy(raw[44:], []byte("ddr.bin\x00"))

	ent, err := UnmarshalRamdumpEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, "DDR", ent.DescriptionString())
	assert.Equal(t, "ddr.bin", ent.FilenameString())
}

func TestUnmarshalInsufficientData(t *testing.T) {
	_, err := UnmarshalRamdumpEntry(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInsufficientData)

	var h Hello
	assert.ErrorIs(t, unmarshalHello(make([]byte, 4), &h), ErrInsufficientData)
}

func TestMarshalBodyPanicsOnUnknownType(t *testing.T) {
	assert.Panics(t, func() {
		MarshalBody(struct{ X int }{})
	})
}
