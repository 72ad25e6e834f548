package firehose

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory interfaces.Transport for engine tests: it
// serves FillBuf/Consume straight off a preloaded queue and records writes.
type fakeTransport struct {
	toRead  *bytes.Buffer
	written bytes.Buffer
	writes  int
}

func newFakeTransport() *fakeTransport { return &fakeTransport{toRead: &bytes.Buffer{}} }

func (f *fakeTransport) queueString(s string) { f.toRead.WriteString(s) }
func (f *fakeTransport) queueBytes(b []byte)  { f.toRead.Write(b) }

func (f *fakeTransport) Read(p []byte) (int, error)  { return f.toRead.Read(p) }
func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes++
	return f.written.Write(p)
}
func (f *fakeTransport) Flush() error                { return nil }
func (f *fakeTransport) FillBuf() ([]byte, error)    { return f.toRead.Bytes(), nil }
func (f *fakeTransport) Consume(n int)               { f.toRead.Next(n) }
func (f *fakeTransport) Backend() string             { return "fake" }
func (f *fakeTransport) Close() error                { return nil }

func TestEngineConfigureACK(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" Version="1" MaxPayloadSizeToTargetInBytes="1048576" /></data>`)

	eng := NewEngine(tr, nil, nil)
	cfg, err := eng.Configure(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 1048576, cfg.SendBufferSize)
	assert.Contains(t, tr.written.String(), "<configure")
}

func TestEngineConfigureShrinksOnNak(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="NAK" MaxPayloadSizeToTargetInBytes="8192" /></data>`)
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" MaxPayloadSizeToTargetInBytes="8192" /></data>`)

	eng := NewEngine(tr, nil, nil)
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1 << 20
	got, err := eng.Configure(cfg)
	require.NoError(t, err)
	assert.Equal(t, 8192, got.SendBufferSize)
}

func TestEngineConfigureParsesVersionAndXMLSize(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" Version="2" MinVersionSupported="1" MaxXMLSizeInBytes="8192" MaxPayloadSizeToTargetInBytes="1048576" /></data>`)

	eng := NewEngine(tr, nil, nil)
	cfg, err := eng.Configure(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Version)
	assert.Equal(t, 8192, cfg.XMLBufSize)
	assert.Equal(t, 8192, eng.maxDocSize())
}

func TestEngineConfigureKeepsSendBufferSectorAligned(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="NAK" MaxPayloadSizeToTargetInBytes="10000" /></data>`)
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" /></data>`)

	eng := NewEngine(tr, nil, nil)
	cfg := DefaultConfig()
	cfg.StorageSectorSize = 4096
	got, err := eng.Configure(cfg)
	require.NoError(t, err)
	assert.Equal(t, 8192, got.SendBufferSize)
	assert.Zero(t, got.SendBufferSize%got.StorageSectorSize)
}

func TestEngineConfigureRejectsOldVersion(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" MinVersionSupported="0" /></data>`)

	eng := NewEngine(tr, nil, nil)
	_, err := eng.Configure(DefaultConfig())
	var verErr *VersionError
	assert.ErrorAs(t, err, &verErr)
}

func TestEngineNop(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" /></data>`)

	eng := NewEngine(tr, nil, nil)
	require.NoError(t, eng.Nop())
	assert.Contains(t, tr.written.String(), "<nop")
}

func TestEngineGetStorageInfo(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" total_blocks="1000000" block_size="4096" /></data>`)

	eng := NewEngine(tr, nil, nil)
	info, err := eng.GetStorageInfo(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), info.TotalBlocks)
	assert.Equal(t, 4096, info.BlockSize)
}

func TestEngineProgramStreamsData(t *testing.T) {
	tr := newFakeTransport()
	payload := []byte("0123456789abcdef")
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" rawmode="true" /></data>`)
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" /></data>`)

	eng := NewEngine(tr, nil, nil)
	eng.cfg.SendBufferSize = 4

	var chunks []int64
	err := eng.Program(ProgramTag{
		PhysicalPartitionNumber: 0,
		StartSector:             "0",
		NumPartitionSectors:     int64(len(payload)),
		SectorSizeInBytes:       1,
		Filename:                "x.bin",
	}, bytes.NewReader(payload), func(sent int64) { chunks = append(chunks, sent) })

	require.NoError(t, err)
	assert.Contains(t, tr.written.String(), string(payload))
	assert.Equal(t, []int64{4, 8, 12, 16}, chunks)
}

func TestEngineProgramSendsTerminalZLPOnUSB(t *testing.T) {
	payload := []byte("01234567")

	run := func(backend string, skipZLP bool) int {
		tr := newFakeTransport()
		tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" rawmode="true" /></data>`)
		tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" /></data>`)

		eng := NewEngine(tr, nil, nil)
		eng.cfg.SendBufferSize = len(payload)
		eng.cfg.Backend = backend
		eng.cfg.SkipUSBZLP = skipZLP

		err := eng.Program(ProgramTag{
			NumPartitionSectors: int64(len(payload)),
			SectorSizeInBytes:   1,
			Filename:            "x.bin",
		}, bytes.NewReader(payload), nil)
		require.NoError(t, err)
		return tr.writes
	}

	// request + one chunk, plus the terminal ZLP only on USB without
	// skip_usb_zlp.
	assert.Equal(t, 3, run(BackendUSB, false))
	assert.Equal(t, 2, run(BackendUSB, true))
	assert.Equal(t, 2, run(BackendSerial, false))
}

func TestEngineProgramFailsOnNakInsteadOfRawmode(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="NAK" /></data>`)

	eng := NewEngine(tr, nil, nil)
	err := eng.Program(ProgramTag{NumPartitionSectors: 1, SectorSizeInBytes: 1}, bytes.NewReader([]byte{0}), nil)
	var nak *NakError
	assert.ErrorAs(t, err, &nak)
}

func TestEngineReadStreamsData(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" rawmode="true" /></data>`)
	tr.queueBytes([]byte("payload-bytes!!!"))
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" /></data>`)

	eng := NewEngine(tr, nil, nil)
	var dst bytes.Buffer
	err := eng.Read(ReadTag{NumPartitionSectors: 16, SectorSizeInBytes: 1}, &dst, nil)
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes!!!", dst.String())
}

func TestEngineResetSendsPowerValue(t *testing.T) {
	tr := newFakeTransport()
	tr.queueString(`<?xml version="1.0" ?><data><response value="ACK" /></data>`)

	eng := NewEngine(tr, nil, nil)
	require.NoError(t, eng.Reset("reset"))
	assert.Contains(t, tr.written.String(), `value="reset"`)
}
