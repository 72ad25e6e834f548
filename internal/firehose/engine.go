package firehose

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/qedl/qflash/internal/constants"
	"github.com/qedl/qflash/internal/interfaces"
)

// NakError reports a <response value="NAK"> from the device, carrying
// whatever attributes it sent along.
type NakError struct {
	Attrs map[string]string
}

func (e *NakError) Error() string {
	return fmt.Sprintf("firehose: nak: %v", e.Attrs)
}

// VersionError reports a device protocol version below
// constants.FHProtoVersionSupported.
type VersionError struct {
	DeviceVersion int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("firehose: device protocol version %d too old", e.DeviceVersion)
}

// Engine drives one Firehose session over a transport: configuration
// negotiation, then a sequence of program/read/patch/erase/query
// operations. It follows the same shape as other protocol engines here:
// a Config-constructed struct with a dedicated read loop, logging and an
// optional Observer threaded through every operation.
type Engine struct {
	t   interfaces.Transport
	obs interfaces.Observer
	log interfaces.Logger
	cfg Config
}

// NewEngine constructs a Firehose engine bound to a transport. Call
// Configure before any other operation.
func NewEngine(t interfaces.Transport, obs interfaces.Observer, log interfaces.Logger) *Engine {
	return &Engine{t: t, obs: obs, log: log}
}

// Configure negotiates session parameters with the device. If the device
// NAKs with a smaller MaxPayloadSizeToTargetInBytes than requested, the
// buffer size is shrunk and configure is re-sent; a NAK that offers a
// size >= what was requested, or any other NAK, is an error. At most three
// configure requests are sent in all. Growing the buffer only happens on
// an explicit larger capability hint from the device, never
// speculatively.
func (e *Engine) Configure(want Config) (Config, error) {
	cfg := want
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = constants.DefaultSendBufferSize
	}
	if cfg.StorageSectorSize <= 0 {
		cfg.StorageSectorSize = constants.DefaultSectorSizeUFS
	}
	cfg.SendBufferSize = alignDown(cfg.SendBufferSize, cfg.StorageSectorSize)

	grownOnce := false
	for attempt := 0; attempt < 3; attempt++ {
		req := configureXML{
			MemoryName:                cfg.MemoryName,
			Verbose:                   cfg.Verbose,
			AlwaysValidate:            flag(cfg.AlwaysValidate),
			MaxDigestTableSizeInBytes: cfg.MaxDigestTableSizeInBytes,
			ZLPAwareHost:              flag(cfg.ZlpAwareHost),
			SkipStorageInit:           flag(cfg.SkipStorageInit),
			SendBufferSize:            cfg.SendBufferSize,
		}
		if err := e.sendOp(req); err != nil {
			return cfg, err
		}

		resp, _, err := e.readUntilResponse()
		if err != nil {
			return cfg, err
		}

		if IsACK(resp) {
			if vStr, ok := resp.Attrs["MinVersionSupported"]; ok {
				if v, err := strconv.Atoi(vStr); err == nil && v < constants.FHProtoVersionSupported {
					return cfg, &VersionError{DeviceVersion: v}
				}
			}
			if v := AttrInt(resp, "Version"); v > 0 {
				cfg.Version = v
			}
			if v := AttrInt(resp, "MaxXMLSizeInBytes"); v > 0 {
				cfg.XMLBufSize = v
			}
			if size := AttrInt(resp, "MaxPayloadSizeToTargetInBytes"); size > 0 {
				cfg.SendBufferSize = alignDown(size, cfg.StorageSectorSize)
			}
			// If the device can take more than we negotiated, re-send
			// configure once with the larger value to maximize throughput.
			if supported := AttrInt(resp, "MaxPayloadSizeToTargetInBytesSupported"); !grownOnce && supported > cfg.SendBufferSize {
				grownOnce = true
				e.logf("firehose: configure ack offers larger buffer, growing send_buffer_size %d -> %d", cfg.SendBufferSize, supported)
				cfg.SendBufferSize = alignDown(supported, cfg.StorageSectorSize)
				continue
			}
			e.cfg = cfg
			return cfg, nil
		}

		if offered := AttrInt(resp, "MaxPayloadSizeToTargetInBytes"); offered > 0 && offered < cfg.SendBufferSize {
			e.logf("firehose: configure nak, shrinking send_buffer_size %d -> %d", cfg.SendBufferSize, offered)
			cfg.SendBufferSize = alignDown(offered, cfg.StorageSectorSize)
			continue
		}

		// NAK without a usable MaxPayloadSizeToTargetInBytes hint: best
		// effort reset_to_edl, then surface a clear error.
		_ = e.Reset("reset_to_edl")
		return cfg, &NakError{Attrs: resp.Attrs}
	}

	return cfg, &NakError{Attrs: map[string]string{"reason": "configure retry exhausted"}}
}

// Nop round-trips a keepalive <nop> request.
func (e *Engine) Nop() error {
	if err := e.sendOp(nopXML{}); err != nil {
		return err
	}
	return e.expectACK()
}

// GetStorageInfo queries the device's storage geometry for a LUN.
func (e *Engine) GetStorageInfo(lun int) (StorageInfo, error) {
	if err := e.sendOp(getStorageInfoXML{PhysicalPartitionNumber: lun}); err != nil {
		return StorageInfo{}, err
	}
	resp, _, err := e.readUntilResponse()
	if err != nil {
		return StorageInfo{}, err
	}
	if !IsACK(resp) {
		return StorageInfo{}, &NakError{Attrs: resp.Attrs}
	}
	return StorageInfo{
		TotalBlocks:    AttrInt64(resp, "total_blocks"),
		BlockSize:      AttrInt(resp, "block_size"),
		PageSize:       AttrInt(resp, "page_size"),
		NumPhysical:    AttrInt(resp, "num_physical"),
		ManufacturerID: AttrInt(resp, "manufacturer_id"),
		FWVersion:      resp.Attrs["fw_version"],
		SerialNum:      AttrInt64(resp, "serial_num"),
		MemoryType:     resp.Attrs["mem_type"],
		ProdName:       resp.Attrs["prod_name"],
	}, nil
}

// Patch sends a single <patch> element, a synchronous operation with no
// associated data phase.
func (e *Engine) Patch(p PatchTag) error {
	if err := e.sendOp(patchXML{
		PhysicalPartitionNumber: p.PhysicalPartitionNumber,
		Filename:                p.Filename,
		SectorSizeInBytes:       p.SectorSizeInBytes,
		ByteOffset:              p.ByteOffset,
		SizeInBytes:             p.SizeInBytes,
		StartSector:             p.StartSector,
		What:                    p.What,
		Value:                   p.Value,
	}); err != nil {
		return err
	}
	return e.expectACK()
}

// Erase sends a single <erase> element, synchronous like Patch.
func (e *Engine) Erase(tag EraseTag) error {
	if err := e.sendOp(eraseXML{
		PhysicalPartitionNumber: tag.PhysicalPartitionNumber,
		StartSector:             tag.StartSector,
		NumPartitionSectors:     tag.NumPartitionSectors,
		SectorSizeInBytes:       tag.SectorSizeInBytes,
	}); err != nil {
		return err
	}
	return e.expectACK()
}

// Peek reads sizeInBytes of device memory at addr, synchronous.
func (e *Engine) Peek(addr uint64, sizeInBytes int) error {
	if err := e.sendOp(peekXML{AddressInBytes: fmt.Sprintf("0x%x", addr), SizeInBytes: sizeInBytes}); err != nil {
		return err
	}
	return e.expectACK()
}

// Poke writes value to device memory at addr, synchronous.
func (e *Engine) Poke(addr uint64, sizeInBytes int, value string) error {
	if err := e.sendOp(pokeXML{AddressInBytes: fmt.Sprintf("0x%x", addr), SizeInBytes: sizeInBytes, Value: value}); err != nil {
		return err
	}
	return e.expectACK()
}

// GetSha256Digest requests a content digest for num sectors starting at
// startSector on lun. The device returns the digest as a response
// attribute rather than a data phase.
func (e *Engine) GetSha256Digest(lun int, startSector string, num int64) (string, error) {
	if err := e.sendOp(getSha256DigestXML{
		PhysicalPartitionNumber: lun,
		StartSector:             startSector,
		NumPartitionSectors:     num,
	}); err != nil {
		return "", err
	}
	resp, _, err := e.readUntilResponse()
	if err != nil {
		return "", err
	}
	if !IsACK(resp) {
		return "", &NakError{Attrs: resp.Attrs}
	}
	return resp.Attrs["sha256"], nil
}

// SetBootableStorageDrive selects the active boot slot: value 1 for slot
// A, 2 for slot B.
func (e *Engine) SetBootableStorageDrive(value int) error {
	if err := e.sendOp(setBootableXML{Value: value}); err != nil {
		return err
	}
	return e.expectACK()
}

// Reset asks the device to perform the power action named by value, sent
// verbatim: "reset", "reset_to_edl", or the "reset_to_fastboot"/
// "reset_to_recovery" values the reboot commands use. A plain system
// reboot uses "reset"; only an EDL re-entry path should ever request
// "reset_to_edl".
func (e *Engine) Reset(value string) error {
	if err := e.sendOp(resetXML{Value: value}); err != nil {
		return err
	}
	return e.expectACK()
}

// Program streams num.NumPartitionSectors*num.SectorSizeInBytes bytes from
// src to the device in configured-send-buffer-sized chunks, following the
// <program> request's ACK/rawmode handshake. If src ends before that many
// bytes, the rest of the sector range is padded with zeros. onChunk, if
// non-nil, is called after each chunk is written with the cumulative byte
// count.
func (e *Engine) Program(tag ProgramTag, src io.Reader, onChunk func(sent int64)) error {
	if err := e.sendOp(programXML{
		PhysicalPartitionNumber: tag.PhysicalPartitionNumber,
		StartSector:             tag.StartSector,
		NumPartitionSectors:     tag.NumPartitionSectors,
		SectorSizeInBytes:       tag.SectorSizeInBytes,
		FileSectorOffset:        tag.FileSectorOffset,
		Filename:                tag.Filename,
		Label:                   tag.Label,
	}); err != nil {
		return err
	}

	ack, _, err := e.readUntilResponse()
	if err != nil {
		return err
	}
	if !IsACK(ack) || !RawMode(ack) {
		return &NakError{Attrs: ack.Attrs}
	}

	total := tag.NumPartitionSectors * int64(tag.SectorSizeInBytes)
	chunkSize := e.chunkSize()
	var sent int64
	buf := make([]byte, chunkSize)

	for sent < total {
		n := chunkSize
		if remaining := total - sent; int64(n) > remaining {
			n = int(remaining)
		}
		if got, err := io.ReadFull(src, buf[:n]); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				return fmt.Errorf("firehose: program: reading source: %w", err)
			}
			for i := got; i < n; i++ {
				buf[i] = 0
			}
		}
		if _, err := e.t.Write(buf[:n]); err != nil {
			return fmt.Errorf("firehose: program: writing device: %w", err)
		}
		sent += int64(n)
		if onChunk != nil {
			onChunk(sent)
		}
	}

	if e.cfg.Backend == BackendUSB && !e.cfg.SkipUSBZLP {
		if _, err := e.t.Write(nil); err != nil {
			return fmt.Errorf("firehose: program: terminal zlp: %w", err)
		}
	}

	return e.expectACK()
}

// Read streams num.NumPartitionSectors*num.SectorSizeInBytes bytes from
// the device to dst, the inverse of Program.
func (e *Engine) Read(tag ReadTag, dst io.Writer, onChunk func(read int64)) error {
	if err := e.sendOp(readXML{
		PhysicalPartitionNumber: tag.PhysicalPartitionNumber,
		StartSector:             tag.StartSector,
		NumPartitionSectors:     tag.NumPartitionSectors,
		SectorSizeInBytes:       tag.SectorSizeInBytes,
		Filename:                tag.Filename,
	}); err != nil {
		return err
	}

	ack, _, err := e.readUntilResponse()
	if err != nil {
		return err
	}
	if !IsACK(ack) || !RawMode(ack) {
		return &NakError{Attrs: ack.Attrs}
	}

	total := tag.NumPartitionSectors * int64(tag.SectorSizeInBytes)
	chunkSize := e.chunkSize()
	var read int64
	buf := make([]byte, chunkSize)

	for read < total {
		n := chunkSize
		if remaining := total - read; int64(n) > remaining {
			n = int(remaining)
		}
		if _, err := io.ReadFull(e.t, buf[:n]); err != nil {
			return fmt.Errorf("firehose: read: reading device: %w", err)
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return fmt.Errorf("firehose: read: writing dest: %w", err)
		}
		read += int64(n)
		if onChunk != nil {
			onChunk(read)
		}
	}

	return e.expectACK()
}

func (e *Engine) chunkSize() int {
	if e.cfg.SendBufferSize > 0 {
		return e.cfg.SendBufferSize
	}
	return constants.DefaultSendBufferSize
}

// maxDocSize bounds the read loop's terminator scan: the negotiated
// MaxXMLSizeInBytes once a configure response supplied one, the
// compile-time ceiling before that.
func (e *Engine) maxDocSize() int {
	if e.cfg.XMLBufSize > 0 {
		return e.cfg.XMLBufSize
	}
	return constants.MaxFirehoseDocSize
}

// alignDown rounds size down to a whole number of storage sectors,
// keeping the send buffer's sector-multiple invariant through every
// renegotiation. A size smaller than one sector is returned unchanged.
func alignDown(size, sector int) int {
	if sector <= 0 {
		return size
	}
	if aligned := size - size%sector; aligned > 0 {
		return aligned
	}
	return size
}

func (e *Engine) expectACK() error {
	resp, _, err := e.readUntilResponse()
	if err != nil {
		return err
	}
	if !IsACK(resp) {
		return &NakError{Attrs: resp.Attrs}
	}
	return nil
}

func (e *Engine) sendOp(v interface{}) error {
	b, err := encodeOp(v)
	if err != nil {
		return err
	}
	_, err = e.t.Write(b)
	return err
}

// readUntilResponse reads documents until a <response> element is seen,
// forwarding any <log> elements to the Observer along the way.
func (e *Engine) readUntilResponse() (Element, []Element, error) {
	var logs []Element
	for {
		els, err := e.readDoc()
		if err != nil {
			return Element{}, logs, err
		}
		for _, el := range els {
			switch {
			case IsLog(el):
				logs = append(logs, el)
				e.observeLog(el)
			case el.Attrs["AttemptRestart"] != "":
				_ = e.Reset("reset_to_edl")
				return Element{}, logs, fmt.Errorf("firehose: device requested restart: %v", el.Attrs)
			case el.Attrs["AttemptRetry"] != "":
				continue
			case el.Tag == "response":
				return el, logs, nil
			}
		}
	}
}

// readDoc accumulates bytes from the transport until a complete
// `<data>...</data>` document has arrived, then parses it. Only the
// bytes belonging to that document are consumed from the transport;
// anything a chunk carries past the terminator is left buffered there
// for the next call, since a single read can return more than one
// document concatenated (devices and the in-process fake both do this).
func (e *Engine) readDoc() ([]Element, error) {
	const terminator = "</data>"
	var acc []byte
	for {
		chunk, err := e.t.FillBuf()
		if err != nil {
			return nil, fmt.Errorf("firehose: read response: %w", err)
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("firehose: read response: no data")
		}

		prevLen := len(acc)
		acc = append(acc, chunk...)

		if idx := bytes.Index(acc, []byte(terminator)); idx >= 0 {
			docEnd := idx + len(terminator)
			e.t.Consume(docEnd - prevLen)
			return ParseResponseDoc(acc[:docEnd])
		}
		e.t.Consume(len(chunk))

		if limit := e.maxDocSize(); len(acc) > limit {
			return nil, fmt.Errorf("firehose: response document exceeds %d bytes without terminator", limit)
		}
	}
}

func (e *Engine) observeLog(el Element) {
	if e.obs != nil {
		e.obs.ObserveLog(interfaces.LogInfo, "firehose", el.Attrs["value"])
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}
