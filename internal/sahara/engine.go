package sahara

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/qedl/qflash/internal/constants"
	"github.com/qedl/qflash/internal/interfaces"
)

// ImageSource supplies the bytes of the programmer image being uploaded,
// keyed by the device-chosen image index (always 0 for a single ELF/MBN
// programmer).
type ImageSource interface {
	ReadAt(image int, offset int64, p []byte) (int, error)
	Size(image int) int64
}

// Result is what a completed Sahara session learned about the device.
type Result struct {
	// Bypassed is true if the device was already in Firehose mode and the
	// 0x6d783f3c XML sentinel was observed instead of a Hello packet.
	Bypassed bool

	// SerialNum is filled by Run when the device opens in ModeCommand.
	// Run does not fill HwID or OEMKeyHash; Query returns the raw
	// response buffer for those reads instead.
	SerialNum  uint32
	HwID       uint32
	OEMKeyHash []byte

	// Ramdump is not filled by Run; ReadMemDebugTable returns the
	// memory-debug table entries directly.
	Ramdump []RamdumpEntry
}

// Engine drives one Sahara session over a transport: hello handshake,
// programmer upload, and optional command-mode queries. It mirrors an
// opcode-keyed dispatcher shape, adapted here from io_uring-style control
// commands to Sahara's length-prefixed binary packets.
type Engine struct {
	t   interfaces.Transport
	obs interfaces.Observer
	log interfaces.Logger
}

// NewEngine constructs a Sahara engine bound to a transport.
func NewEngine(t interfaces.Transport, obs interfaces.Observer, log interfaces.Logger) *Engine {
	return &Engine{t: t, obs: obs, log: log}
}

// Run drives the handshake and, if the device requests image data, uploads
// it from src. It stops as soon as the device signals Done, a command-mode
// session completes, or the device switches back to ModeWaitingForImage
// after command mode, per the Sahara transition table.
func (e *Engine) Run(src ImageSource) (Result, error) {
	var res Result

	hdr, body, err := e.readPacket()
	if err != nil {
		return res, wrapErr("sahara.Run", err)
	}

	if hdr.Cmd == CmdXMLSentinel {
		res.Bypassed = true
		return res, nil
	}
	if hdr.Cmd != CmdHello {
		return res, unexpectedOpcode("sahara.Run", CmdHello, hdr.Cmd)
	}

	var hello Hello
	if err := unmarshalHello(body, &hello); err != nil {
		return res, wrapErr("sahara.Hello", err)
	}
	e.logf(interfaces.LogInfo, "sahara: hello version=%d mode=%d maxlen=%d", hello.Version, hello.Mode, hello.MaxLen)

	if err := e.send(CmdHelloResp, HelloResp{
		Version:    2,
		Compatible: 1,
		Status:     0,
		Mode:       hello.Mode,
	}); err != nil {
		return res, wrapErr("sahara.HelloResp", err)
	}

	switch hello.Mode {
	case ModeWaitingForImage:
		if err := e.runImageUpload(src, &res); err != nil {
			return res, err
		}
	case ModeCommand:
		if err := e.runCommandMode(&res); err != nil {
			return res, err
		}
	default:
		return res, fmt.Errorf("sahara: unsupported hello mode %d", hello.Mode)
	}

	return res, nil
}

func (e *Engine) runImageUpload(src ImageSource, res *Result) error {
	for {
		hdr, body, err := e.readPacket()
		if err != nil {
			return wrapErr("sahara.upload", err)
		}

		switch hdr.Cmd {
		case CmdReadData:
			var rd ReadData
			if err := unmarshalReadData(body, &rd); err != nil {
				return wrapErr("sahara.ReadData", err)
			}
			if err := e.serveReadData(src, int(rd.Image), int64(rd.Offset), int(rd.Len)); err != nil {
				return err
			}
		case CmdReadData64:
			var rd ReadData64
			if err := unmarshalReadData64(body, &rd); err != nil {
				return wrapErr("sahara.ReadData64", err)
			}
			if err := e.serveReadData(src, int(rd.Image), int64(rd.Offset), int(rd.Len)); err != nil {
				return err
			}
		case CmdEndOfImage:
			var eoi EndOfImage
			if err := unmarshalEndOfImage(body, &eoi); err != nil {
				return wrapErr("sahara.EndOfImage", err)
			}
			if eoi.Status != 0 {
				return &protoError{op: "sahara.EndOfImage", code: "device reported upload failure"}
			}
			e.logf(interfaces.LogDebug, "sahara: end of image %d", eoi.Image)
			if err := e.send(CmdDone, Done{}); err != nil {
				return wrapErr("sahara.Done", err)
			}
		case CmdDoneResp:
			var dr DoneResp
			if err := unmarshalDoneResp(body, &dr); err != nil {
				return wrapErr("sahara.DoneResp", err)
			}
			// A single programmer image is all that is ever uploaded, so
			// any DoneResp status terminates the session; some targets
			// report 0 here even on success.
			e.logf(interfaces.LogInfo, "sahara: done, status=%d", dr.Status)
			return nil
		case CmdResetResp:
			return nil
		default:
			return unexpectedOpcode("sahara.upload", CmdReadData, hdr.Cmd)
		}
	}
}

func (e *Engine) serveReadData(src ImageSource, image int, offset int64, length int) error {
	if length < 0 || offset < 0 {
		return &protoError{op: "sahara.ReadData", code: "upload range out of bounds"}
	}
	buf := make([]byte, length)
	n, err := src.ReadAt(image, offset, buf)
	if err != nil && err != io.EOF {
		return wrapErr("sahara.ReadData", err)
	}
	if _, err := e.t.Write(buf[:n]); err != nil {
		return wrapErr("sahara.ReadData", err)
	}
	if size := src.Size(image); size > 0 {
		pct := constants.ProgressPortOpen
		if size > 0 {
			pct = int(float64(offset+int64(n)) / float64(size) * 100)
		}
		e.progress(pct, "uploading programmer")
	}
	return nil
}

// Query runs a command-mode session against a device that is already
// waiting in ModeCommand, requesting one subcommand and returning its
// decoded response buffer.
func (e *Engine) Query(sub CommandSubCmd) ([]byte, error) {
	hdr, _, err := e.readPacket()
	if err != nil {
		return nil, wrapErr("sahara.Query", err)
	}
	if hdr.Cmd != CmdCommandReady {
		return nil, unexpectedOpcode("sahara.Query", CmdCommandReady, hdr.Cmd)
	}

	if err := e.send(CmdExecute, Execute{Cmd: sub}); err != nil {
		return nil, wrapErr("sahara.Execute", err)
	}

	hdr, body, err := e.readPacket()
	if err != nil {
		return nil, wrapErr("sahara.Execute", err)
	}
	if hdr.Cmd != CmdExecuteResp {
		return nil, unexpectedOpcode("sahara.Execute", CmdExecuteResp, hdr.Cmd)
	}
	var er ExecuteResp
	if err := unmarshalExecuteResp(body, &er); err != nil {
		return nil, wrapErr("sahara.ExecuteResp", err)
	}

	if err := e.send(CmdExecuteData, ExecuteData{Cmd: sub}); err != nil {
		return nil, wrapErr("sahara.ExecuteData", err)
	}

	resp := make([]byte, er.Len)
	if _, err := io.ReadFull(e.t, resp); err != nil {
		return nil, wrapErr("sahara.ExecuteData", err)
	}
	return resp, nil
}

// EndCommandMode switches the device back to ModeWaitingForImage, the
// final transition Firehose needs before it can take over the link.
func (e *Engine) EndCommandMode() error {
	return e.send(CmdSwitchMode, SwitchMode{Mode: ModeWaitingForImage})
}

func (e *Engine) runCommandMode(res *Result) error {
	buf, err := e.Query(CommandReadSerialNum)
	if err == nil && len(buf) >= 4 {
		res.SerialNum = binary.LittleEndian.Uint32(buf[0:4])
	}
	return e.EndCommandMode()
}

// ReadMemDebugTable reads a ramdump table at the address/length the device
// announced in a MemDebug64 packet, decoding it as a sequence of fixed
// RamdumpEntry rows.
func (e *Engine) ReadMemDebugTable() ([]RamdumpEntry, error) {
	hdr, body, err := e.readPacket()
	if err != nil {
		return nil, wrapErr("sahara.MemDebug64", err)
	}
	if hdr.Cmd != CmdMemDebug64 {
		return nil, unexpectedOpcode("sahara.MemDebug64", CmdMemDebug64, hdr.Cmd)
	}
	var md MemDebug64
	if err := unmarshalMemDebug64(body, &md); err != nil {
		return nil, wrapErr("sahara.MemDebug64", err)
	}

	if err := e.send(CmdMemRead64, MemRead64{Addr: md.Addr, Len: md.Len}); err != nil {
		return nil, wrapErr("sahara.MemRead64", err)
	}

	raw := make([]byte, md.Len)
	if _, err := io.ReadFull(e.t, raw); err != nil {
		return nil, wrapErr("sahara.MemRead64", err)
	}

	var entries []RamdumpEntry
	for off := 0; off+RamdumpEntrySize <= len(raw); off += RamdumpEntrySize {
		ent, err := UnmarshalRamdumpEntry(raw[off : off+RamdumpEntrySize])
		if err != nil {
			break
		}
		entries = append(entries, ent)
	}
	return entries, nil
}

func (e *Engine) readPacket() (Header, []byte, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(e.t, hdrBuf); err != nil {
		return Header{}, nil, err
	}
	cmd := Cmd(binary.LittleEndian.Uint32(hdrBuf[0:4]))
	length := binary.LittleEndian.Uint32(hdrBuf[4:8])

	if cmd == CmdXMLSentinel {
		return Header{Cmd: cmd, Len: length}, nil, nil
	}
	if length < HeaderSize || length > constants.MaxSaharaPacketSize {
		return Header{}, nil, &protoError{op: "sahara.readPacket", code: "oversize packet"}
	}

	body := make([]byte, length-HeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(e.t, body); err != nil {
			return Header{}, nil, err
		}
	}
	return Header{Cmd: cmd, Len: length}, body, nil
}

func (e *Engine) send(cmd Cmd, body interface{}) error {
	_, err := e.t.Write(EncodePacket(cmd, body))
	return err
}

func (e *Engine) progress(pct int, step string) {
	if e.obs != nil {
		e.obs.ObserveProgress(pct, step)
	}
}

func (e *Engine) logf(level interfaces.LogLevel, format string, args ...interface{}) {
	if e.obs != nil {
		e.obs.ObserveLog(level, "sahara", fmt.Sprintf(format, args...))
	}
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

type protoError struct {
	op   string
	code string
}

func (p *protoError) Error() string {
	return fmt.Sprintf("sahara: %s: %s", p.op, p.code)
}

func unexpectedOpcode(op string, want, got Cmd) error {
	return &protoError{op: op, code: fmt.Sprintf("expected %s, got %s (0x%x)", want, got, uint32(got))}
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
