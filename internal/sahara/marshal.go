package sahara

import (
	"encoding/binary"
	"fmt"
)

// MarshalError reports a fixed-layout encode/decode failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const ErrInsufficientData MarshalError = "insufficient data for sahara body"

// EncodePacket renders a full packet: an 8-byte {cmd, len} header followed
// by the little-endian body bytes produced by MarshalBody.
func EncodePacket(cmd Cmd, body interface{}) []byte {
	b := MarshalBody(body)
	buf := make([]byte, HeaderSize+len(b))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(HeaderSize+len(b)))
	copy(buf[HeaderSize:], b)
	return buf
}

// MarshalBody encodes a body struct to its little-endian wire bytes. Each
// Sahara opcode maps to exactly one body layout;
// unrecognized types are a programming error, not a runtime condition.
func MarshalBody(v interface{}) []byte {
	switch b := v.(type) {
	case Hello:
		return marshalHello(&b)
	case *Hello:
		return marshalHello(b)
	case HelloResp:
		return marshalHelloResp(&b)
	case *HelloResp:
		return marshalHelloResp(b)
	case ReadData:
		return marshalReadData(&b)
	case *ReadData:
		return marshalReadData(b)
	case ReadData64:
		return marshalReadData64(&b)
	case *ReadData64:
		return marshalReadData64(b)
	case EndOfImage:
		return marshalEndOfImage(&b)
	case *EndOfImage:
		return marshalEndOfImage(b)
	case Done, *Done:
		return nil
	case DoneResp:
		return marshalDoneResp(&b)
	case *DoneResp:
		return marshalDoneResp(b)
	case Reset, *Reset, ResetResp, *ResetResp, CommandReady, *CommandReady:
		return nil
	case SwitchMode:
		return marshalSwitchMode(&b)
	case *SwitchMode:
		return marshalSwitchMode(b)
	case Execute:
		return marshalExecute(&b)
	case *Execute:
		return marshalExecute(b)
	case ExecuteResp:
		return marshalExecuteResp(&b)
	case *ExecuteResp:
		return marshalExecuteResp(b)
	case ExecuteData:
		return marshalExecuteData(&b)
	case *ExecuteData:
		return marshalExecuteData(b)
	case MemDebug64:
		return marshalMemDebug64(&b)
	case *MemDebug64:
		return marshalMemDebug64(b)
	case MemRead64:
		return marshalMemRead64(&b)
	case *MemRead64:
		return marshalMemRead64(b)
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("sahara: no marshaler for %T", v))
	}
}

func marshalHello(h *Hello) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.Compatible)
	binary.LittleEndian.PutUint32(buf[8:12], h.MaxLen)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Mode))
	for i, r := range h.Reserved {
		binary.LittleEndian.PutUint32(buf[16+i*4:20+i*4], r)
	}
	return buf
}

func unmarshalHello(data []byte, h *Hello) error {
	if len(data) < 40 {
		return ErrInsufficientData
	}
	h.Version = binary.LittleEndian.Uint32(data[0:4])
	h.Compatible = binary.LittleEndian.Uint32(data[4:8])
	h.MaxLen = binary.LittleEndian.Uint32(data[8:12])
	h.Mode = Mode(binary.LittleEndian.Uint32(data[12:16]))
	for i := range h.Reserved {
		h.Reserved[i] = binary.LittleEndian.Uint32(data[16+i*4 : 20+i*4])
	}
	return nil
}

func marshalHelloResp(h *HelloResp) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.Compatible)
	binary.LittleEndian.PutUint32(buf[8:12], h.Status)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Mode))
	for i, r := range h.Reserved {
		binary.LittleEndian.PutUint32(buf[16+i*4:20+i*4], r)
	}
	return buf
}

func unmarshalHelloResp(data []byte, h *HelloResp) error {
	if len(data) < 40 {
		return ErrInsufficientData
	}
	h.Version = binary.LittleEndian.Uint32(data[0:4])
	h.Compatible = binary.LittleEndian.Uint32(data[4:8])
	h.Status = binary.LittleEndian.Uint32(data[8:12])
	h.Mode = Mode(binary.LittleEndian.Uint32(data[12:16]))
	for i := range h.Reserved {
		h.Reserved[i] = binary.LittleEndian.Uint32(data[16+i*4 : 20+i*4])
	}
	return nil
}

func marshalReadData(r *ReadData) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], r.Image)
	binary.LittleEndian.PutUint32(buf[4:8], r.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], r.Len)
	return buf
}

func unmarshalReadData(data []byte, r *ReadData) error {
	if len(data) < 12 {
		return ErrInsufficientData
	}
	r.Image = binary.LittleEndian.Uint32(data[0:4])
	r.Offset = binary.LittleEndian.Uint32(data[4:8])
	r.Len = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

func marshalReadData64(r *ReadData64) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], r.Image)
	binary.LittleEndian.PutUint64(buf[8:16], r.Offset)
	binary.LittleEndian.PutUint64(buf[16:24], r.Len)
	return buf
}

func unmarshalReadData64(data []byte, r *ReadData64) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	r.Image = binary.LittleEndian.Uint64(data[0:8])
	r.Offset = binary.LittleEndian.Uint64(data[8:16])
	r.Len = binary.LittleEndian.Uint64(data[16:24])
	return nil
}

func marshalEndOfImage(e *EndOfImage) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], e.Image)
	binary.LittleEndian.PutUint32(buf[4:8], e.Status)
	return buf
}

func unmarshalEndOfImage(data []byte, e *EndOfImage) error {
	if len(data) < 8 {
		return ErrInsufficientData
	}
	e.Image = binary.LittleEndian.Uint32(data[0:4])
	e.Status = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

func marshalDoneResp(d *DoneResp) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], d.Status)
	return buf
}

func unmarshalDoneResp(data []byte, d *DoneResp) error {
	if len(data) < 4 {
		return ErrInsufficientData
	}
	d.Status = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

func marshalSwitchMode(s *SwitchMode) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.Mode))
	return buf
}

func marshalExecute(e *Execute) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Cmd))
	return buf
}

func unmarshalExecute(data []byte, e *Execute) error {
	if len(data) < 4 {
		return ErrInsufficientData
	}
	e.Cmd = CommandSubCmd(binary.LittleEndian.Uint32(data[0:4]))
	return nil
}

func marshalExecuteResp(e *ExecuteResp) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Cmd))
	binary.LittleEndian.PutUint32(buf[4:8], e.Len)
	return buf
}

func unmarshalExecuteResp(data []byte, e *ExecuteResp) error {
	if len(data) < 8 {
		return ErrInsufficientData
	}
	e.Cmd = CommandSubCmd(binary.LittleEndian.Uint32(data[0:4]))
	e.Len = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

func marshalExecuteData(e *ExecuteData) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Cmd))
	return buf
}

func marshalMemDebug64(m *MemDebug64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], m.Addr)
	binary.LittleEndian.PutUint64(buf[8:16], m.Len)
	return buf
}

func unmarshalMemDebug64(data []byte, m *MemDebug64) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	m.Addr = binary.LittleEndian.Uint64(data[0:8])
	m.Len = binary.LittleEndian.Uint64(data[8:16])
	return nil
}

func marshalMemRead64(m *MemRead64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], m.Addr)
	binary.LittleEndian.PutUint64(buf[8:16], m.Len)
	return buf
}

// UnmarshalRamdumpEntry decodes one fixed 64-byte ramdump table row.
func UnmarshalRamdumpEntry(data []byte) (RamdumpEntry, error) {
	var e RamdumpEntry
	if len(data) < RamdumpEntrySize {
		return e, ErrInsufficientData
	}
	e.SavePref = binary.LittleEndian.Uint64(data[0:8])
	e.Base = binary.LittleEndian.Uint64(data[8:16])
	e.Len = binary.LittleEndian.Uint64(data[16:24])
	copy(e.Description[:], data[24:44])
	copy(e.Filename[:], data[44:64])
	return e, nil
}

// DescriptionString returns the NUL-trimmed description field as a string.
func (e RamdumpEntry) DescriptionString() string {
	return trimNUL(e.Description[:])
}

// FilenameString returns the NUL-trimmed filename field as a string.
func (e RamdumpEntry) FilenameString() string {
	return trimNUL(e.Filename[:])
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
