// Package sahara implements the Sahara handshake, programmer upload, and
// command-mode query protocol spoken before Firehose takes over. Packet
// layout and the manual little-endian field encoding follow the same
// fixed-struct-over-the-wire discipline used for other kernel/device
// control structures in this codebase.
package sahara

// Cmd is a Sahara packet opcode.
type Cmd uint32

const (
	CmdHello         Cmd = 0x01
	CmdHelloResp     Cmd = 0x02
	CmdReadData      Cmd = 0x03
	CmdEndOfImage    Cmd = 0x04
	CmdDone          Cmd = 0x05
	CmdDoneResp      Cmd = 0x06
	CmdReset         Cmd = 0x07
	CmdResetResp     Cmd = 0x08
	CmdCommandReady  Cmd = 0x0B
	CmdSwitchMode    Cmd = 0x0C
	CmdExecute       Cmd = 0x0D
	CmdExecuteResp   Cmd = 0x0E
	CmdExecuteData   Cmd = 0x0F
	CmdMemDebug64    Cmd = 0x10
	CmdMemRead64     Cmd = 0x11
	CmdReadData64    Cmd = 0x12
	CmdXMLSentinel   Cmd = 0x6D783F3C // "<?xm" - Sahara bypassed, device already in Firehose mode
)

func (c Cmd) String() string {
	switch c {
	case CmdHello:
		return "Hello"
	case CmdHelloResp:
		return "HelloResp"
	case CmdReadData:
		return "ReadData"
	case CmdEndOfImage:
		return "EndOfImage"
	case CmdDone:
		return "Done"
	case CmdDoneResp:
		return "DoneResp"
	case CmdReset:
		return "Reset"
	case CmdResetResp:
		return "ResetResp"
	case CmdCommandReady:
		return "CommandReady"
	case CmdSwitchMode:
		return "SwitchMode"
	case CmdExecute:
		return "Execute"
	case CmdExecuteResp:
		return "ExecuteResp"
	case CmdExecuteData:
		return "ExecuteData"
	case CmdMemDebug64:
		return "MemDebug64"
	case CmdMemRead64:
		return "MemRead64"
	case CmdReadData64:
		return "ReadData64"
	case CmdXMLSentinel:
		return "XMLSentinel"
	default:
		return "Unknown"
	}
}

// Mode is a Sahara protocol mode.
type Mode uint32

const (
	ModeWaitingForImage Mode = 0
	ModeMemoryDebug     Mode = 2
	ModeCommand         Mode = 3
)

// CommandSubCmd is a Sahara command-mode subcommand.
type CommandSubCmd uint32

const (
	CommandNop            CommandSubCmd = 0
	CommandReadSerialNum  CommandSubCmd = 1
	CommandReadHwID       CommandSubCmd = 2
	CommandReadOemKeyHash CommandSubCmd = 3
)

// HeaderSize is the size in bytes of the {cmd, len} packet header.
const HeaderSize = 8

// Header is the common {cmd, len} prefix of every Sahara packet.
type Header struct {
	Cmd Cmd
	Len uint32
}

// Hello is the device's opening packet.
type Hello struct {
	Version     uint32
	Compatible  uint32
	MaxLen      uint32
	Mode        Mode
	Reserved    [6]uint32
}

// HelloResp is the host's reply to Hello.
type HelloResp struct {
	Version    uint32
	Compatible uint32
	Status     uint32
	Mode       Mode
	Reserved   [6]uint32
}

// ReadData requests a window of the image the host is uploading.
type ReadData struct {
	Image  uint32
	Offset uint32
	Len    uint32
}

// ReadData64 is the 64-bit-offset variant of ReadData.
type ReadData64 struct {
	Image  uint64
	Offset uint64
	Len    uint64
}

// EndOfImage signals the device finished consuming one image.
type EndOfImage struct {
	Image  uint32
	Status uint32
}

// Done requests the device confirm completion.
type Done struct{}

// DoneResp confirms completion (or failure, via Status).
type DoneResp struct {
	Status uint32
}

// Reset requests the device reset.
type Reset struct{}

// ResetResp confirms a reset.
type ResetResp struct{}

// CommandReady signals the device is ready to accept Execute commands.
type CommandReady struct{}

// SwitchMode asks the device to change protocol mode.
type SwitchMode struct {
	Mode Mode
}

// Execute asks the device to run a command-mode subcommand.
type Execute struct {
	Cmd CommandSubCmd
}

// ExecuteResp reports the response-buffer length for a completed Execute.
type ExecuteResp struct {
	Cmd CommandSubCmd
	Len uint32
}

// ExecuteData asks the device to transmit the Execute response buffer.
type ExecuteData struct {
	Cmd CommandSubCmd
}

// MemDebug64 names a ramdump table's address and length.
type MemDebug64 struct {
	Addr uint64
	Len  uint64
}

// MemRead64 requests a window of device memory.
type MemRead64 struct {
	Addr uint64
	Len  uint64
}

// RamdumpEntry is one 64-byte row of a ramdump table.
type RamdumpEntry struct {
	SavePref    uint64
	Base        uint64
	Len         uint64
	Description [20]byte
	Filename    [20]byte
}

// RamdumpEntrySize is the fixed wire size of a RamdumpEntry.
const RamdumpEntrySize = 64
