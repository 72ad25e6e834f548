// Package firehose implements the XML-framed configuration and sector I/O
// protocol Sahara hands off to once the programmer is running on-device.
// The engine's read loop and Config/NewEngine construction follow the
// same completion-loop shape used to drive other binary protocol
// engines in this codebase, adapted here from fixed binary completions
// to length-unknown XML documents terminated by `</data>`.
package firehose

import (
	"runtime"

	"github.com/qedl/qflash/internal/constants"
)

// Backend names which channel kind a session rides; it selects the
// terminal-ZLP behavior on program ops.
const (
	BackendSerial = "serial"
	BackendUSB    = "usb"
)

// Config is the Firehose session configuration negotiated with
// <configure>. SendBufferSize stays a positive multiple of
// StorageSectorSize across every renegotiation, except when the device
// offers less than one sector, which is kept as offered.
type Config struct {
	MemoryName                string
	StorageType               string
	Backend                   string
	Verbose                   int
	AlwaysValidate            bool
	MaxDigestTableSizeInBytes int
	ZlpAwareHost              bool
	SkipStorageInit           bool
	SendBufferSize            int
	RecvBufferSize            int
	StorageSectorSize         int
	ProductName               string

	// XMLBufSize is the device-advertised MaxXMLSizeInBytes; it caps how
	// large a document the read loop will accumulate once negotiated.
	XMLBufSize int

	// Session flags.
	BypassStorage   bool
	HashPackets     bool
	ReadBackVerify  bool
	SkipUSBZLP      bool
	SkipFirehoseLog bool

	// Version is the protocol version the device reported in its
	// configure response.
	Version int

	// MinVersionSupported defaults to 1. Configure does not read this
	// field: it checks the MinVersionSupported attribute of the device's
	// configure response against constants.FHProtoVersionSupported and
	// rejects a device that reports an older version.
	MinVersionSupported int
}

// DefaultConfig mirrors the values qsaharaserver/fh_loader default to for a
// UFS target. SkipUSBZLP defaults on for macOS, whose USB stacks
// mishandle the trailing zero-length packet.
func DefaultConfig() Config {
	return Config{
		MemoryName:                "UFS",
		StorageType:               "ufs",
		Backend:                   BackendSerial,
		Verbose:                   0,
		AlwaysValidate:            false,
		MaxDigestTableSizeInBytes: 8192,
		ZlpAwareHost:              true,
		SkipStorageInit:           false,
		SendBufferSize:            constants.DefaultSendBufferSize,
		RecvBufferSize:            constants.DefaultRecvBufferSize,
		StorageSectorSize:         constants.DefaultSectorSizeUFS,
		SkipUSBZLP:                runtime.GOOS == "darwin",
		MinVersionSupported:       1,
	}
}

// ProgramTag describes one <program> element: a sector-aligned write of
// num_partition_sectors from a local file, starting at start_sector on
// physical_partition_number's LUN.
type ProgramTag struct {
	PhysicalPartitionNumber int
	StartSector             string
	NumPartitionSectors     int64
	SectorSizeInBytes       int
	FileSectorOffset        int64
	Filename                string
	Label                   string
}

// ReadTag describes a <read> element, the inverse of ProgramTag.
type ReadTag struct {
	PhysicalPartitionNumber int
	StartSector             string
	NumPartitionSectors     int64
	SectorSizeInBytes       int
	Filename                string
}

// EraseTag describes an <erase> element: zero out a sector range.
type EraseTag struct {
	PhysicalPartitionNumber int
	StartSector             string
	NumPartitionSectors     int64
	SectorSizeInBytes       int
}

// PatchTag describes one <patch> element: a single-value overwrite inside
// an already-programmed partition, used for slot metadata and GPT fixups.
type PatchTag struct {
	PhysicalPartitionNumber int
	Filename                string
	SectorSizeInBytes       int
	ByteOffset              int64
	SizeInBytes             int
	StartSector             string
	What                    string
	Value                   string
}

// StorageInfo is the device's <getstorageinfo> response payload.
type StorageInfo struct {
	TotalBlocks    int64
	BlockSize      int
	PageSize       int
	NumPhysical    int
	ManufacturerID int
	FWVersion      string
	SerialNum      int64
	MemoryType     string
	ProdName       string
}
