package constants

import "time"

// Protocol and buffer defaults.
const (
	// DefaultSendBufferSize is the initial Firehose send_buffer_size (1 MiB).
	DefaultSendBufferSize = 1 << 20

	// DefaultRecvBufferSize is the default Firehose recv_buffer_size.
	DefaultRecvBufferSize = 4096

	// DefaultSectorSizeUFS is storage_sector_size for UFS/NAND/NOR targets.
	DefaultSectorSizeUFS = 4096

	// DefaultSectorSizeEMMC is storage_sector_size for eMMC/NVMe targets.
	DefaultSectorSizeEMMC = 512

	// RingBufferSize is the internal lookahead buffer transport.Transport
	// keeps for documents that aren't length-delimited on serial.
	RingBufferSize = 4096

	// MaxSaharaPacketSize bounds a single Sahara packet.
	MaxSaharaPacketSize = 4096

	// MaxFirehoseDocSize bounds how many bytes the Firehose read loop will
	// accumulate while looking for a `</data>` terminator before giving up.
	MaxFirehoseDocSize = 1 << 20

	// FHProtoVersionSupported is the minimum Firehose protocol version this
	// client accepts from MinVersionSupported.
	FHProtoVersionSupported = 1

	// AutoAssignDeviceID indicates no specific LUN/device has been picked.
	AutoAssignDeviceID = -1
)

// Timing constants for orchestrator pacing.
const (
	// DefaultPartitionSettleDelay is the wait between partitions during a
	// flash run, to tolerate slow device-side transitions. Configurable;
	// this is only the default.
	DefaultPartitionSettleDelay = 1 * time.Second

	// DefaultTransportReadTimeout is the default read timeout for both the
	// serial and USB transport backends.
	DefaultTransportReadTimeout = 1 * time.Second

	// SerialBaudRate is the fixed baud rate for the serial backend.
	SerialBaudRate = 115200
)

// Progress anchor percentages.
const (
	ProgressValidate       = 5
	ProgressSuperImage     = 10
	ProgressPortOpen       = 20
	ProgressProgramBase    = 20
	ProgramShare           = 60
	ProgressPatchBase      = 80
	PatchShare             = 15
	ProgressSetActiveSlot  = 95
	ProgressDone           = 100
)
