// Package transport provides the buffered byte channel Sahara and Firehose
// run over: a serial port or a USB bulk endpoint pair, wrapped in a small
// lookahead buffer so callers can peek for Firehose's `</data>` terminator
// without losing bytes.
package transport

import (
	"fmt"

	"github.com/qedl/qflash/internal/constants"
	"github.com/qedl/qflash/internal/interfaces"
	"github.com/qedl/qflash/internal/logging"
)

// Kind selects which concrete transport backend to open.
type Kind string

const (
	KindSerial Kind = "serial"
	KindUSB    Kind = "usb"
)

// Config describes how to open a transport: a serial device path, or a
// USB bus/address pair discovered separately.
type Config struct {
	Kind Kind

	// Serial-only.
	Port     string
	BaudRate int

	// USB-only. Bus/Address identify a device already opened by the
	// caller's enumeration step; VendorID/ProductID are carried for
	// logging and error messages only.
	Bus, Address            int
	VendorID, ProductID     uint16
	InEndpoint, OutEndpoint byte
	MaxPacketSize           int

	// SkipZLP suppresses the trailing zero-length packet otherwise sent
	// after a bulk OUT whose length is an exact multiple of
	// MaxPacketSize. macOS USB stacks mishandle the trailing ZLP, so
	// callers default this on there.
	SkipZLP bool

	BufferSize int
}

// DefaultConfig returns sensible defaults for the serial backend, the
// common case for EDL devices discovered via serial port enumeration.
func DefaultConfig(port string) Config {
	return Config{
		Kind:       KindSerial,
		Port:       port,
		BaudRate:   constants.SerialBaudRate,
		BufferSize: constants.RingBufferSize,
	}
}

// New opens a transport backend according to config: validate, construct,
// log, return the interface rather than the concrete type.
func New(config Config) (interfaces.Transport, error) {
	logger := logging.Default()
	if config.BufferSize <= 0 {
		config.BufferSize = constants.RingBufferSize
	}

	switch config.Kind {
	case KindSerial:
		logger.Debug("opening serial transport", "port", config.Port, "baud", config.BaudRate)
		t, err := newSerialTransport(config)
		if err != nil {
			logger.Error("failed to open serial transport", "port", config.Port, "error", err)
			return nil, err
		}
		logger.Info("opened serial transport", "port", config.Port)
		return t, nil
	case KindUSB:
		logger.Debug("opening usb transport", "bus", config.Bus, "address", config.Address)
		t, err := newUSBTransport(config)
		if err != nil {
			logger.Error("failed to open usb transport", "bus", config.Bus, "address", config.Address, "error", err)
			return nil, err
		}
		logger.Info("opened usb transport", "bus", config.Bus, "address", config.Address)
		return t, nil
	default:
		return nil, fmt.Errorf("transport: unknown backend kind %q", config.Kind)
	}
}
