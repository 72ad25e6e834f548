package transport

import (
	"go.bug.st/serial"

	"github.com/qedl/qflash/internal/constants"
)

// serialTransport is a Transport backed by a local serial device, the
// common path for EDL devices enumerated as /dev/ttyUSB* or COMn.
type serialTransport struct {
	port serial.Port
	name string
	buf  *ringBuffer
}

func newSerialTransport(cfg Config) (*serialTransport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = constants.SerialBaudRate
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(constants.DefaultTransportReadTimeout); err != nil {
		port.Close()
		return nil, err
	}

	return &serialTransport{
		port: port,
		name: cfg.Port,
		buf:  newRingBuffer(port, cfg.BufferSize),
	}, nil
}

func (s *serialTransport) Read(p []byte) (int, error)  { return s.buf.read(p) }
func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialTransport) Flush() error                { return s.port.Drain() }
func (s *serialTransport) FillBuf() ([]byte, error)    { return s.buf.fillBuf() }
func (s *serialTransport) Consume(n int)               { s.buf.consume(n) }
func (s *serialTransport) Backend() string             { return "serial:" + s.name }
func (s *serialTransport) Close() error                { return s.port.Close() }
