package transport

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/qedl/qflash/internal/constants"
)

// Linux usbdevfs ioctl numbers (linux/usbdevice_fs.h). Not exposed by
// golang.org/x/sys/unix, so they're named here by hand, the same way
// other raw ioctl/syscall numbers are carried in this codebase.
const (
	usbdevfsBulk             = 0xc0185502
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
)

// usbdevfsBulkTransfer mirrors struct usbdevfs_bulktransfer.
type usbdevfsBulkTransfer struct {
	ep      uint32
	length  uint32
	timeout uint32
	_       uint32 // padding to align the data pointer on 64-bit
	data    uintptr
}

// usbTransport is a Transport backed by a raw USB bulk endpoint pair, used
// when a device enumerates without a serial-port shim. Each Write/Read
// issues a USBDEVFS_BULK ioctl against the device node opened at
// construction time.
type usbTransport struct {
	f   *os.File
	cfg Config
	buf *ringBuffer
}

func newUSBTransport(cfg Config) (*usbTransport, error) {
	if cfg.InEndpoint == 0 || cfg.OutEndpoint == 0 {
		return nil, fmt.Errorf("usb transport: in/out endpoints not set")
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = 512
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.RingBufferSize
	}

	path := fmt.Sprintf("/dev/bus/usb/%03d/%03d", cfg.Bus, cfg.Address)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	if err := usbIoctl(f, usbdevfsClaimInterface, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("usb transport: claim interface: %w", err)
	}

	t := &usbTransport{f: f, cfg: cfg}
	t.buf = newRingBuffer(bulkReader{t}, cfg.BufferSize)
	return t, nil
}

// bulkReader adapts usbTransport's endpoint read into an io.Reader for the
// shared ringBuffer implementation.
type bulkReader struct{ t *usbTransport }

func (r bulkReader) Read(p []byte) (int, error) { return r.t.readBulk(p) }

func (t *usbTransport) readBulk(p []byte) (int, error) {
	xfer := usbdevfsBulkTransfer{
		ep:      uint32(t.cfg.InEndpoint),
		length:  uint32(len(p)),
		timeout: uint32(constants.DefaultTransportReadTimeout.Milliseconds()),
		data:    uintptr(unsafe.Pointer(&p[0])),
	}
	n, err := usbIoctlBulk(t.f, &xfer)
	return n, err
}

func (t *usbTransport) Read(p []byte) (int, error) { return t.buf.read(p) }

// Write sends p over the OUT bulk endpoint, following with a zero-length
// packet whenever len(p) is an exact multiple of the endpoint's max packet
// size (unless cfg.SkipZLP is set), so the device's USB stack doesn't wait
// for a short packet that never arrives.
func (t *usbTransport) Write(p []byte) (int, error) {
	xfer := usbdevfsBulkTransfer{
		ep:      uint32(t.cfg.OutEndpoint),
		length:  uint32(len(p)),
		timeout: uint32(constants.DefaultTransportReadTimeout.Milliseconds()),
	}
	if len(p) > 0 {
		xfer.data = uintptr(unsafe.Pointer(&p[0]))
	}
	n, err := usbIoctlBulk(t.f, &xfer)
	if err != nil {
		return n, err
	}

	if len(p) > 0 && !t.cfg.SkipZLP && t.cfg.MaxPacketSize > 0 && len(p)%t.cfg.MaxPacketSize == 0 {
		zlp := usbdevfsBulkTransfer{ep: uint32(t.cfg.OutEndpoint), length: 0, timeout: xfer.timeout}
		if _, err := usbIoctlBulk(t.f, &zlp); err != nil {
			return n, fmt.Errorf("usb transport: zero-length packet: %w", err)
		}
	}
	return n, nil
}

func (t *usbTransport) Flush() error             { return nil }
func (t *usbTransport) FillBuf() ([]byte, error) { return t.buf.fillBuf() }
func (t *usbTransport) Consume(n int)            { t.buf.consume(n) }
func (t *usbTransport) Backend() string {
	return fmt.Sprintf("usb:%04x:%04x", t.cfg.VendorID, t.cfg.ProductID)
}

func (t *usbTransport) Close() error {
	usbIoctl(t.f, usbdevfsReleaseInterface, 0)
	return t.f.Close()
}

func usbIoctl(f *os.File, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func usbIoctlBulk(f *os.File, xfer *usbdevfsBulkTransfer) (int, error) {
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), usbdevfsBulk, uintptr(unsafe.Pointer(xfer)))
	if errno != 0 {
		return int(n), errno
	}
	return int(n), nil
}
