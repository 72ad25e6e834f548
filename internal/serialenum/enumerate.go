// Package serialenum picks the EDL programmer's serial port: enumerate
// USB-class serial ports and take the first one. go.bug.st/serial/
// enumerator's own IsUSB flag is the library's notion of "USB-class",
// used here rather than inventing a VID/PID table.
package serialenum

import (
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortSelection names a chosen serial device. An
// empty Path encodes "not found".
type PortSelection struct {
	Path    string
	Product string
}

// Detail is one enumerated port, trimmed to the fields FindFirstUSB
// needs; Lister implementations translate from whatever enumeration
// source they wrap.
type Detail struct {
	Name    string
	IsUSB   bool
	Product string
}

// Lister enumerates available serial ports. Production code uses
// enumeratorLister (go.bug.st/serial/enumerator); tests substitute a
// fake so port selection logic doesn't depend on host hardware.
type Lister interface {
	List() ([]Detail, error)
}

type enumeratorLister struct{}

func (enumeratorLister) List() ([]Detail, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	out := make([]Detail, 0, len(ports))
	for _, p := range ports {
		out = append(out, Detail{Name: p.Name, IsUSB: p.IsUSB, Product: p.Product})
	}
	return out, nil
}

// DefaultLister enumerates the host's real serial ports.
func DefaultLister() Lister { return enumeratorLister{} }

// FindFirstUSB returns the first USB-class port lister reports, or a
// zero PortSelection if none are USB-class. Only enumeration failures
// are returned as errors.
func FindFirstUSB(lister Lister) (PortSelection, error) {
	details, err := lister.List()
	if err != nil {
		return PortSelection{}, err
	}
	for _, d := range details {
		if d.IsUSB {
			return PortSelection{Path: NormalizePath(d.Name), Product: d.Product}, nil
		}
	}
	return PortSelection{}, nil
}

// Enumerate is FindFirstUSB against the host's real ports.
func Enumerate() (PortSelection, error) {
	return FindFirstUSB(DefaultLister())
}

// NormalizePath adapts a raw device name to the path form the transport
// layer expects to open: unchanged on Linux/macOS, prefixed with `\\.\`
// for Windows named-device access.
func NormalizePath(name string) string {
	if runtime.GOOS == "windows" && !strings.HasPrefix(name, `\\.\`) {
		return `\\.\` + name
	}
	return name
}
