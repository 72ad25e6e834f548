package serialenum

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	details []Detail
	err     error
}

func (f fakeLister) List() ([]Detail, error) { return f.details, f.err }

func TestFindFirstUSBReturnsFirstUSBPort(t *testing.T) {
	lister := fakeLister{details: []Detail{
		{Name: "/dev/ttyS0", IsUSB: false},
		{Name: "/dev/ttyUSB0", IsUSB: true, Product: "QUSB_BULK"},
		{Name: "/dev/ttyUSB1", IsUSB: true, Product: "second"},
	}}

	sel, err := FindFirstUSB(lister)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", sel.Path)
	assert.Equal(t, "QUSB_BULK", sel.Product)
}

func TestFindFirstUSBNoneFoundReturnsEmptyPath(t *testing.T) {
	lister := fakeLister{details: []Detail{{Name: "/dev/ttyS0", IsUSB: false}}}

	sel, err := FindFirstUSB(lister)
	require.NoError(t, err)
	assert.Empty(t, sel.Path)
}

func TestFindFirstUSBPropagatesListError(t *testing.T) {
	lister := fakeLister{err: errors.New("enumeration failed")}

	_, err := FindFirstUSB(lister)
	assert.Error(t, err)
}

func TestNormalizePathLeavesNonWindowsUnchanged(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("linux/darwin-only assertion")
	}
	assert.Equal(t, "/dev/ttyUSB0", NormalizePath("/dev/ttyUSB0"))
}
