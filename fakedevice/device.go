// Package fakedevice simulates an on-device Firehose programmer over an
// in-process interfaces.Transport, so integration tests can drive the
// real firehose.Engine and internal/pkgvalidate-produced flash plans
// without real hardware. The sharded in-memory LUN storage uses the same
// per-shard RWMutex trick as a RAM-disk backend, here addressing N
// Firehose LUNs by physical_partition_number instead of one block device.
package fakedevice

import "sync"

// shardSize is the 64 KiB granularity at which LUN storage is locked.
const shardSize = 64 * 1024

// lun is one simulated physical_partition_number's backing storage.
type lun struct {
	data       []byte
	shards     []sync.RWMutex
	sectorSize int
}

func newLUN(sizeBytes int64, sectorSize int) *lun {
	numShards := (sizeBytes + shardSize - 1) / shardSize
	if numShards < 1 {
		numShards = 1
	}
	return &lun{
		data:       make([]byte, sizeBytes),
		shards:     make([]sync.RWMutex, numShards),
		sectorSize: sectorSize,
	}
}

func (l *lun) shardRange(off, length int64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(l.shards) {
		end = len(l.shards) - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

func (l *lun) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(l.data)) {
		return 0, nil
	}
	available := int64(len(l.data)) - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	start, end := l.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		l.shards[i].RLock()
	}
	n := copy(p, l.data[off:off+int64(len(p))])
	for i := start; i <= end; i++ {
		l.shards[i].RUnlock()
	}
	return n, nil
}

func (l *lun) WriteAt(p []byte, off int64) (int, error) {
	if off >= int64(len(l.data)) {
		return 0, nil
	}
	available := int64(len(l.data)) - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	start, end := l.shardRange(off, int64(len(p)))
	for i := start; i <= end; i++ {
		l.shards[i].Lock()
	}
	n := copy(l.data[off:off+int64(len(p))], p)
	for i := start; i <= end; i++ {
		l.shards[i].Unlock()
	}
	return n, nil
}

func (l *lun) size() int64 { return int64(len(l.data)) }

// Device is a simulated Firehose target with one or more LUNs, addressed
// the way storage_type/LUN selection works on the wire.
type Device struct {
	mu          sync.Mutex
	luns        map[int]*lun
	sectorSize  int
	lunSize     int64
	activeSlot  string
	serial      int64
	storageType string
}

// NewDevice creates a simulated target with numLUNs identical LUNs, each
// lunSizeBytes long, addressed at sectorSize granularity.
func NewDevice(numLUNs int, lunSizeBytes int64, sectorSize int) *Device {
	d := &Device{
		luns:        make(map[int]*lun, numLUNs),
		sectorSize:  sectorSize,
		lunSize:     lunSizeBytes,
		serial:      0xC0FFEE,
		storageType: "UFS",
	}
	for i := 0; i < numLUNs; i++ {
		d.luns[i] = newLUN(lunSizeBytes, sectorSize)
	}
	return d
}

func (d *Device) lunAt(n int) *lun {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.luns[n]
	if !ok {
		l = newLUN(d.lunSize, d.sectorSize)
		d.luns[n] = l
	}
	return l
}

// ReadLUN reads back bytes written to a LUN, for test assertions.
func (d *Device) ReadLUN(n int, off int64, p []byte) (int, error) {
	return d.lunAt(n).ReadAt(p, off)
}

// ActiveSlot reports the slot last selected by setbootablestoragedrive,
// translated from the wire value (1 -> "A", 2 -> "B").
func (d *Device) ActiveSlot() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.activeSlot {
	case "1":
		return "A"
	case "2":
		return "B"
	}
	return d.activeSlot
}
