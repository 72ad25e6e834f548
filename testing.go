package qflash

import (
	"bytes"
	"sync"

	"github.com/qedl/qflash/internal/interfaces"
)

// MockTransport is an in-memory interfaces.Transport for driving the
// Sahara/Firehose engines in tests without a real serial port or USB
// device: reads come from a canned response buffer the test preloads,
// writes go to a buffer the test inspects afterward.
type MockTransport struct {
	mu sync.Mutex

	in  bytes.Buffer // bytes the engine will read (test-supplied responses)
	out bytes.Buffer // bytes the engine has written (test-inspected requests)

	closed  bool
	backend string

	writeCalls int
	readCalls  int
}

// NewMockTransport returns an empty MockTransport. Use Feed to queue
// bytes for the engine under test to read.
func NewMockTransport() *MockTransport {
	return &MockTransport{backend: "mock"}
}

// Feed appends p to the bytes a subsequent Read/FillBuf will return.
func (m *MockTransport) Feed(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Write(p)
}

// Written returns a copy of everything written so far.
func (m *MockTransport) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.out.Len())
	copy(out, m.out.Bytes())
	return out
}

// Read implements interfaces.Transport.
func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	return m.in.Read(p)
}

// Write implements interfaces.Transport.
func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	return m.out.Write(p)
}

// Flush implements interfaces.Transport; MockTransport has no internal
// buffering to push, so this is a no-op.
func (m *MockTransport) Flush() error { return nil }

// FillBuf implements interfaces.Transport, returning whatever is queued
// in the input buffer without consuming it.
func (m *MockTransport) FillBuf() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.in.Bytes(), nil
}

// Consume implements interfaces.Transport.
func (m *MockTransport) Consume(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in.Next(n)
}

// Backend implements interfaces.Transport.
func (m *MockTransport) Backend() string { return m.backend }

// Close implements interfaces.Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CallCounts returns how many times Read and Write were called, for
// tests asserting on chunking behavior.
func (m *MockTransport) CallCounts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls, m.writeCalls
}

var _ interfaces.Transport = (*MockTransport)(nil)
