package qflash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransportFeedAndWrite(t *testing.T) {
	m := NewMockTransport()
	m.Feed([]byte("hello"))

	buf, err := m.FillBuf()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf)

	n, err := m.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("world"), m.Written())

	m.Consume(5)
	buf, err = m.FillBuf()
	require.NoError(t, err)
	assert.Empty(t, buf)

	reads, writes := m.CallCounts()
	assert.Equal(t, 0, reads)
	assert.Equal(t, 1, writes)
}

func TestMockTransportClose(t *testing.T) {
	m := NewMockTransport()
	assert.False(t, m.IsClosed())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
	assert.Equal(t, "mock", m.Backend())
}
