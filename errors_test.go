package qflash

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("sahara.Hello", ErrCodeUnexpectedOpcode, "unexpected packet")

	assert.Equal(t, "sahara.Hello", err.Op)
	assert.Equal(t, ErrCodeUnexpectedOpcode, err.Code)
	assert.Equal(t, "qflash: unexpected packet (op=sahara.Hello)", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("transport.Open", ErrCodePortNotFound, syscall.ENOENT)

	assert.Equal(t, syscall.ENOENT, err.Errno)
	assert.Equal(t, ErrCodePortNotFound, err.Code)
}

func TestPartitionError(t *testing.T) {
	err := NewPartitionError("firehose.Program", "misc", 0, ErrCodeNak, "wrong sector size")

	assert.Equal(t, "misc", err.Partition)
	assert.Equal(t, 0, err.LUN)
	assert.Equal(t, "qflash: wrong sector size (op=firehose.Program)", err.Error())
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := NewError("firehose.read", ErrCodeNak, "device nak")
	wrapped := WrapError("firehose.Program", inner)

	assert.Equal(t, ErrCodeNak, wrapped.Code)
	assert.Equal(t, "firehose.Program", wrapped.Op)
}

func TestWrapErrorClassifiesErrno(t *testing.T) {
	err := WrapError("transport.Read", syscall.ENOENT)

	require.NotNil(t, err)
	assert.Equal(t, ErrCodePortNotFound, err.Code)
	assert.True(t, errors.Is(err, syscall.ENOENT))
}

func TestIsCode(t *testing.T) {
	err := NewError("orchestrator.Start", ErrCodeCanceled, "operation canceled by user")

	assert.True(t, IsCode(err, ErrCodeCanceled))
	assert.False(t, IsCode(err, ErrCodeIOError))
	assert.False(t, IsCode(nil, ErrCodeCanceled))
}

func TestIsCanceled(t *testing.T) {
	err := NewError("orchestrator.Start", ErrCodeCanceled, "operation canceled by user")
	assert.True(t, IsCanceled(err))
	assert.False(t, IsCanceled(errors.New("boom")))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENOENT, ErrCodePortNotFound},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.EAGAIN, ErrCodeTimeout},
		{syscall.EIO, ErrCodeIOError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}
