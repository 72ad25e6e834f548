package qflash

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured qflash error with context and errno mapping.
type Error struct {
	Op        string    // Operation that failed (e.g., "sahara.Hello", "firehose.Program")
	Partition string    // Partition label, if applicable ("" otherwise)
	LUN       int       // Physical partition number, -1 if not applicable
	Code      ErrorCode // High-level error category
	Errno     syscall.Errno
	Msg       string
	Inner     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Partition != "" {
		parts = append(parts, fmt.Sprintf("partition=%s", e.Partition))
	}
	if e.LUN >= 0 {
		parts = append(parts, fmt.Sprintf("lun=%d", e.LUN))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("qflash: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("qflash: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for code comparison.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents the high-level error categories.
type ErrorCode string

const (
	// Transport
	ErrCodePortNotFound      ErrorCode = "port not found"
	ErrCodeOpenFailed        ErrorCode = "transport open failed"
	ErrCodeReadTimeoutNoData ErrorCode = "read timeout without data"
	ErrCodeWriteFailed       ErrorCode = "write failed"
	ErrCodeUSBStall          ErrorCode = "usb stall"

	// Sahara
	ErrCodeUnexpectedOpcode   ErrorCode = "unexpected opcode"
	ErrCodeOversizePacket     ErrorCode = "oversize packet"
	ErrCodeBodyLengthMismatch ErrorCode = "body length mismatch"
	ErrCodeUploadRangeOOB     ErrorCode = "upload range out of bounds"
	ErrCodeModeMismatch       ErrorCode = "mode mismatch"
	ErrCodeUnsupportedVersion ErrorCode = "unsupported version"

	// Firehose
	ErrCodeXMLParseFailed     ErrorCode = "xml parse failed"
	ErrCodeNonDataRoot        ErrorCode = "non-data root"
	ErrCodeNak                ErrorCode = "nak"
	ErrCodeVersionTooOld      ErrorCode = "version too old"
	ErrCodeBufferSizeMismatch ErrorCode = "buffer size mismatch"
	ErrCodeRestartRequested   ErrorCode = "restart requested"

	// Package
	ErrCodeMetaMissing       ErrorCode = "meta missing"
	ErrCodeSuperDefMissing   ErrorCode = "super_def missing"
	ErrCodeRawProgramMissing ErrorCode = "rawprogram missing"
	ErrCodePatchMissing      ErrorCode = "patch missing"
	ErrCodeAssetMissing      ErrorCode = "asset missing"
	ErrCodeJSONParseFailed   ErrorCode = "json parse failed"

	// Builder
	ErrCodeLpmakeFailed ErrorCode = "lpmake failed"

	// Orchestrator
	ErrCodeCanceled       ErrorCode = "canceled"
	ErrCodeAlreadyRunning ErrorCode = "already running"

	ErrCodeIOError ErrorCode = "I/O error"
	ErrCodeTimeout ErrorCode = "timeout"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, LUN: -1}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), LUN: -1}
}

// NewPartitionError creates a partition-scoped error.
func NewPartitionError(op string, partition string, lun int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Partition: partition, LUN: lun, Code: code, Msg: msg}
}

// WrapError wraps an existing error with qflash context, reusing an inner
// *Error's code if present and otherwise classifying syscall errnos.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if qe, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Partition: qe.Partition,
			LUN:       qe.LUN,
			Code:      qe.Code,
			Errno:     qe.Errno,
			Msg:       qe.Msg,
			Inner:     qe.Inner,
		}
	}

	code := ErrCodeIOError
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner, LUN: -1}
	}

	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner, LUN: -1}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodePortNotFound
	case syscall.ETIMEDOUT, syscall.EAGAIN:
		return ErrCodeTimeout
	case syscall.EPIPE, syscall.EIO:
		return ErrCodeIOError
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsCanceled reports whether err is the orchestrator's canceled sentinel.
// Cancellation is not an error for the caller to report — it's normal
// termination.
func IsCanceled(err error) bool {
	return IsCode(err, ErrCodeCanceled)
}
