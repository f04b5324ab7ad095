package storagehandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Common storage errors
var (
	ErrNotExist     = errors.New("file does not exist")
	ErrExist        = errors.New("file already exists")
	ErrInvalidPath  = errors.New("invalid path")
	ErrAuth         = errors.New("authentication failed")
	ErrConnection   = errors.New("connection failed")
	ErrNotSupported = errors.New("operation not supported")
	ErrNotDir       = errors.New("not a directory")
	ErrClosed       = errors.New("handler already closed")
)

// PathError records an error and the operation and path that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// NewPathError creates a PathError for an operation
func NewPathError(op, path string, err error) *PathError {
	return &PathError{Op: op, Path: path, Err: err}
}

// TransferError reports a stream transfer that failed partway through.
// BytesTransferred counts the bytes moved before the failure.
type TransferError struct {
	Op               string
	Path             string
	BytesTransferred int64
	Err              error
}

// Error implements the error interface
func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: transfer failed after %d bytes: %v", e.Op, e.Path, e.BytesTransferred, e.Err)
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsInvalidPath reports whether an error indicates path traversal outside
// the configured root or a scheme/authority mismatch
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath)
}

// IsAuth reports whether an error indicates bad or expired credentials.
// Auth failures are never retried.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsConnection reports whether an error indicates a transient network or
// session failure eligible for retry
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsNotSupported reports whether an error indicates the backend lacks the
// requested capability
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsTransientNet classifies raw transport failures that drivers should
// wrap with ErrConnection. Context cancellation is not transient.
func IsTransientNet(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
