package reactio

import (
	"syscall"

	"github.com/pkg/errors"
)

// Sentinel errors returned synchronously by the public API. Named after
// the failure they represent rather than the component that raises them,
// since several components can raise the same one.
var (
	ErrClosed        = errors.New("reactio: loop or aiofd is closed")
	ErrUnsupported   = errors.New("reactio: operation unsupported for this value")
	ErrBadParam      = errors.New("reactio: invalid parameter")
	ErrEmptyBuffer   = errors.New("reactio: empty buffer")
	ErrNoFD          = errors.New("reactio: aiofd requires at least one of rfd/wfd")
	ErrSignalInUse   = errors.New("reactio: a signal event for this signum is already active")
	ErrPIDInUse      = errors.New("reactio: a child event for this pid is already active")
	ErrAlreadyOpen   = errors.New("reactio: socket already open")
	ErrNotBound      = errors.New("reactio: socket is not bound")
	ErrNotListening  = errors.New("reactio: socket is not listening")
	ErrAlreadyConn   = errors.New("reactio: operation not allowed while connected")
	ErrUnixPortGiven = errors.New("reactio: unix sockets take no port")
	ErrNoHostname    = errors.New("reactio: host could not be resolved")
)

// Errno wraps a syscall.Errno captured immediately at the call site,
// giving the core a uniform "is this retryable" classification without
// re-deriving it at every dispatch of an *-error-evt.
type Errno struct {
	syscall.Errno
}

// NewErrno wraps err as an *Errno when it is a syscall.Errno, and
// otherwise wraps it as a generic error carrying the same predicates
// (always false).
func NewErrno(err error) *Errno {
	if err == nil {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok {
		return &Errno{Errno: errno}
	}
	return &Errno{}
}

// Temporary reports whether the errno represents a transient condition
// that a caller may retry without tearing anything down.
func (e *Errno) Temporary() bool {
	if e == nil {
		return false
	}
	return e.Errno == syscall.EAGAIN || e.Errno == syscall.EWOULDBLOCK || e.Errno == syscall.EINTR
}

// WouldBlock reports whether the errno is EAGAIN/EWOULDBLOCK specifically
// — the case a write-path retry swallows transparently without ever
// surfacing an error-evt.
func (e *Errno) WouldBlock() bool {
	if e == nil {
		return false
	}
	return e.Errno == syscall.EAGAIN || e.Errno == syscall.EWOULDBLOCK
}
