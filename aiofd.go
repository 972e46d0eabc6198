package reactio

import (
	"container/list"
	"log/slog"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ioOutcome is the out-parameter an I/O strategy listener fills in, since a
// Callback's signature (func(ctx any, args ...any)) has no return value of
// its own.
type ioOutcome struct {
	n         int
	err       error
	listening bool
}

// pendingWrite is one FIFO entry: either a single buffer or an iovec list,
// trimmed in place from the front as writes succeed partially.
type pendingWrite struct {
	bufs    [][]byte
	isIOV   bool
	origPtr []byte // set only for single-buffer writes; echoed on drain
	origLen int
	tag     any
}

func (pw *pendingWrite) remaining() int {
	n := 0
	for _, b := range pw.bufs {
		n += len(b)
	}
	return n
}

func (pw *pendingWrite) consume(n int) {
	for n > 0 && len(pw.bufs) > 0 {
		b := pw.bufs[0]
		if n < len(b) {
			pw.bufs[0] = b[n:]
			return
		}
		n -= len(b)
		pw.bufs = pw.bufs[1:]
	}
}

// Aiofd wraps a non-blocking read/write fd pair, translating their
// readiness into aiofd-read-evt/aiofd-write-evt/aiofd-error-evt
// notifications on cb, with the actual syscalls performed by the
// aiofd-read-io/write-io/readv-io/writev-io/nread-io strategies also
// registered on cb — overridable by a caller (the socket layer) without
// the Aiofd itself knowing anything changed.
//
// The pending-write queue follows the same per-fd list.List shape used
// for tracking in-flight operations elsewhere in this style of reactor,
// narrowed here to a single FIFO of buffers per fd with a single
// swappable read/write strategy rather than a pool of arbitrary ops.
type Aiofd struct {
	wfd, rfd int // -1 if absent

	mu     sync.Mutex
	writes *list.List // of *pendingWrite

	cb         *Registry // caller-supplied; carries strategies + emitted evts
	internalCB *Registry // private; carries the sole evt-io dispatch target

	readEvt, writeEvt *Event
	loop              *Loop

	curReadIO   Callback
	curWriteIO  Callback
	curReadvIO  Callback
	curWritevIO Callback
	curNreadIO  Callback

	bufSize int
	logger  *slog.Logger
}

// NewAiofd wraps wfd/rfd (either may be -1 to indicate absence, but not
// both) as non-blocking descriptors dispatching through cb.
func NewAiofd(wfd, rfd int, cb *Registry, opts ...AiofdOption) (*Aiofd, error) {
	if wfd < 0 && rfd < 0 {
		return nil, ErrNoFD
	}
	if cb == nil {
		return nil, ErrBadParam
	}
	o := defaultAiofdOptions()
	for _, opt := range opts {
		opt(o)
	}
	for _, fd := range []int{wfd, rfd} {
		if fd >= 0 {
			if err := unix.SetNonblock(fd, true); err != nil {
				return nil, errors.Wrap(err, "set nonblocking")
			}
		}
	}

	a := &Aiofd{
		wfd:        wfd,
		rfd:        rfd,
		writes:     list.New(),
		cb:         cb,
		internalCB: NewRegistry(),
		bufSize:    o.bufSize,
		logger:     o.logger,
	}
	a.internalCB.Add(EvtIO, a, a.onIOFired)

	a.curReadIO = a.defaultReadIO
	a.curWriteIO = a.defaultWriteIO
	a.curReadvIO = a.defaultReadvIO
	a.curWritevIO = a.defaultWritevIO
	a.curNreadIO = a.defaultNreadIO
	cb.Add(AiofdReadIO, a, a.curReadIO)
	cb.Add(AiofdWriteIO, a, a.curWriteIO)
	cb.Add(AiofdReadvIO, a, a.curReadvIO)
	cb.Add(AiofdWritevIO, a, a.curWritevIO)
	cb.Add(AiofdNreadIO, a, a.curNreadIO)

	return a, nil
}

// SetReadIO overrides the read-io strategy (used by Socket to install
// recv/recvfrom in place of raw read).
func (a *Aiofd) SetReadIO(fn Callback) { a.replaceStrategy(AiofdReadIO, &a.curReadIO, fn) }

// SetWriteIO overrides the write-io strategy.
func (a *Aiofd) SetWriteIO(fn Callback) { a.replaceStrategy(AiofdWriteIO, &a.curWriteIO, fn) }

// SetReadvIO overrides the readv-io strategy.
func (a *Aiofd) SetReadvIO(fn Callback) { a.replaceStrategy(AiofdReadvIO, &a.curReadvIO, fn) }

// SetWritevIO overrides the writev-io strategy.
func (a *Aiofd) SetWritevIO(fn Callback) { a.replaceStrategy(AiofdWritevIO, &a.curWritevIO, fn) }

// SetNreadIO overrides the nread-io strategy.
func (a *Aiofd) SetNreadIO(fn Callback) { a.replaceStrategy(AiofdNreadIO, &a.curNreadIO, fn) }

func (a *Aiofd) replaceStrategy(name string, cur *Callback, fn Callback) {
	if *cur != nil {
		a.cb.Remove(name, a, *cur)
	}
	a.cb.Add(name, a, fn)
	*cur = fn
}

// ReadFD returns the read-side descriptor, or -1 if absent.
func (a *Aiofd) ReadFD() int { return a.rfd }

// WriteFD returns the write-side descriptor, or -1 if absent.
func (a *Aiofd) WriteFD() int { return a.wfd }

// EnableReadEvt starts or stops the read-readiness event on loop.
func (a *Aiofd) EnableReadEvt(on bool, loop *Loop) error {
	if a.rfd < 0 {
		return ErrUnsupported
	}
	if !on {
		if a.readEvt == nil {
			return nil
		}
		return a.readEvt.Stop()
	}
	if a.readEvt == nil {
		a.readEvt = loop.NewIOEvent(a.rfd, DirRead, a.internalCB)
	}
	a.loop = loop
	return a.readEvt.Start(loop)
}

// EnableWriteEvt starts or stops the write-readiness event on loop.
func (a *Aiofd) EnableWriteEvt(on bool, loop *Loop) error {
	if a.wfd < 0 {
		return ErrUnsupported
	}
	if !on {
		if a.writeEvt == nil {
			return nil
		}
		return a.writeEvt.Stop()
	}
	if a.writeEvt == nil {
		a.writeEvt = loop.NewIOEvent(a.wfd, DirWrite, a.internalCB)
	}
	a.loop = loop
	return a.writeEvt.Start(loop)
}

// Close stops both events and drops any pending writes, without closing
// the underlying descriptors — ownership of wfd/rfd stays with the
// caller, so Socket.Disconnect tears down its Aiofd first and closes the
// fd itself one level up.
func (a *Aiofd) Close() error {
	var firstErr error
	if a.readEvt != nil {
		if err := a.readEvt.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.writeEvt != nil {
		if err := a.writeEvt.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.mu.Lock()
	a.writes.Init()
	a.mu.Unlock()
	return firstErr
}

// Flush best-effort fsyncs both descriptors.
func (a *Aiofd) Flush() error {
	seen := make(map[int]bool, 2)
	var firstErr error
	for _, fd := range []int{a.rfd, a.wfd} {
		if fd < 0 || seen[fd] {
			continue
		}
		seen[fd] = true
		if err := unix.Fsync(fd); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "fsync")
		}
	}
	return firstErr
}

// Read performs one read-io call against buf (or an internally-allocated
// scratch buffer if buf is nil) and classifies the result: n>0 is a
// normal read, n==0 is a peer-closed EPIPE, n<0 surfaces the errno.
func (a *Aiofd) Read(buf []byte) (int, error) {
	if buf == nil {
		buf = make([]byte, a.bufSize)
	}
	n, err := a.callReadIO(buf)
	return a.classifyRead(n, err)
}

// ReadV is the iovec-based counterpart of Read.
func (a *Aiofd) ReadV(iov [][]byte) (int, error) {
	if len(iov) == 0 {
		return 0, ErrEmptyBuffer
	}
	n, err := a.callReadvIO(iov)
	return a.classifyRead(n, err)
}

func (a *Aiofd) classifyRead(n int, err error) (int, error) {
	switch {
	case n > 0:
		return n, nil
	case n == 0:
		errno := NewErrno(syscall.EPIPE)
		a.cb.Call(AiofdErrorEvt, a, errno)
		return -1, errno
	default:
		errno := NewErrno(err)
		a.cb.Call(AiofdErrorEvt, a, errno)
		return -1, errno
	}
}

// Write enqueues buf for output, tagged with tag (echoed on completion).
func (a *Aiofd) Write(buf []byte, tag any) error {
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}
	if a.wfd < 0 {
		return ErrUnsupported
	}
	pw := &pendingWrite{bufs: [][]byte{buf}, origPtr: buf, origLen: len(buf), tag: tag}
	a.mu.Lock()
	a.writes.PushBack(pw)
	a.mu.Unlock()
	return nil
}

// WriteV is the iovec-based counterpart of Write.
func (a *Aiofd) WriteV(iov [][]byte, tag any) error {
	if len(iov) == 0 {
		return ErrEmptyBuffer
	}
	if a.wfd < 0 {
		return ErrUnsupported
	}
	cp := make([][]byte, len(iov))
	copy(cp, iov)
	total := 0
	for _, b := range cp {
		total += len(b)
	}
	pw := &pendingWrite{bufs: cp, isIOV: true, origLen: total, tag: tag}
	a.mu.Lock()
	a.writes.PushBack(pw)
	a.mu.Unlock()
	return nil
}

func (a *Aiofd) onIOFired(_ any, args ...any) {
	if len(args) < 4 {
		return
	}
	readable, _ := args[2].(bool)
	writable, _ := args[3].(bool)
	if readable {
		a.handleReadReady()
	}
	if writable {
		a.handleWriteReady()
	}
}

func (a *Aiofd) handleReadReady() {
	n, listening, err := a.callNreadIO()
	if err != nil && !listening {
		errno := NewErrno(err)
		a.logger.Warn("aiofd nread-io failed", "rfd", a.rfd, "err", errno)
		a.cb.Call(AiofdErrorEvt, a, errno)
		return
	}
	a.logger.Debug("aiofd read ready", "rfd", a.rfd, "n", n, "listening", listening)
	a.cb.Call(AiofdReadEvt, a, n, listening)
}

// handleWriteReady drains the pending-write FIFO: pick the head, dispatch
// writev-io or write-io depending on whether it's scatter/gather, retry
// transparently on EAGAIN, dispatch a fatal error while keeping the head
// queued, and on a full drain pop it and loop; a partial write returns
// and waits for the next write-ready fire.
func (a *Aiofd) handleWriteReady() {
	for {
		a.mu.Lock()
		front := a.writes.Front()
		a.mu.Unlock()

		if front == nil {
			a.cb.Call(AiofdWriteEvt, a, []byte(nil), 0, nil)
			return
		}
		pw := front.Value.(*pendingWrite)

		var n int
		var err error
		if pw.isIOV {
			n, err = a.callWritevIO(pw.bufs, pw.tag)
		} else {
			n, err = a.callWriteIO(pw.bufs[0], pw.tag)
		}

		if n < 0 {
			errno := NewErrno(err)
			if errno.WouldBlock() {
				a.logger.Debug("aiofd write-io would block, retrying on next write-ready", "wfd", a.wfd, "remaining", pw.remaining())
				return
			}
			a.logger.Warn("aiofd write-io failed", "wfd", a.wfd, "err", errno)
			a.cb.Call(AiofdErrorEvt, a, pw.tag, errno)
			return
		}

		pw.consume(n)
		if pw.remaining() > 0 {
			a.logger.Debug("aiofd partial write, remainder stays queued", "wfd", a.wfd, "n", n, "remaining", pw.remaining())
			return
		}

		a.mu.Lock()
		a.writes.Remove(front)
		a.mu.Unlock()
		a.cb.Call(AiofdWriteEvt, a, pw.origPtr, pw.origLen, pw.tag)
	}
}

func (a *Aiofd) callReadIO(buf []byte) (int, error) {
	out := &ioOutcome{}
	a.cb.Call(AiofdReadIO, out, buf)
	return out.n, out.err
}

func (a *Aiofd) callReadvIO(iov [][]byte) (int, error) {
	out := &ioOutcome{}
	a.cb.Call(AiofdReadvIO, out, iov)
	return out.n, out.err
}

func (a *Aiofd) callWriteIO(buf []byte, tag any) (int, error) {
	out := &ioOutcome{}
	a.cb.Call(AiofdWriteIO, out, buf, tag)
	return out.n, out.err
}

func (a *Aiofd) callWritevIO(iov [][]byte, tag any) (int, error) {
	out := &ioOutcome{}
	a.cb.Call(AiofdWritevIO, out, iov, tag)
	return out.n, out.err
}

func (a *Aiofd) callNreadIO() (int, bool, error) {
	out := &ioOutcome{}
	a.cb.Call(AiofdNreadIO, out)
	return out.n, out.listening, out.err
}

func (a *Aiofd) defaultReadIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	buf := args[1].([]byte)
	fd := a.rfd
	n, err := unix.Read(fd, buf)
	out.n, out.err = n, err
}

func (a *Aiofd) defaultWriteIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	buf := args[1].([]byte)
	n, err := unix.Write(a.wfd, buf)
	out.n, out.err = n, err
}

func (a *Aiofd) defaultReadvIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	iov := args[1].([][]byte)
	n, err := unix.Readv(a.rfd, iov)
	out.n, out.err = n, err
}

func (a *Aiofd) defaultWritevIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	iov := args[1].([][]byte)
	n, err := unix.Writev(a.wfd, iov)
	out.n, out.err = n, err
}

func (a *Aiofd) defaultNreadIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	fd := a.rfd
	if fd < 0 {
		fd = a.wfd
	}
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	out.n, out.err = n, err
}
