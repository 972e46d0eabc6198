package reactio

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestAiofdReadNormal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	cb := NewRegistry()
	a, err := NewAiofd(-1, int(r.Fd()), cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := a.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("unexpected read: n=%d buf=%q", n, buf[:n])
	}
}

func TestAiofdReadPeerClosedDispatchesErrorEvt(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	w.Close() // no writer left: reads return EOF (n==0)

	cb := NewRegistry()
	a, err := NewAiofd(-1, int(r.Fd()), cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	var gotErrno *Errno
	cb.Add(AiofdErrorEvt, nil, func(ctx any, args ...any) {
		gotErrno, _ = args[1].(*Errno)
	})

	buf := make([]byte, 16)
	n, err := a.Read(buf)
	if n != -1 || err == nil {
		t.Fatalf("expected (-1, err) on peer close, got (%d, %v)", n, err)
	}
	if gotErrno == nil || gotErrno.Errno != unix.EPIPE {
		t.Fatalf("expected EPIPE dispatched via aiofd-error-evt, got %v", gotErrno)
	}
}

func TestAiofdWriteFullDrainFiresWriteEvt(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	cb := NewRegistry()
	a, err := NewAiofd(int(w.Fd()), -1, cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	var gotBuf []byte
	var gotTag any
	fired := false
	cb.Add(AiofdWriteEvt, nil, func(ctx any, args ...any) {
		buf, _ := args[1].([]byte)
		if buf == nil {
			return // the queue-drained sentinel that follows the completion
		}
		fired = true
		gotBuf = buf
		gotTag = args[3]
	})

	payload := []byte("payload")
	if err := a.Write(payload, "tag1"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a.handleWriteReady()

	if !fired {
		t.Fatal("expected aiofd-write-evt to fire on a full drain")
	}
	if string(gotBuf) != "payload" || gotTag != "tag1" {
		t.Fatalf("unexpected write-evt payload: buf=%q tag=%v", gotBuf, gotTag)
	}

	rx := make([]byte, len(payload))
	if _, err := r.Read(rx); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(rx) != "payload" {
		t.Fatalf("unexpected bytes on the wire: %q", rx)
	}
}

// handleWriteReady must not advance past a partially-drained head: it
// should return and wait for the next write-ready fire rather than
// busy-retrying, and the still-pending remainder must stay at the front
// of the queue.
func TestAiofdWritePartialDrainStaysQueued(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	// Shrink both ends' buffers so a large write can't drain in one call.
	const small = 4096
	unix.SetsockoptInt(fds[0], unix.SOL_SOCKET, unix.SO_SNDBUF, small)
	unix.SetsockoptInt(fds[1], unix.SOL_SOCKET, unix.SO_RCVBUF, small)
	unix.SetNonblock(fds[0], true)

	cb := NewRegistry()
	a, err := NewAiofd(fds[0], -1, cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	fired := false
	cb.Add(AiofdWriteEvt, nil, func(ctx any, args ...any) { fired = true })

	big := make([]byte, 4*1024*1024)
	if err := a.Write(big, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a.handleWriteReady()

	if fired {
		t.Fatal("aiofd-write-evt must not fire until the whole buffer drains")
	}

	a.mu.Lock()
	front := a.writes.Front()
	a.mu.Unlock()
	if front == nil {
		t.Fatal("partially-written entry must remain queued")
	}
	pw := front.Value.(*pendingWrite)
	if pw.remaining() <= 0 || pw.remaining() >= len(big) {
		t.Fatalf("expected a nonzero, non-full remainder, got %d of %d", pw.remaining(), len(big))
	}
}

// EAGAIN on the write path must be swallowed transparently: no
// aiofd-error-evt, and the head write stays queued for the next
// write-ready fire.
func TestAiofdWriteEAGAINIsTransparent(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	const small = 4096
	unix.SetsockoptInt(fds[0], unix.SOL_SOCKET, unix.SO_SNDBUF, small)
	unix.SetsockoptInt(fds[1], unix.SOL_SOCKET, unix.SO_RCVBUF, small)
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)

	cb := NewRegistry()
	a, err := NewAiofd(fds[0], -1, cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	var errFired bool
	cb.Add(AiofdErrorEvt, nil, func(ctx any, args ...any) { errFired = true })

	// Saturate both the send buffer and the peer's receive buffer so the
	// next write call is guaranteed to return EAGAIN.
	filler := make([]byte, 64*1024)
	for {
		n, err := unix.Write(fds[0], filler)
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}

	big := make([]byte, 1024)
	if err := a.Write(big, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	a.handleWriteReady()

	if errFired {
		t.Fatal("EAGAIN must never surface as aiofd-error-evt")
	}
	a.mu.Lock()
	n := a.writes.Len()
	a.mu.Unlock()
	if n == 0 {
		t.Fatal("the EAGAIN'd write must remain queued for retry")
	}
}

func TestAiofdWriteEmptyQueueDispatchesSentinel(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	cb := NewRegistry()
	a, err := NewAiofd(int(w.Fd()), -1, cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	var gotBuf []byte
	fired := false
	cb.Add(AiofdWriteEvt, nil, func(ctx any, args ...any) {
		fired = true
		gotBuf, _ = args[1].([]byte)
	})

	a.handleWriteReady()

	if !fired || gotBuf != nil {
		t.Fatalf("expected a nil-buffer sentinel write-evt on an empty queue, got fired=%v buf=%v", fired, gotBuf)
	}
}

func TestAiofdSetWriteIOOverridesStrategy(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	cb := NewRegistry()
	a, err := NewAiofd(int(w.Fd()), -1, cb)
	if err != nil {
		t.Fatalf("NewAiofd: %v", err)
	}

	called := false
	a.SetWriteIO(func(ctx any, args ...any) {
		called = true
		out := args[0].(*ioOutcome)
		buf := args[1].([]byte)
		out.n = len(buf)
	})

	if err := a.Write([]byte("abc"), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	a.handleWriteReady()

	if !called {
		t.Fatal("overridden write-io strategy was not invoked")
	}
}
