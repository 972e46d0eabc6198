package reactio

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Loop is the single-threaded reactor: the only place any Event's callback
// is ever invoked from is inside Run, the one suspension point that owns
// dispatch. Everything else on Loop (NewSignalEvent, NewChildEvent,
// NewIOEvent, and Event.Start/Stop against it) is safe to call from any
// goroutine and never blocks on Run's progress.
//
// A dedicated goroutine feeds OS readiness onto a channel, and Run
// consumes it via select alongside the signal and child-reap channels —
// keeping the poller wait() call off the same goroutine that invokes
// callbacks, since a slow callback must not stall readiness collection.
type Loop struct {
	logger *slog.Logger

	p     poller
	chIO  chan []pollerEvent
	ioMu  sync.Mutex
	ioFds map[int]*fdIO

	sigMu       sync.Mutex
	sigCh       chan os.Signal
	sigWatchers map[syscall.Signal]*Event

	childOnce   sync.Once
	childCh     chan childExit
	childMu     sync.Mutex
	childStop   chan struct{}
	childWait   map[int]*Event

	breakOneCh chan struct{}
	stopAllCh  chan struct{}
	stopOnce   sync.Once
	closeOnce  sync.Once
}

// fdIO tracks which directions of a single fd are currently armed, and by
// which Event, since an Aiofd starts its read and write interest as two
// independent Events that may come and go on different schedules.
type fdIO struct {
	readEvt  *Event
	writeEvt *Event
}

type childExit struct {
	pid      int
	exited   bool
	signaled bool
	stopped  bool
	rstatus  int
}

// NewLoop creates a reactor and starts its background OS-readiness pump.
// The pump goroutine never invokes a callback itself; it only feeds Run.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	o := defaultLoopOptions()
	for _, opt := range opts {
		opt(o)
	}
	p, err := newPoller()
	if err != nil {
		return nil, errors.Wrap(err, "new loop")
	}
	l := &Loop{
		logger:      o.logger,
		p:           p,
		chIO:        make(chan []pollerEvent),
		ioFds:       make(map[int]*fdIO),
		sigCh:       make(chan os.Signal, 64),
		sigWatchers: make(map[syscall.Signal]*Event),
		childCh:     make(chan childExit, 16),
		childStop:   make(chan struct{}),
		childWait:   make(map[int]*Event),
		breakOneCh:  make(chan struct{}, 1),
		stopAllCh:   make(chan struct{}),
	}
	go l.p.wait(l.chIO)
	return l, nil
}

// NewSignalEvent constructs a signal-watching Event. It is not armed until
// Start(loop) is called.
func (l *Loop) NewSignalEvent(signum syscall.Signal, cb *Registry) *Event {
	return &Event{kind: KindSignal, signum: signum, cb: cb}
}

// NewChildEvent constructs a child-watching Event for pid. If traceStops is
// set, stop/continue transitions (not just exit) are reported, mirroring
// WUNTRACED|WCONTINUED semantics.
func (l *Loop) NewChildEvent(pid int, traceStops bool, cb *Registry) *Event {
	return &Event{kind: KindChild, pid: pid, traceStops: traceStops, cb: cb}
}

// NewIOEvent constructs a readiness-watching Event for fd in the given
// direction(s).
func (l *Loop) NewIOEvent(fd int, dir Direction, cb *Registry) *Event {
	return &Event{kind: KindIO, fd: fd, dir: dir, cb: cb}
}

// DeleteEvent stops e if started and releases it. e must not be reused
// after DeleteEvent.
func (l *Loop) DeleteEvent(e *Event) error {
	return e.Stop()
}

// Run drives the reactor, dispatching signal, child, and IO readiness to
// their registries, until Stop is called. Run may be called reentrantly
// from within a callback it is itself dispatching (a "nested run"); Stop's
// once flag controls whether that unwinds one level or every level.
func (l *Loop) Run() error {
	for {
		select {
		case <-l.stopAllCh:
			return nil
		case <-l.breakOneCh:
			return nil
		case batch, ok := <-l.chIO:
			if !ok {
				return nil
			}
			l.dispatchIO(batch)
		case sig := <-l.sigCh:
			l.dispatchSignal(sig)
		case ce := <-l.childCh:
			l.dispatchChild(ce)
		}
	}
}

// Stop asks the innermost active Run to return. If once is false, every
// nested Run (including ones not yet entered) returns immediately.
func (l *Loop) Stop(once bool) {
	if once {
		select {
		case l.breakOneCh <- struct{}{}:
		default:
		}
		return
	}
	l.stopOnce.Do(func() { close(l.stopAllCh) })
}

// Close releases the loop's OS poller and stops the SIGCHLD reaper, if it
// was started. A Loop must not be used after Close.
func (l *Loop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.p.close()
		l.childMu.Lock()
		if l.childStop != nil {
			select {
			case <-l.childStop:
			default:
				close(l.childStop)
			}
		}
		l.childMu.Unlock()
	})
	return err
}

// --- IO events ---

func (l *Loop) armIO(e *Event) error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()

	reg, ok := l.ioFds[e.fd]
	if !ok {
		reg = &fdIO{}
		l.ioFds[e.fd] = reg
	}
	if e.dir.has(DirRead) {
		reg.readEvt = e
		if err := l.p.addRead(e.fd); err != nil {
			return errors.Wrap(err, "arm read")
		}
		l.logger.Debug("armed read event", "fd", e.fd)
	}
	if e.dir.has(DirWrite) {
		reg.writeEvt = e
		if err := l.p.addWrite(e.fd); err != nil {
			return errors.Wrap(err, "arm write")
		}
		l.logger.Debug("armed write event", "fd", e.fd)
	}
	return nil
}

func (l *Loop) disarmIO(e *Event) error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()

	reg, ok := l.ioFds[e.fd]
	if !ok {
		return nil
	}
	var firstErr error
	if e.dir.has(DirRead) && reg.readEvt == e {
		reg.readEvt = nil
		if err := l.p.delRead(e.fd); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "disarm read")
		}
		l.logger.Debug("disarmed read event", "fd", e.fd)
	}
	if e.dir.has(DirWrite) && reg.writeEvt == e {
		reg.writeEvt = nil
		if err := l.p.delWrite(e.fd); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "disarm write")
		}
		l.logger.Debug("disarmed write event", "fd", e.fd)
	}
	if reg.readEvt == nil && reg.writeEvt == nil {
		delete(l.ioFds, e.fd)
	}
	return firstErr
}

func (l *Loop) dispatchIO(batch []pollerEvent) {
	l.ioMu.Lock()
	type firing struct {
		evt      *Event
		readable bool
		writable bool
		hup      bool
	}
	var fires []firing
	for _, pe := range batch {
		reg, ok := l.ioFds[pe.fd]
		if !ok {
			continue
		}
		if pe.readable && reg.readEvt != nil {
			fires = append(fires, firing{reg.readEvt, true, false, pe.hup})
		}
		if pe.writable && reg.writeEvt != nil {
			fires = append(fires, firing{reg.writeEvt, false, true, pe.hup})
		}
	}
	l.ioMu.Unlock()

	for _, f := range fires {
		f.evt.cb.Call(EvtIO, f.evt, f.evt.fd, f.readable, f.writable, f.hup)
	}
}

// --- Signal events ---

func (l *Loop) armSignal(e *Event) error {
	l.sigMu.Lock()
	defer l.sigMu.Unlock()

	if _, busy := l.sigWatchers[e.signum]; busy {
		return ErrSignalInUse
	}
	l.sigWatchers[e.signum] = e
	signal.Notify(l.sigCh, e.signum)
	l.logger.Debug("armed signal event", "signum", e.signum)
	return nil
}

func (l *Loop) disarmSignal(e *Event) error {
	l.sigMu.Lock()
	defer l.sigMu.Unlock()

	if cur, ok := l.sigWatchers[e.signum]; !ok || cur != e {
		return nil
	}
	delete(l.sigWatchers, e.signum)
	signal.Stop(l.sigCh)
	// Re-subscribe the channel to whatever signals are still watched,
	// since signal.Stop(ch) unregisters ch from every signal, not just
	// e.signum.
	for sig := range l.sigWatchers {
		signal.Notify(l.sigCh, sig)
	}
	l.logger.Debug("disarmed signal event", "signum", e.signum)
	return nil
}

func (l *Loop) dispatchSignal(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}
	l.sigMu.Lock()
	e, ok := l.sigWatchers[s]
	l.sigMu.Unlock()
	if !ok {
		return
	}
	e.cb.Call(EvtSignal, e, int(s))
}

// --- Child events ---

func (l *Loop) armChild(e *Event) error {
	l.childMu.Lock()
	defer l.childMu.Unlock()

	if _, busy := l.childWait[e.pid]; busy {
		return ErrPIDInUse
	}
	l.childWait[e.pid] = e
	l.childOnce.Do(func() { go l.reapLoop() })
	return nil
}

func (l *Loop) disarmChild(e *Event) error {
	l.childMu.Lock()
	defer l.childMu.Unlock()
	if cur, ok := l.childWait[e.pid]; ok && cur == e {
		delete(l.childWait, e.pid)
	}
	return nil
}

// reapLoop watches SIGCHLD and drains exited children with a WNOHANG
// wait4 loop, since Go's runtime already reaps unwaited children
// internally and os/exec.Cmd.Wait races any signal-handler-based
// approach that isn't itself holding the os/exec locks.
func (l *Loop) reapLoop() {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGCHLD)
	defer signal.Stop(ch)

	for {
		select {
		case <-l.childStop:
			return
		case <-ch:
		}
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
			if err != nil || pid <= 0 {
				break
			}
			ce := childExit{pid: pid, rstatus: int(ws)}
			switch {
			case ws.Exited():
				ce.exited = true
			case ws.Signaled():
				ce.signaled = true
			case ws.Stopped(), ws.Continued():
				ce.stopped = true
			}
			select {
			case l.childCh <- ce:
			case <-l.childStop:
				return
			}
		}
	}
}

func (l *Loop) dispatchChild(ce childExit) {
	l.childMu.Lock()
	e, ok := l.childWait[ce.pid]
	if ok && (ce.exited || ce.signaled) {
		delete(l.childWait, ce.pid)
	}
	l.childMu.Unlock()
	if !ok {
		return
	}
	if (ce.stopped) && !e.traceStops {
		return
	}
	e.cb.Call(EvtChild, e, ce.pid, ce.rstatus, ce.exited, ce.signaled, ce.stopped)
}
