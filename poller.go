package reactio

// pollerEvent is a single readiness notification delivered by the OS poller.
type pollerEvent struct {
	fd       int
	readable bool
	writable bool
	hup      bool
}

// poller is the OS-specific readiness multiplexer a Loop drives its KindIO
// events through. Implementations live in poller_linux.go (epoll) and
// poller_bsd.go (kqueue). Readiness is reported in batches on a channel
// rather than via per-fd callbacks invoked directly from the poller,
// since dispatch here must go through a Registry instead of a raw
// function pointer stashed by the caller.
type poller interface {
	addRead(fd int) error
	addWrite(fd int) error
	delRead(fd int) error
	delWrite(fd int) error
	// wait runs until the poller is closed, pushing readiness batches to
	// out. It is always run in its own goroutine, started at NewLoop
	// time, so that epoll_ctl/kevent registrations made between Run()
	// calls are never left unobserved.
	wait(out chan<- []pollerEvent)
	close() error
}
