//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactio

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueuePoller drives the BSD kqueue API. EVFILT_READ/EVFILT_WRITE are
// independent filters, so unlike epoll there is no combined-mask
// bookkeeping to do — each direction is armed and disarmed with its own
// EV_ADD/EV_DELETE change.
type kqueuePoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	// No wake-up filter is registered (no EVFILT_USER trigger):
	// registrations are made via kevent() directly from the caller's
	// goroutine, not through the blocked wait() call.
	return &kqueuePoller{fd: fd}, nil
}

func (p *kqueuePoller) change(fd int, filter int16, flags uint16) error {
	kv := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}}
	_, err := unix.Kevent(p.fd, kv, nil, nil)
	if err != nil {
		return errors.Wrap(err, "kevent")
	}
	return nil
}

func (p *kqueuePoller) addRead(fd int) error  { return p.change(fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE) }
func (p *kqueuePoller) addWrite(fd int) error { return p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE) }

func (p *kqueuePoller) delRead(fd int) error {
	err := p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	if err != nil && stderrors.Is(errors.Cause(err), unix.ENOENT) {
		return nil
	}
	return err
}

func (p *kqueuePoller) delWrite(fd int) error {
	err := p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	if err != nil && stderrors.Is(errors.Cause(err), unix.ENOENT) {
		return nil
	}
	return err
}

func (p *kqueuePoller) wait(out chan<- []pollerEvent) {
	events := make([]unix.Kevent_t, 128)
	for {
		n, err := unix.Kevent(p.fd, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		batch := make([]pollerEvent, 0, n)
		for i := 0; i < n; i++ {
			e := events[i]
			pe := pollerEvent{fd: int(e.Ident)}
			switch e.Filter {
			case unix.EVFILT_READ:
				pe.readable = true
			case unix.EVFILT_WRITE:
				pe.writable = true
			}
			if e.Flags&unix.EV_EOF != 0 {
				pe.hup = true
			}
			batch = append(batch, pe)
		}
		out <- batch
	}
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.fd)
}
