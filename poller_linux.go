//go:build linux

package reactio

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller drives EpollCreate1/EpollCtl/EpollWait directly, recomputing
// a combined interest mask per fd since a single fd may carry
// independently started/stopped read and write Events (epoll_ctl only
// accepts one event set per (epfd, fd), unlike kqueue's per-filter model).
type epollPoller struct {
	fd int

	mu    sync.Mutex
	armed map[int]uint32 // fd -> currently-registered epoll event mask
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollPoller{fd: fd, armed: make(map[int]uint32)}, nil
}

const epollBaseMask = unix.EPOLLERR | unix.EPOLLHUP

func (p *epollPoller) ctl(fd int, mask uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, exists := p.armed[fd]
	if mask == cur && exists {
		return nil
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: mask}
	op := unix.EPOLL_CTL_MOD
	if !exists {
		op = unix.EPOLL_CTL_ADD
	}
	if mask == 0 {
		op = unix.EPOLL_CTL_DEL
	}
	if op == unix.EPOLL_CTL_DEL {
		delete(p.armed, fd)
		if err := unix.EpollCtl(p.fd, op, fd, nil); err != nil {
			return errors.Wrap(err, "epoll_ctl del")
		}
		return nil
	}
	if err := unix.EpollCtl(p.fd, op, fd, &ev); err != nil {
		return errors.Wrap(err, "epoll_ctl")
	}
	p.armed[fd] = mask
	return nil
}

func (p *epollPoller) maskFor(fd int, addRead, addWrite, removeRead, removeWrite bool) uint32 {
	p.mu.Lock()
	cur := p.armed[fd]
	p.mu.Unlock()

	cur &^= epollBaseMask
	if addRead {
		cur |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if addWrite {
		cur |= unix.EPOLLOUT
	}
	if removeRead {
		cur &^= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if removeWrite {
		cur &^= unix.EPOLLOUT
	}
	if cur != 0 {
		cur |= epollBaseMask
	}
	return cur
}

func (p *epollPoller) addRead(fd int) error {
	return p.ctl(fd, p.maskFor(fd, true, false, false, false))
}

func (p *epollPoller) addWrite(fd int) error {
	return p.ctl(fd, p.maskFor(fd, false, true, false, false))
}

func (p *epollPoller) delRead(fd int) error {
	return p.ctl(fd, p.maskFor(fd, false, false, true, false))
}

func (p *epollPoller) delWrite(fd int) error {
	return p.ctl(fd, p.maskFor(fd, false, false, false, true))
}

func (p *epollPoller) wait(out chan<- []pollerEvent) {
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.fd, events, -1)
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
			pe := pollerEvent{fd: int(e.Fd)}
			if e.Events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
				pe.readable = true
			}
			if e.Events&unix.EPOLLOUT != 0 {
				pe.writable = true
			}
			if e.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				pe.hup = true
			}
			batch = append(batch, pe)
		}
		out <- batch
	}
}

func (p *epollPoller) close() error {
	return unix.Close(p.fd)
}
