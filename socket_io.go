package reactio

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// readIO is the socket's override of aiofd-read-io: read(2) on the socket
// fd for a connected/stream socket, recvfrom for an unconnected datagram socket
// (stashing the sender's address for ReadFrom/ReadVFrom).
func (s *Socket) readIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	buf := args[1].([]byte)
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if s.kind == KindUDP && !s.connected.Load() {
		n, from, err := unix.Recvfrom(fd, buf, 0)
		if err == nil {
			s.mu.Lock()
			s.fromSA = from
			s.mu.Unlock()
		}
		out.n, out.err = n, err
		return
	}
	n, err := unix.Read(fd, buf)
	out.n, out.err = n, err
}

// writeIO is the socket's override of aiofd-write-io: sendto for a
// datagram write tagged with a *WriteDest, write(2) on the socket fd
// otherwise.
func (s *Socket) writeIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	buf := args[1].([]byte)
	var tag any
	if len(args) > 2 {
		tag = args[2]
	}
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if s.kind == KindUDP {
		if dest, ok := tag.(*WriteDest); ok && dest != nil && dest.Addr != nil {
			if err := unix.Sendto(fd, buf, 0, dest.Addr); err != nil {
				out.n, out.err = -1, err
			} else {
				out.n = len(buf)
			}
			return
		}
		n, err := unix.Write(fd, buf)
		out.n, out.err = n, err
		return
	}
	n, err := unix.Write(fd, buf)
	out.n, out.err = n, err
}

// readvIO is the socket's override of aiofd-readv-io.
func (s *Socket) readvIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	iov := args[1].([][]byte)
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if s.kind == KindUDP && !s.connected.Load() {
		merged := make([]byte, totalLen(iov))
		n, from, err := unix.Recvfrom(fd, merged, 0)
		if err == nil {
			scatter(iov, merged[:n])
			s.mu.Lock()
			s.fromSA = from
			s.mu.Unlock()
		}
		out.n, out.err = n, err
		return
	}
	n, err := unix.Readv(fd, iov)
	out.n, out.err = n, err
}

// writevIO is the socket's override of aiofd-writev-io.
func (s *Socket) writevIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	iov := args[1].([][]byte)
	var tag any
	if len(args) > 2 {
		tag = args[2]
	}
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if s.kind == KindUDP {
		if dest, ok := tag.(*WriteDest); ok && dest != nil && dest.Addr != nil {
			merged := gather(iov)
			if err := unix.Sendto(fd, merged, 0, dest.Addr); err != nil {
				out.n, out.err = -1, err
			} else {
				out.n = len(merged)
			}
			return
		}
	}
	n, err := unix.Writev(fd, iov)
	out.n, out.err = n, err
}

// nreadIO is the socket's override of aiofd-nread-io: for a listening
// socket, skip the ioctl entirely and just echo the listening flag so
// the read-ready path can tell an inbound connection apart from data.
func (s *Socket) nreadIO(_ any, args ...any) {
	out := args[0].(*ioOutcome)
	if s.listening.Load() {
		out.listening = true
		return
	}
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	out.n, out.err = n, err
}

func totalLen(iov [][]byte) int {
	n := 0
	for _, b := range iov {
		n += len(b)
	}
	return n
}

func gather(iov [][]byte) []byte {
	buf := make([]byte, 0, totalLen(iov))
	for _, b := range iov {
		buf = append(buf, b...)
	}
	return buf
}

func scatter(iov [][]byte, data []byte) {
	for _, b := range iov {
		n := copy(b, data)
		data = data[n:]
		if len(data) == 0 {
			return
		}
	}
}

// onAiofdReadEvt translates the underlying aiofd's read-evt into the
// socket-level event appropriate to the socket's kind and state: a
// datagram read, an inbound connection on a listening socket, a
// peer-close disconnect, or an ordinary stream read.
func (s *Socket) onAiofdReadEvt(_ any, args ...any) {
	n, _ := args[1].(int)
	listening, _ := args[2].(bool)

	if s.kind == KindUDP {
		s.cb.Call(SocketReadEvt, s, n)
		return
	}
	if listening {
		s.cb.Call(SocketConnectEvt, s)
		return
	}
	if n == 0 {
		s.Disconnect()
		return
	}
	s.cb.Call(SocketReadEvt, s, n)
}

// onAiofdWriteEvt translates the underlying aiofd's write-evt into the
// socket-level event appropriate to the socket's kind and state: a
// datagram write, a pending-connect completion check via SO_ERROR, or an
// ordinary stream write/drain.
func (s *Socket) onAiofdWriteEvt(_ any, args ...any) {
	var buf []byte
	if b, ok := args[1].([]byte); ok {
		buf = b
	}
	var tag any
	if len(args) > 3 {
		tag = args[3]
	}

	if s.kind == KindUDP {
		s.cb.Call(SocketWriteEvt, s, buf, tag)
		if buf == nil {
			s.aiofd.EnableWriteEvt(false, s.loop)
		}
		return
	}

	if s.connecting.Load() {
		s.mu.Lock()
		fd := s.fd
		s.mu.Unlock()
		errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		s.connecting.Store(false)
		if err == nil && errno == 0 {
			s.connected.Store(true)
			s.logger.Debug("socket connected", "fd", fd)
			s.cb.Call(SocketConnectEvt, s)
			s.aiofd.EnableReadEvt(true, s.loop)
			return
		}
		connErrno := NewErrno(syscall.Errno(errno))
		s.logger.Warn("async connect failed", "fd", fd, "err", connErrno)
		s.cb.Call(SocketErrorEvt, s, connErrno)
		s.aiofd.EnableWriteEvt(false, s.loop)
		return
	}

	if buf == nil {
		s.aiofd.EnableWriteEvt(false, s.loop)
		return
	}
	s.cb.Call(SocketWriteEvt, s, buf, tag)
}

// onAiofdErrorEvt forwards the aiofd's error-evt as socket-error-evt. The
// errno is always the last positional argument: (aiofd, errno) for a
// read-path error, (aiofd, tag, errno) for a write-path error.
func (s *Socket) onAiofdErrorEvt(_ any, args ...any) {
	if len(args) == 0 {
		return
	}
	errno := args[len(args)-1]
	s.logger.Warn("socket aiofd error", "fd", s.fd, "err", errno)
	s.cb.Call(SocketErrorEvt, s, errno)
}
