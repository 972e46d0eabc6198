package reactio

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// SocketKind selects the socket's wire semantics. The zero value,
// KindUnknown, is deliberately Go's zero value rather than overloading
// Tcp/Udp/Unix, so a nil or not-yet-typed socket reports a dedicated
// null kind instead of aliasing one of the real protocols.
type SocketKind int

const (
	KindUnknown SocketKind = iota
	KindTCP
	KindUDP
	KindUnix
)

func (k SocketKind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindUnix:
		return "unix"
	default:
		return "unknown"
	}
}

// Socket resolves an endpoint, lazily opens a TCP/UDP/Unix fd, and drives
// it through the open->bind->listen->accept or open->connect->connected
// state machine, publishing socket-*-evt names on cb and consuming its
// owned Aiofd's read/write/error events on a
// private registry that also carries this socket's IO-strategy
// overrides (read/write on the socket fd, recvfrom/sendto for
// unconnected or addressed datagrams, and an nread-io that reports the
// listening flag).
type Socket struct {
	kind SocketKind
	cb   *Registry // public: socket-connect-evt/disconnect-evt/error-evt/read-evt/write-evt
	priv *Registry // private: handed to the owned Aiofd as its strategy+evt registry

	host, port        string
	aiFlags, aiFamily int
	backlog           int
	reuseport         bool
	logger            *slog.Logger

	mu       sync.Mutex
	fd       int
	opened   bool
	localSA  unix.Sockaddr
	remoteSA unix.Sockaddr
	fromSA   unix.Sockaddr // scratch for the next ReadFrom/ReadVFrom

	connected  atomic.Bool
	connecting atomic.Bool
	bound      atomic.Bool
	listening  atomic.Bool

	aiofd *Aiofd
	loop  *Loop
}

// NewSocket constructs a socket of the given kind targeting host:port
// (host may be empty for a bind-any server with WithAIFlags(AIPassive);
// port must be empty for KindUnix, where host is a filesystem path). The
// fd is not opened until Connect or Bind.
func NewSocket(kind SocketKind, cb *Registry, host, port string, opts ...SocketOption) (*Socket, error) {
	if cb == nil {
		return nil, ErrBadParam
	}
	if kind == KindUnix && port != "" {
		return nil, ErrUnixPortGiven
	}
	o := defaultSocketOptions()
	for _, opt := range opts {
		opt(o)
	}
	s := &Socket{
		kind:      kind,
		cb:        cb,
		priv:      NewRegistry(),
		host:      host,
		port:      port,
		aiFlags:   o.aiFlags,
		aiFamily:  o.aiFamily,
		backlog:   o.backlog,
		reuseport: o.reuseport,
		logger:    o.logger,
		fd:        -1,
	}
	s.priv.Add(AiofdReadEvt, s, s.onAiofdReadEvt)
	s.priv.Add(AiofdWriteEvt, s, s.onAiofdWriteEvt)
	s.priv.Add(AiofdErrorEvt, s, s.onAiofdErrorEvt)
	return s, nil
}

func (s *Socket) open() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return StatusOpened, nil
	}
	var fd int
	var local unix.Sockaddr
	var err error
	switch s.kind {
	case KindTCP:
		fd, local, err = s.openTCP()
	case KindUDP:
		fd, local, err = s.openUDP()
	case KindUnix:
		fd, local, err = s.openUnix()
	default:
		return StatusBadParam, ErrBadParam
	}
	if err != nil {
		return StatusOpenFail, err
	}

	aiofd, err := NewAiofd(fd, fd, s.priv)
	if err != nil {
		unix.Close(fd)
		return StatusOpenFail, err
	}
	aiofd.SetReadIO(s.readIO)
	aiofd.SetWriteIO(s.writeIO)
	aiofd.SetReadvIO(s.readvIO)
	aiofd.SetWritevIO(s.writevIO)
	aiofd.SetNreadIO(s.nreadIO)

	s.fd = fd
	s.localSA = local
	s.aiofd = aiofd
	s.opened = true
	return StatusOpened, nil
}

// Connect opens (if needed) and connects the socket. For UDP, "connect"
// completes synchronously and marks the socket connected immediately;
// for TCP/Unix, a pending connect is completed asynchronously via the
// write event.
func (s *Socket) Connect(loop *Loop) (Status, error) {
	if loop == nil {
		return StatusBadParam, ErrBadParam
	}
	if st, err := s.open(); err != nil {
		return st, err
	}
	s.loop = loop

	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	var sa unix.Sockaddr
	if s.kind == KindUnix {
		sa = &unix.SockaddrUnix{Name: s.host}
	} else {
		ip, rerr := s.resolveIP()
		if rerr != nil {
			return StatusBadHostname, rerr
		}
		port, perr := parsePort(s.port)
		if perr != nil {
			return StatusInvalidPort, perr
		}
		var bErr error
		sa, _, bErr = buildSockaddr(ip, port)
		if bErr != nil {
			return StatusBadParam, bErr
		}
	}

	err := unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		return StatusConnectFail, errors.Wrap(err, "connect")
	}

	s.mu.Lock()
	s.remoteSA = sa
	if la, lerr := unix.Getsockname(fd); lerr == nil {
		s.localSA = la
	}
	s.mu.Unlock()

	if s.kind == KindUDP {
		s.connected.Store(true)
		s.cb.Call(SocketConnectEvt, s)
		return StatusOK, nil
	}
	s.connecting.Store(true)
	if err := s.aiofd.EnableWriteEvt(true, loop); err != nil {
		return StatusConnectFail, err
	}
	return StatusOK, nil
}

// Disconnect tears the socket down: shutdown, disarm both events,
// release the aiofd, close the fd, unlink a Unix socket path (if it
// still refers to a socket inode), and fire socket-disconnect-evt.
func (s *Socket) Disconnect() (Status, error) {
	s.mu.Lock()
	fd := s.fd
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return StatusOK, nil
	}

	unix.Shutdown(fd, unix.SHUT_RDWR)
	if s.aiofd != nil {
		s.aiofd.Close()
	}
	unix.Close(fd)

	if s.kind == KindUnix && s.host != "" {
		if fi, err := os.Lstat(s.host); err == nil && fi.Mode()&os.ModeSocket != 0 {
			unix.Unlink(s.host)
		}
	}

	s.connected.Store(false)
	s.bound.Store(false)
	s.listening.Store(false)

	s.mu.Lock()
	s.opened = false
	s.fd = -1
	s.mu.Unlock()

	s.cb.Call(SocketDisconnectEvt, s)
	return StatusOK, nil
}

// Bind lazily opens the socket, sets SO_REUSEADDR (and SO_REUSEPORT if
// requested) on IP sockets, and binds it to the resolved local address.
func (s *Socket) Bind() (Status, error) {
	if st, err := s.open(); err != nil {
		return st, err
	}
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if s.connected.Load() {
		return StatusConnected, ErrAlreadyConn
	}

	var sa unix.Sockaddr
	if s.kind == KindUnix {
		sa = &unix.SockaddrUnix{Name: s.host}
	} else {
		ip, err := s.resolveIP()
		if err != nil {
			return StatusBadHostname, err
		}
		port, perr := parsePort(s.port)
		if perr != nil {
			return StatusInvalidPort, perr
		}
		var bErr error
		sa, _, bErr = buildSockaddr(ip, port)
		if bErr != nil {
			return StatusBadParam, bErr
		}
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if s.reuseport {
			setReusePort(fd)
		}
	}

	if err := unix.Bind(fd, sa); err != nil {
		return StatusBindFail, errors.Wrap(err, "bind")
	}
	if la, err := unix.Getsockname(fd); err == nil {
		sa = la // picks up the kernel-assigned port when binding port 0
	}
	s.mu.Lock()
	s.localSA = sa
	s.mu.Unlock()
	s.bound.Store(true)
	return StatusBound, nil
}

// Listen requires the socket to already be bound (non-UDP only); it
// enables the read event (fires on incoming connections) and marks the
// socket listening.
func (s *Socket) Listen(loop *Loop) (Status, error) {
	if loop == nil {
		return StatusBadParam, ErrBadParam
	}
	if s.kind == KindUDP {
		return StatusBadParam, ErrUnsupported
	}
	if !s.bound.Load() {
		return StatusBound, ErrNotBound
	}
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if err := unix.Listen(fd, s.backlog); err != nil {
		return StatusBindFail, errors.Wrap(err, "listen")
	}
	s.loop = loop
	s.listening.Store(true)
	if err := s.aiofd.EnableReadEvt(true, loop); err != nil {
		return StatusPollErr, err
	}
	return StatusOK, nil
}

// Accept is only valid on a bound, listening, non-UDP socket. It
// constructs a new Socket around the accepted fd, marks it connected,
// and enables its read event.
func (s *Socket) Accept(cb *Registry, loop *Loop) (*Socket, Status, error) {
	if s.kind == KindUDP || !s.bound.Load() || !s.listening.Load() {
		return nil, StatusBadParam, ErrNotListening
	}
	s.mu.Lock()
	lfd := s.fd
	s.mu.Unlock()

	nfd, peer, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		s.logger.Warn("accept4 failed", "fd", lfd, "err", err)
		return nil, StatusPollErr, errors.Wrap(err, "accept4")
	}

	child := &Socket{
		kind:   s.kind,
		cb:     cb,
		priv:   NewRegistry(),
		logger: s.logger,
		fd:     nfd,
		opened: true,
	}
	child.priv.Add(AiofdReadEvt, child, child.onAiofdReadEvt)
	child.priv.Add(AiofdWriteEvt, child, child.onAiofdWriteEvt)
	child.priv.Add(AiofdErrorEvt, child, child.onAiofdErrorEvt)

	if s.kind == KindTCP {
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		if la, err := unix.Getsockname(nfd); err == nil {
			child.localSA = la
		}
		child.host, child.port = addrToHostPort(peer)
	} else {
		if ua, ok := peer.(*unix.SockaddrUnix); ok {
			child.host = ua.Name
		}
	}
	child.remoteSA = peer

	aiofd, err := NewAiofd(nfd, nfd, child.priv)
	if err != nil {
		unix.Close(nfd)
		return nil, StatusOpenFail, err
	}
	aiofd.SetReadIO(child.readIO)
	aiofd.SetWriteIO(child.writeIO)
	aiofd.SetReadvIO(child.readvIO)
	aiofd.SetWritevIO(child.writevIO)
	aiofd.SetNreadIO(child.nreadIO)
	child.aiofd = aiofd
	child.loop = loop
	child.connected.Store(true)

	if err := aiofd.EnableReadEvt(true, loop); err != nil {
		return nil, StatusPollErr, err
	}
	return child, StatusOK, nil
}

func addrToHostPort(sa unix.Sockaddr) (string, string) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return ip.String(), portString(v.Port)
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return ip.String(), portString(v.Port)
	default:
		return "", ""
	}
}

// Read/ReadV delegate straight to the owned aiofd. Write/WriteV enqueue
// and then ensure the write event is armed on the socket's loop: the one
// given to Connect, Listen or Accept, or else the loop the owned Aiofd's
// read event was last enabled on. With neither, the write stays queued
// until the write event is enabled.
func (s *Socket) Read(buf []byte) (int, error)    { return s.aiofd.Read(buf) }
func (s *Socket) ReadV(iov [][]byte) (int, error) { return s.aiofd.ReadV(iov) }

func (s *Socket) Write(buf []byte) error {
	if err := s.aiofd.Write(buf, nil); err != nil {
		return err
	}
	s.ensureWriteEvt()
	return nil
}

func (s *Socket) WriteV(iov [][]byte) error {
	if err := s.aiofd.WriteV(iov, nil); err != nil {
		return err
	}
	s.ensureWriteEvt()
	return nil
}

func (s *Socket) Flush() error { return s.aiofd.Flush() }

// ReadFrom performs a Read while capturing the sender's address (UDP),
// set via the socket's read-io/readv-io strategies into s.fromSA.
func (s *Socket) ReadFrom(buf []byte) (int, net.Addr, error) {
	n, err := s.aiofd.Read(buf)
	return n, s.takeFromAddr(), err
}

// ReadVFrom is the iovec-based counterpart of ReadFrom.
func (s *Socket) ReadVFrom(iov [][]byte) (int, net.Addr, error) {
	n, err := s.aiofd.ReadV(iov)
	return n, s.takeFromAddr(), err
}

func (s *Socket) takeFromAddr() net.Addr {
	s.mu.Lock()
	sa := s.fromSA
	s.fromSA = nil
	s.mu.Unlock()
	if sa == nil {
		return nil
	}
	return sockaddrToNetAddr(s.kind, sa)
}

// WriteTo enqueues buf tagged with addr as the destination (UDP).
func (s *Socket) WriteTo(buf []byte, addr net.Addr) error {
	sa, err := sockaddrFromNetAddr(addr)
	if err != nil {
		return err
	}
	if err := s.aiofd.Write(buf, &WriteDest{Addr: sa}); err != nil {
		return err
	}
	s.ensureWriteEvt()
	return nil
}

// WriteVTo is the iovec-based counterpart of WriteTo.
func (s *Socket) WriteVTo(iov [][]byte, addr net.Addr) error {
	sa, err := sockaddrFromNetAddr(addr)
	if err != nil {
		return err
	}
	if err := s.aiofd.WriteV(iov, &WriteDest{Addr: sa}); err != nil {
		return err
	}
	s.ensureWriteEvt()
	return nil
}

func (s *Socket) IsConnected() bool { return s.connected.Load() }
func (s *Socket) IsBound() bool     { return s.bound.Load() }
func (s *Socket) IsListening() bool { return s.listening.Load() }
func (s *Socket) GetType() SocketKind {
	if s == nil {
		return KindUnknown
	}
	return s.kind
}

func (s *Socket) ensureWriteEvt() {
	if s.aiofd == nil {
		return
	}
	loop := s.loop
	if loop == nil {
		loop = s.aiofd.loop
	}
	if loop != nil {
		s.aiofd.EnableWriteEvt(true, loop)
	}
}
