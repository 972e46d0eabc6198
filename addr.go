package reactio

import (
	"context"
	"net"

	"golang.org/x/sys/unix"
)

// HostBufLen and PortBufLen document sizes comparable to a fixed-size C
// address-string buffer. This package returns strings instead of writing
// into caller-supplied fixed buffers, since Go's garbage collector makes
// that allocation-avoidance unnecessary, but the constants are kept for
// any caller that wants to size a comparable byte buffer itself.
const (
	HostBufLen = 1024
	PortBufLen = 8
)

// AIPassive mirrors the AI_PASSIVE getaddrinfo hint bit: an empty host
// resolves to the wildcard address instead of failing.
const AIPassive = 0x0001

// WriteDest is the tag a Socket attaches to a write enqueued via WriteTo/
// WriteVTo, threaded through the aiofd's write-io strategy and echoed to
// the aiofd-write-evt listener. Go's GC reclaims it once the completion
// listener drops its reference, so there is no ownership transfer to
// make explicit beyond holding the struct by pointer.
type WriteDest struct {
	Addr unix.Sockaddr
}

func (s *Socket) resolveIP() (net.IP, error) {
	if s.host == "" {
		if s.aiFlags&AIPassive == 0 {
			return nil, ErrNoHostname
		}
		if s.aiFamily == unix.AF_INET6 {
			return net.IPv6zero, nil
		}
		return net.IPv4zero, nil
	}
	if ip := net.ParseIP(s.host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), s.host)
	if err != nil || len(addrs) == 0 {
		return nil, ErrNoHostname
	}
	if s.aiFamily == 0 {
		return addrs[0].IP, nil
	}
	for _, a := range addrs {
		v4 := a.IP.To4() != nil
		if (s.aiFamily == unix.AF_INET && v4) || (s.aiFamily == unix.AF_INET6 && !v4) {
			return a.IP, nil
		}
	}
	return nil, ErrNoHostname
}

func buildSockaddr(ip net.IP, port int) (unix.Sockaddr, int, error) {
	if v4 := ip.To4(); v4 != nil {
		var a [4]byte
		copy(a[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: a}, unix.AF_INET, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, 0, ErrBadParam
	}
	var a [16]byte
	copy(a[:], v6)
	return &unix.SockaddrInet6{Port: port, Addr: a}, unix.AF_INET6, nil
}

func sockaddrFromNetAddr(addr net.Addr) (unix.Sockaddr, error) {
	switch v := addr.(type) {
	case *net.TCPAddr:
		sa, _, err := buildSockaddr(v.IP, v.Port)
		return sa, err
	case *net.UDPAddr:
		sa, _, err := buildSockaddr(v.IP, v.Port)
		return sa, err
	case *net.UnixAddr:
		return &unix.SockaddrUnix{Name: v.Name}, nil
	default:
		return nil, ErrBadParam
	}
}

func sockaddrToNetAddr(kind SocketKind, sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return addrForKind(kind, ip, v.Port)
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return addrForKind(kind, ip, v.Port)
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: v.Name, Net: "unix"}
	default:
		return nil
	}
}

func addrForKind(kind SocketKind, ip net.IP, port int) net.Addr {
	if kind == KindUDP {
		return &net.UDPAddr{IP: ip, Port: port}
	}
	return &net.TCPAddr{IP: ip, Port: port}
}

// LocalAddr returns the socket's local endpoint, or nil if not yet bound
// or connected.
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localSA == nil {
		return nil
	}
	return sockaddrToNetAddr(s.kind, s.localSA)
}

// RemoteAddr returns the socket's peer endpoint, or nil if not connected.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteSA == nil {
		return nil
	}
	return sockaddrToNetAddr(s.kind, s.remoteSA)
}
