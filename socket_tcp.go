package reactio

import (
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func parsePort(port string) (int, error) {
	if port == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return 0, ErrBadParam
	}
	return n, nil
}

func portString(p int) string { return strconv.Itoa(p) }

// setReusePort sets SO_REUSEPORT where the platform defines it. A raw
// setsockopt rather than a dedicated reuseport library: the option is a
// single integer flag and x/sys/unix already exposes SetsockoptInt, so a
// wrapper library would add a dependency for no behavior a direct call
// doesn't already give.
func setReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// openTCP resolves the configured host/family hints to a family and
// opens a non-blocking, TCP_NODELAY stream socket. The socket is not yet
// bound or connected — Connect/Bind perform that against the family
// determined here.
func (s *Socket) openTCP() (int, unix.Sockaddr, error) {
	family := unix.AF_INET
	if s.aiFamily == unix.AF_INET6 {
		family = unix.AF_INET6
	} else if s.aiFamily == 0 && s.host != "" {
		if ip, err := s.resolveIP(); err == nil && ip.To4() == nil {
			family = unix.AF_INET6
		}
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return -1, nil, errors.Wrap(err, "setsockopt TCP_NODELAY")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, errors.Wrap(err, "set nonblocking")
	}
	return fd, nil, nil
}
