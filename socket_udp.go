package reactio

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// openUDP opens a non-blocking datagram socket. No TCP_NODELAY (UDP has
// no Nagle algorithm to disable).
func (s *Socket) openUDP() (int, unix.Sockaddr, error) {
	family := unix.AF_INET
	if s.aiFamily == unix.AF_INET6 {
		family = unix.AF_INET6
	} else if s.aiFamily == 0 && s.host != "" {
		if ip, err := s.resolveIP(); err == nil && ip.To4() == nil {
			family = unix.AF_INET6
		}
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, nil, errors.Wrap(err, "socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, errors.Wrap(err, "set nonblocking")
	}
	return fd, nil, nil
}
