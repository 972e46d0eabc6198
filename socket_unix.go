package reactio

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// openUnix opens a non-blocking AF_UNIX stream socket. host is stashed
// as the filesystem path (no addrinfo resolution applies).
func (s *Socket) openUnix() (int, unix.Sockaddr, error) {
	if s.host == "" {
		return -1, nil, ErrNoHostname
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, errors.Wrap(err, "socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, errors.Wrap(err, "set nonblocking")
	}
	return fd, nil, nil
}
