//go:build linux
// +build linux

package server

import (
	"errors"
	"fmt"
	"github.com/fzft/go-log-collector/reactor"
	"golang.org/x/sys/unix"
	"io"
	"net"
	"os"
)

var errUnknownFamily = errors.New("unknown address family")

// fdSocket is an accepted TCP connection driven through raw syscalls.
type fdSocket struct {
	fd int
}

func (s *fdSocket) Fd() int {
	return s.fd
}

func (s *fdSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if reactor.IsTemporaryError(err) {
			return 0, ErrWouldBlock
		}
		return 0, os.NewSyscallError("read", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *fdSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if reactor.IsTemporaryError(err) {
			return 0, ErrWouldBlock
		}
		return 0, os.NewSyscallError("write", err)
	}
	return n, nil
}

func (s *fdSocket) PeerAddr() (string, int, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return "", 0, os.NewSyscallError("getpeername", err)
	}
	return sockaddrToAddr(sa)
}

func (s *fdSocket) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// fdListener is a listening TCP socket.
type fdListener struct {
	fd int
}

// listenTCP binds bind:port with SO_REUSEADDR and starts listening with the
// given backlog (SOMAXCONN when not positive).
func listenTCP(bind string, port, backlog int) (listenSocket, error) {
	ip := net.ParseIP(bind)
	if ip == nil {
		addr, err := net.ResolveIPAddr("ip", bind)
		if err != nil {
			return nil, err
		}
		ip = addr.IP
	}

	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: port}
		copy(sa4.Addr[:], ip4)
		domain, sa = unix.AF_INET, sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: port}
		copy(sa6.Addr[:], ip.To16())
		domain, sa = unix.AF_INET6, sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	return &fdListener{fd: fd}, nil
}

func (l *fdListener) Fd() int {
	return l.fd
}

func (l *fdListener) Accept() (Socket, error) {
	connFd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		// Handle the case where there are no more connections to accept.
		if reactor.IsTemporaryError(err) || errors.Is(err, unix.ECONNABORTED) {
			return nil, ErrWouldBlock
		}
		return nil, os.NewSyscallError("accept", err)
	}
	return &fdSocket{fd: connFd}, nil
}

func (l *fdListener) Close() error {
	return os.NewSyscallError("close", unix.Close(l.fd))
}

func sockaddrToAddr(sa unix.Sockaddr) (string, int, error) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(addr.Addr[:]).String(), addr.Port, nil
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String(), addr.Port, nil
	default:
		return "", 0, fmt.Errorf("%w: %T", errUnknownFamily, sa)
	}
}
