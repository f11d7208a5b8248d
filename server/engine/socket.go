//go:build linux

// listening socket and signal pipe creation
package engine

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// create new non-blocking socket, bind and start listening; port 0 picks a free one
func listenSocket(host string, port, backlog int) (int, error) {
	addr, err := parseAddr(host)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

func parseAddr(host string) ([4]byte, error) {
	if host == "" {
		return [4]byte{}, nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return [4]byte{}, fmt.Errorf("listen address: %w", err)
	}
	if !ip.Is4() {
		return [4]byte{}, fmt.Errorf("listen address %s: only IPv4 is supported", host)
	}
	return ip.As4(), nil
}

func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, errors.New("listener is not AF_INET")
}

// signal bytes sent over the socketpair
const (
	sigTick byte = 't'
	sigStop byte = 's'
)

// signalPipe gets one byte per tick or stop request, the reactor polls the read end
type signalPipe struct {
	r, w int
}

func newSignalPipe() (*signalPipe, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &signalPipe{r: fds[0], w: fds[1]}, nil
}

// notify drops the byte if the pipe is full, a backlog of pending signals already does the job
func (p *signalPipe) notify(sig byte) {
	b := [1]byte{sig}
	for {
		_, err := unix.Write(p.w, b[:])
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// drain reports which signals arrived since the last call
func (p *signalPipe) drain() (tick, stop bool) {
	var buf [64]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n <= 0 {
			return tick, stop
		}
		for _, b := range buf[:n] {
			switch b {
			case sigTick:
				tick = true
			case sigStop:
				stop = true
			}
		}
	}
}

func (p *signalPipe) close() error {
	return errors.Join(unix.Close(p.r), unix.Close(p.w))
}
