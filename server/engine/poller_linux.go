//go:build linux

// only low level epoll functional, the reactor decides what to arm
package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	maxEvents = 128

	// every client socket: edge triggered, delivered once until re-armed
	connFlags uint32 = unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT

	readEvents  uint32 = unix.EPOLLIN | connFlags
	writeEvents uint32 = unix.EPOLLOUT | connFlags

	hangupEvents uint32 = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
)

type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *Poller) ctl(op, fd int, events uint32) error {
	if p.epfd < 0 {
		return ErrPollerClosed
	}
	return unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

func (p *Poller) Add(fd int, events uint32) error { return p.ctl(unix.EPOLL_CTL_ADD, fd, events) }

func (p *Poller) Mod(fd int, events uint32) error { return p.ctl(unix.EPOLL_CTL_MOD, fd, events) }

// Remove ignores fds epoll no longer knows about
func (p *Poller) Remove(fd int) error {
	if p.epfd < 0 {
		return ErrPollerClosed
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// Wait blocks for up to msec (-1 forever); an interrupted wait is an empty batch.
// the returned slice is reused by the next call
func (p *Poller) Wait(msec int) ([]unix.EpollEvent, error) {
	if p.epfd < 0 {
		return nil, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	return p.events[:n], nil
}

func (p *Poller) Close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}
