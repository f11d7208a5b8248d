//go:build linux

package engine

import (
	"encoding/binary"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// completions carries conns from workers back to the reactor.
// workers never touch epoll, they push here and poke the eventfd
type completions struct {
	mu    sync.Mutex
	items []*Conn
	spare []*Conn
	fd    int
}

func newCompletions() (*completions, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &completions{fd: fd}, nil
}

func (q *completions) push(c *Conn) {
	q.mu.Lock()
	q.items = append(q.items, c)
	first := len(q.items) == 1
	q.mu.Unlock()

	// one wakeup per batch is enough, the counter just has to be non-zero
	if first {
		q.wake()
	}
}

func (q *completions) wake() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	for {
		_, err := unix.Write(q.fd, one[:])
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// drain clears the eventfd and takes everything queued so far.
// the slice is only valid until the next drain
func (q *completions) drain() []*Conn {
	var buf [8]byte
	for {
		_, err := unix.Read(q.fd, buf[:])
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}

	clear(q.spare)
	q.mu.Lock()
	out := q.items
	q.items = q.spare[:0]
	q.mu.Unlock()
	q.spare = out
	return out
}

func (q *completions) close() error {
	return unix.Close(q.fd)
}
