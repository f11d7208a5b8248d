package engine

import "sync"

// fds above MaxConns still show up: the listener, epoll, files workers open for a moment
const fdSlack = 1024

// ConnID names a conn without pointing at it; Gen changes every time the slot is reused.
type ConnID struct {
	Fd  int
	Gen uint32
}

// Table is the fd indexed arena of conns. reactor goroutine only.
// buffers are given to a slot on accept and returned to the pools on close,
// so idle slots don't hold memory
type Table struct {
	slots []Conn
	live  int
	max   int

	rsize, wsize int
	rpool, wpool sync.Pool
}

func NewTable(maxConns, readSize, writeSize int) *Table {
	t := &Table{
		slots: make([]Conn, maxConns+fdSlack),
		max:   maxConns,
		rsize: readSize,
		wsize: writeSize,
	}
	t.rpool.New = func() any { b := make([]byte, t.rsize); return &b }
	t.wpool.New = func() any { b := make([]byte, t.wsize); return &b }
	for i := range t.slots {
		t.slots[i].fd = -1
	}
	return t
}

func (t *Table) Len() int { return t.live }
func (t *Table) Cap() int { return t.max }

// Open claims the slot for fd. The caller still owns fd when this fails.
func (t *Table) Open(fd int, p *Poller) (*Conn, error) {
	if t.live >= t.max || fd < 0 || fd >= len(t.slots) {
		return nil, ErrTableFull
	}
	c := &t.slots[fd]
	if c.open {
		return nil, ErrTableFull
	}
	rb := t.rpool.Get().(*[]byte)
	wb := t.wpool.Get().(*[]byte)
	c.gen++
	c.attach(fd, *rb, *wb)
	c.poller = p
	t.live++
	return c, nil
}

// Lookup is the open conn on fd or nil
func (t *Table) Lookup(fd int) *Conn {
	if fd < 0 || fd >= len(t.slots) || !t.slots[fd].open {
		return nil
	}
	return &t.slots[fd]
}

// Get resolves id, nil once the slot was closed or reused
func (t *Table) Get(id ConnID) *Conn {
	c := t.Lookup(id.Fd)
	if c == nil || c.gen != id.Gen {
		return nil
	}
	return c
}

// Close frees the slot. it doesn't touch the socket.
func (t *Table) Close(c *Conn) {
	if c == nil || !c.open {
		return
	}
	rb, wb := c.detach()
	t.rpool.Put(&rb)
	t.wpool.Put(&wb)
	t.live--
}

// Each visits every open conn; fn may close it
func (t *Table) Each(fn func(c *Conn)) {
	for i := range t.slots {
		if t.slots[i].open {
			fn(&t.slots[i])
		}
	}
}
