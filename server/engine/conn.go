package engine

import (
	"errors"

	"github.com/kfcemployee/filesrv/server/timer"
	"golang.org/x/sys/unix"
)

// what the reactor does with a conn a worker handed back
type Phase uint8

const (
	PhaseRead  Phase = iota // need more bytes, re-arm read
	PhaseWrite              // response is built, re-arm write
	PhaseClose              // drop it
)

// Body is a read-only view that outlives the call that produced it, e.g. a mapped file.
type Body interface {
	Bytes() []byte
	Release() error
}

// WriteBuffer is the fixed header buffer. writes are all or nothing.
type WriteBuffer struct {
	buf []byte
	n   int
}

func (w *WriteBuffer) Write(p []byte) (int, error) {
	if len(p) > len(w.buf)-w.n {
		return 0, ErrWriteBufferFull
	}
	w.n += copy(w.buf[w.n:], p)
	return len(p), nil
}

func (w *WriteBuffer) WriteString(s string) (int, error) {
	if len(s) > len(w.buf)-w.n {
		return 0, ErrWriteBufferFull
	}
	w.n += copy(w.buf[w.n:], s)
	return len(s), nil
}

func (w *WriteBuffer) Bytes() []byte { return w.buf[:w.n] }
func (w *WriteBuffer) Len() int { return w.n }
func (w *WriteBuffer) Cap() int { return len(w.buf) }
func (w *WriteBuffer) Reset() { w.n = 0 }

// Truncate drops everything written after the first n bytes
func (w *WriteBuffer) Truncate(n int) {
	if n >= 0 && n < w.n {
		w.n = n
	}
}

// Conn is one client socket: fixed read buffer, header buffer and maybe a mapped body.
// it belongs to the reactor, or to exactly one worker while busy is set
type Conn struct {
	fd   int
	gen  uint32
	open bool

	rbuf   []byte
	filled int
	Req    Request

	out       WriteBuffer
	body      Body
	iov       [2][]byte
	pending   [][]byte // unsent part of iov
	total     int
	sent      int
	keepAlive bool

	poller *Poller
	timer  *timer.Node[ConnID]
	busy   bool
	next   Phase
}

// NewConn wraps an already non-blocking fd. A conn without a poller never re-arms.
func NewConn(fd, readSize, writeSize int) *Conn {
	c := &Conn{}
	c.attach(fd, make([]byte, readSize), make([]byte, writeSize))
	return c
}

func (c *Conn) attach(fd int, rbuf, wbuf []byte) {
	c.fd = fd
	c.open = true
	c.rbuf = rbuf
	c.out = WriteBuffer{buf: wbuf}
	c.filled = 0
	c.Req.Reset()
	c.resetWrite()
}

func (c *Conn) Fd() int { return c.fd }
func (c *Conn) ID() ConnID { return ConnID{Fd: c.fd, Gen: c.gen} }
func (c *Conn) Filled() int { return c.filled }
func (c *Conn) KeepAlive() bool { return c.keepAlive }

// Buffer is everything received and not yet consumed by a finished request
func (c *Conn) Buffer() []byte { return c.rbuf[:c.filled] }

// Bytes resolves v against the received bytes, nil if it points outside them
func (c *Conn) Bytes(v View) []byte {
	if v.St > v.End || int(v.End) > c.filled {
		return nil
	}
	return c.rbuf[v.St:v.End]
}

func (c *Conn) Out() *WriteBuffer { return &c.out }

// SetBody hands b to the conn, it is released once the response is done with it
func (c *Conn) SetBody(b Body) {
	c.releaseBody()
	c.body = b
}

func (c *Conn) SetKeepAlive(v bool) { c.keepAlive = v }

// Receive reads until the socket would block or the buffer is full; a full buffer is
// still a successful read, the parser decides whether the request fits.
func (c *Conn) Receive() IOResult {
	if c.filled >= len(c.rbuf) {
		return IOResult{Status: IOFatal, Err: ErrReadBufferFull}
	}
	var total int
	for {
		if c.filled >= len(c.rbuf) {
			return IOResult{Status: IOBufferFull, N: total}
		}
		n, err := unix.Read(c.fd, c.rbuf[c.filled:])
		switch {
		case err == nil && n > 0:
			c.filled += n
			total += n
		case err == nil:
			return IOResult{Status: IOPeerClosed, N: total}
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return IOResult{Status: IOWouldBlock, N: total}
		default:
			return IOResult{Status: IOFatal, N: total, Err: err}
		}
	}
}

// prepare lays out header and body as the two write segments, Send does it on first call
func (c *Conn) prepare() {
	c.iov[0] = c.out.Bytes()
	c.iov[1] = nil
	if c.body != nil {
		c.iov[1] = c.body.Bytes()
	}
	c.pending = c.iov[:]
	c.total = len(c.iov[0]) + len(c.iov[1])
	c.sent = 0
}

// Send flushes the response with writev, re-arming for write on a short write
// and for read after a keep-alive response.
func (c *Conn) Send() IOResult {
	if c.total == 0 {
		c.prepare()
	}
	var total int
	for c.sent < c.total {
		for len(c.pending) > 0 && len(c.pending[0]) == 0 {
			c.pending = c.pending[1:]
		}
		n, err := unix.Writev(c.fd, c.pending)
		if n > 0 {
			c.sent += n
			total += n
			c.advance(n)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			if aerr := c.armWrite(); aerr != nil {
				c.releaseBody()
				return IOResult{Status: IOFatal, N: total, Err: aerr}
			}
			return IOResult{Status: IOWouldBlock, N: total}
		}
		c.releaseBody()
		return IOResult{Status: IOFatal, N: total, Err: err}
	}

	c.releaseBody()
	if !c.keepAlive {
		return IOResult{Status: IOClose, N: total}
	}
	c.resetForNext()
	if c.filled > 0 {
		return IOResult{Status: IOPending, N: total}
	}
	if err := c.armRead(); err != nil {
		return IOResult{Status: IOFatal, N: total, Err: err}
	}
	return IOResult{Status: IOComplete, N: total}
}

// drop n written bytes off the front of pending
func (c *Conn) advance(n int) {
	for n > 0 && len(c.pending) > 0 {
		if n < len(c.pending[0]) {
			c.pending[0] = c.pending[0][n:]
			return
		}
		n -= len(c.pending[0])
		c.pending = c.pending[1:]
	}
}

// resetForNext keeps the bytes after the finished request and forgets everything else
func (c *Conn) resetForNext() {
	cons := c.Req.End
	if cons <= 0 || cons > c.filled {
		cons = c.filled
	}
	rem := c.filled - cons
	if rem > 0 {
		copy(c.rbuf, c.rbuf[cons:c.filled])
	}
	c.filled = rem
	c.Req.Reset()
	c.resetWrite()
}

func (c *Conn) resetWrite() {
	c.releaseBody()
	c.out.Reset()
	c.iov = [2][]byte{}
	c.pending = nil
	c.total = 0
	c.sent = 0
	c.keepAlive = false
}

func (c *Conn) releaseBody() {
	if c.body == nil {
		return
	}
	b := c.body
	c.body = nil
	_ = b.Release()
}

func (c *Conn) armRead() error {
	if c.poller == nil {
		return nil
	}
	return c.poller.Mod(c.fd, readEvents)
}

func (c *Conn) armWrite() error {
	if c.poller == nil {
		return nil
	}
	return c.poller.Mod(c.fd, writeEvents)
}

// detach drops everything but the buffers, which the caller takes back
func (c *Conn) detach() (rbuf, wbuf []byte) {
	c.releaseBody()
	rbuf, wbuf = c.rbuf, c.out.buf
	gen := c.gen
	*c = Conn{gen: gen, fd: -1}
	return rbuf, wbuf
}
