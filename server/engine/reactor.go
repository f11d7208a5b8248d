//go:build linux

// the event loop: accept, read, hand to workers, write, expire
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/kfcemployee/filesrv/internal/logging"
	"github.com/kfcemployee/filesrv/internal/metrics"
	"github.com/kfcemployee/filesrv/server/timer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Handler does the per-request work on a worker goroutine.
type Handler interface {
	// Serve parses what the conn has buffered and, when a request is complete, builds the response.
	Serve(c *Conn) Phase
	// Reject builds an error response for a conn the pool had no room for. runs on the reactor.
	Reject(c *Conn) Phase
}

type Reactor struct {
	opts    Options
	handler Handler
	log     *logging.Logger
	m       *metrics.Metrics

	lfd    int
	port   int
	poller *Poller
	table  *Table
	timers *timer.Heap[ConnID]
	pool   *Pool[*Conn]
	done   *completions
	sig    *signalPipe

	now      func() time.Time
	stopOnce sync.Once
	running  chan struct{}
}

// NewReactor binds the listener and sets up epoll; nothing is served until Run.
func NewReactor(opts Options, h Handler) (_ *Reactor, err error) {
	if h == nil {
		return nil, errors.New("engine: nil handler")
	}
	opts.setDefaults()

	r := &Reactor{
		opts:    opts,
		handler: h,
		log:     opts.Logger,
		m:       opts.Metrics,
		lfd:     -1,
		table:   NewTable(opts.MaxConns, opts.ReadBufferSize, opts.WriteBufferSize),
		timers:  timer.New[ConnID](64),
		pool:    NewPool[*Conn](opts.Workers, opts.QueueSize),
		now:     time.Now,
		running: make(chan struct{}),
	}
	defer func() {
		if err != nil {
			r.closeFds()
		}
	}()

	if r.lfd, err = listenSocket(opts.Host, opts.Port, opts.Backlog); err != nil {
		return nil, err
	}
	if r.port, err = localPort(r.lfd); err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	if r.poller, err = NewPoller(); err != nil {
		return nil, fmt.Errorf("epoll: %w", err)
	}
	if r.done, err = newCompletions(); err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	if r.sig, err = newSignalPipe(); err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}

	// listener and the two internal fds stay level triggered
	for _, fd := range []int{r.lfd, r.sig.r, r.done.fd} {
		if err = r.poller.Add(fd, unix.EPOLLIN); err != nil {
			return nil, fmt.Errorf("epoll add fd %d: %w", fd, err)
		}
	}
	return r, nil
}

// Port is the bound port, useful when Options.Port was 0.
func (r *Reactor) Port() int { return r.port }

// Stop asks a running reactor to shut down at the end of its current iteration.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() { r.sig.notify(sigStop) })
}

// Run serves until ctx is done, Stop is called or a signal arrives, then closes
// every connection and fd. A reactor runs once.
func (r *Reactor) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	r.pool.Start(gctx, g, r.serve)
	g.Go(func() error { return r.forward(gctx) })

	r.log.Info().
		Int("port", r.port).
		Int("workers", r.opts.Workers).
		Int("max_conns", r.opts.MaxConns).
		Log("reactor started")
	close(r.running)

	err := r.loop()
	// the signal pipe is about to close, later Stop calls must not write to it
	r.stopOnce.Do(func() {})

	cancel()
	werr := g.Wait()
	r.shutdown()

	r.log.Info().Log("reactor stopped")
	return errors.Join(err, werr)
}

// Running is closed once Run has started accepting.
func (r *Reactor) Running() <-chan struct{} { return r.running }

// forward turns the ticker, process signals and ctx into bytes on the signal pipe
func (r *Reactor) forward(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	var sigs chan os.Signal
	if r.opts.HandleSignals {
		sigs = make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
	}

	for {
		select {
		case <-ticker.C:
			r.sig.notify(sigTick)
		case s := <-sigs:
			r.log.Notice().Str("signal", s.String()).Log("shutdown requested")
			r.Stop()
		case <-ctx.Done():
			r.Stop()
			return nil
		}
	}
}

func (r *Reactor) loop() error {
	for {
		events, err := r.poller.Wait(-1)
		if err != nil {
			return fmt.Errorf("epoll wait: %w", err)
		}

		var tick, stop bool
		for _, ev := range events {
			fd := int(ev.Fd)
			switch fd {
			case r.lfd:
				r.accept()
			case r.sig.r:
				t, s := r.sig.drain()
				tick = tick || t
				stop = stop || s
			case r.done.fd:
				r.complete()
			default:
				r.dispatch(fd, ev.Events)
			}
		}

		if tick {
			r.timers.Tick(r.now(), r.expire)
		}
		if stop {
			return nil
		}
	}
}

// accept takes one pending connection per readiness, the listener is level triggered
func (r *Reactor) accept() {
	nfd, _, err := unix.Accept4(r.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.ECONNABORTED) {
			r.log.Warning().Err(err).Log("accept failed")
		}
		return
	}

	c, err := r.table.Open(nfd, r.poller)
	if err != nil {
		unix.Close(nfd)
		r.m.ConnRejected()
		r.log.Debug().Int("fd", nfd).Int("live", r.table.Len()).Log("connection table full, dropped")
		return
	}
	r.m.ConnAccepted()

	if err := r.poller.Add(nfd, readEvents); err != nil {
		r.log.Warning().Int("fd", nfd).Err(err).Log("epoll add failed")
		r.evict(c, metrics.ReasonIOError)
		return
	}
	c.timer = &timer.Node[ConnID]{Expire: r.now().Add(r.opts.IdleTimeout), Value: c.ID()}
	r.timers.Add(c.timer)

	r.log.Debug().Int("fd", nfd).Int("live", r.table.Len()).Log("accepted")
}

func (r *Reactor) dispatch(fd int, events uint32) {
	c := r.table.Lookup(fd)
	if c == nil || c.busy {
		return
	}

	if events&hangupEvents != 0 {
		r.evict(c, metrics.ReasonPeerClosed)
		return
	}

	switch {
	case events&unix.EPOLLIN != 0:
		res := c.Receive()
		if res.Failed() {
			r.log.Debug().Int("fd", fd).Stringer("status", res.Status).Err(res.Err).Log("receive failed")
			r.evict(c, evictReason(res))
			return
		}
		// would block and buffer full both leave bytes for the handler
		r.extend(c, r.opts.ActiveTimeout)
		r.submit(c)
	case events&unix.EPOLLOUT != 0:
		r.flush(c)
	}
}

func (r *Reactor) flush(c *Conn) {
	res := c.Send()
	r.m.BytesSent(res.N)
	switch res.Status {
	case IOPending:
		r.submit(c)
	case IOClose:
		r.evict(c, metrics.ReasonDone)
	case IOFatal, IOPeerClosed:
		r.log.Debug().Int("fd", c.fd).Err(res.Err).Log("send failed")
		r.evict(c, metrics.ReasonIOError)
	}
}

func (r *Reactor) submit(c *Conn) {
	c.busy = true
	if r.pool.Submit(c) {
		return
	}
	c.busy = false
	r.m.QueueFull()
	r.log.Warning().Int("fd", c.fd).Int("queue", r.opts.QueueSize).Log("task queue full")
	r.finish(c, r.handler.Reject(c))
}

// serve runs on a worker. panics end that connection only.
func (r *Reactor) serve(c *Conn) {
	phase := PhaseClose
	defer func() {
		if v := recover(); v != nil {
			r.log.Err().Int("fd", c.fd).Any("panic", v).Log("handler panicked")
		}
		c.next = phase
		r.done.push(c)
	}()
	phase = r.handler.Serve(c)
}

// complete takes conns back from the workers
func (r *Reactor) complete() {
	for _, c := range r.done.drain() {
		c.busy = false
		r.finish(c, c.next)
	}
}

func (r *Reactor) finish(c *Conn, p Phase) {
	switch p {
	case PhaseRead:
		if err := c.armRead(); err != nil {
			r.evict(c, metrics.ReasonIOError)
		}
	case PhaseWrite:
		if err := c.armWrite(); err != nil {
			r.evict(c, metrics.ReasonIOError)
		}
	default:
		r.evict(c, metrics.ReasonDone)
	}
}

// extend moves the idle deadline to now+d
func (r *Reactor) extend(c *Conn, d time.Duration) {
	if c.timer == nil {
		return
	}
	expire := r.now().Add(d)
	later := expire.After(c.timer.Expire)
	c.timer.Expire = expire
	if later {
		r.timers.Adjust(c.timer)
	} else {
		r.timers.Fix(c.timer)
	}
}

// expire is the timer callback. a conn a worker still holds gets more time instead.
func (r *Reactor) expire(n *timer.Node[ConnID]) bool {
	c := r.table.Get(n.Value)
	if c == nil || c.timer != n {
		return false
	}
	if c.busy {
		n.Expire = r.now().Add(r.opts.ActiveTimeout)
		return true
	}
	r.log.Debug().Int("fd", c.fd).Log("idle timeout")
	r.evict(c, metrics.ReasonIdle)
	return false
}

// evict tears a conn down: timer first, then epoll, body, socket, slot
func (r *Reactor) evict(c *Conn, reason string) {
	fd := c.fd
	if c.timer != nil {
		r.timers.Delete(c.timer)
		c.timer = nil
	}
	if err := r.poller.Remove(fd); err != nil {
		r.log.Debug().Int("fd", fd).Err(err).Log("epoll del failed")
	}
	r.table.Close(c)
	unix.Close(fd)
	r.m.ConnClosed(reason)
}

func evictReason(res IOResult) string {
	if res.Status == IOPeerClosed {
		return metrics.ReasonPeerClosed
	}
	return metrics.ReasonIOError
}

// shutdown runs after the workers are gone, so every conn is the reactor's again
func (r *Reactor) shutdown() {
	for _, c := range r.done.drain() {
		c.busy = false
	}
	n := r.table.Len()
	r.table.Each(func(c *Conn) {
		c.busy = false
		r.evict(c, metrics.ReasonShutdown)
	})
	if n > 0 {
		r.log.Info().Int("closed", n).Log("closed remaining connections")
	}
	r.closeFds()
}

func (r *Reactor) closeFds() {
	if r.lfd >= 0 {
		unix.Close(r.lfd)
		r.lfd = -1
	}
	if r.poller != nil {
		r.poller.Close()
	}
	if r.done != nil {
		r.done.close()
	}
	if r.sig != nil {
		r.sig.close()
	}
}
