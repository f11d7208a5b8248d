package engine

import (
	"time"

	"github.com/kfcemployee/filesrv/internal/logging"
	"github.com/kfcemployee/filesrv/internal/metrics"
)

type Options struct {
	Host    string
	Port    int
	Backlog int

	Workers   int
	QueueSize int
	MaxConns  int

	ReadBufferSize  int
	WriteBufferSize int

	TickInterval  time.Duration
	IdleTimeout   time.Duration // deadline given on accept
	ActiveTimeout time.Duration // deadline after every read

	// HandleSignals makes SIGINT and SIGTERM stop the reactor
	HandleSignals bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.Backlog <= 0 {
		o.Backlog = 16
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 65535
	}
	if o.ReadBufferSize <= 0 || o.ReadBufferSize > 1<<16-1 {
		o.ReadBufferSize = 2048
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 1024
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 3 * o.TickInterval
	}
	if o.ActiveTimeout <= 0 {
		o.ActiveTimeout = 2 * o.TickInterval
	}
}
