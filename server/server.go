// Package server puts the file processor behind the reactor.
package server

import (
	"context"
	"fmt"

	"github.com/kfcemployee/filesrv/internal/config"
	"github.com/kfcemployee/filesrv/internal/logging"
	"github.com/kfcemployee/filesrv/internal/metrics"
	"github.com/kfcemployee/filesrv/server/engine"
	"github.com/kfcemployee/filesrv/server/protocol"
)

// Deps are the collaborators a Server doesn't build itself, all optional.
type Deps struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	FS      protocol.FileSystem

	// HandleSignals lets SIGINT and SIGTERM stop the server
	HandleSignals bool
}

type Server struct {
	cfg     config.Config
	log     *logging.Logger
	reactor *engine.Reactor
}

// New validates cfg and binds the listening socket.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	proc := protocol.NewProcessor(protocol.ProcessorConfig{
		DocRoot:    cfg.DocRoot,
		MaxPathLen: cfg.MaxPathLen,
		FS:         deps.FS,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	})

	r, err := engine.NewReactor(engine.Options{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Backlog:         cfg.Backlog,
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		MaxConns:        cfg.MaxConns,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		TickInterval:    cfg.TickInterval.Duration,
		IdleTimeout:     cfg.IdleTimeout.Duration,
		ActiveTimeout:   cfg.ActiveTimeout.Duration,
		HandleSignals:   deps.HandleSignals,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
	}, proc)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return &Server{cfg: cfg, log: deps.Logger, reactor: r}, nil
}

// Port is the bound port, which differs from the config when it asked for 0.
func (s *Server) Port() int { return s.reactor.Port() }

// Running is closed once the server accepts connections.
func (s *Server) Running() <-chan struct{} { return s.reactor.Running() }

// Run blocks until ctx is done, Stop is called or a handled signal arrives.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().
		Str("root", s.cfg.DocRoot).
		Str("host", s.cfg.Host).
		Int("port", s.Port()).
		Log("serving files")
	return s.reactor.Run(ctx)
}

func (s *Server) Stop() { s.reactor.Stop() }
