//go:build linux

package protocol

import (
	"errors"

	"github.com/kfcemployee/filesrv/internal/logging"
	"github.com/kfcemployee/filesrv/internal/metrics"
	"github.com/kfcemployee/filesrv/server/engine"
)

type ProcessorConfig struct {
	DocRoot    string
	MaxPathLen int
	FS         FileSystem // MmapFS when nil
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Processor is the engine.Handler serving files under a document root.
// it keeps no per-request state, so every worker shares one
type Processor struct {
	parser  HTTPParser
	fs      FileSystem
	root    string
	maxPath int
	log     *logging.Logger
	m       *metrics.Metrics
}

var _ engine.Handler = (*Processor)(nil)

func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		fs:      cfg.FS,
		root:    cfg.DocRoot,
		maxPath: cfg.MaxPathLen,
		log:     cfg.Logger,
		m:       cfg.Metrics,
	}
	if p.fs == nil {
		p.fs = MmapFS{}
	}
	if p.maxPath <= 1 {
		p.maxPath = 200
	}
	return p
}

// Serve: parse, resolve, build. runs on a worker.
func (p *Processor) Serve(c *engine.Conn) engine.Phase {
	err := p.parser.Parse(c)
	switch {
	case err == nil:
	case errors.Is(err, errIncomplete):
		return engine.PhaseRead
	default:
		p.log.Debug().Int("fd", c.Fd()).Err(err).Log("bad request")
		// nothing of the request is consumed, keep-alive drops the whole buffer
		return p.respond(c, StatusBadRequest, nil, c.Req.KeepAlive)
	}

	code, body := p.resolve(c)
	return p.respond(c, code, body, c.Req.KeepAlive)
}

// Reject answers a conn the worker pool had no room for. nothing was parsed, so it closes.
func (p *Processor) Reject(c *engine.Conn) engine.Phase {
	return p.respond(c, StatusInternalError, nil, false)
}

func (p *Processor) resolve(c *engine.Conn) (int, engine.Body) {
	target := c.Bytes(c.Req.Path)
	if escapesRoot(target) {
		return StatusForbidden, nil
	}

	path := joinPath(p.root, target, p.maxPath)
	info, err := p.fs.Stat(path)
	switch {
	case err != nil:
		return StatusNotFound, nil
	case !info.WorldReadable:
		return StatusForbidden, nil
	case info.IsDir:
		return StatusBadRequest, nil
	case info.Size == 0:
		return StatusOK, nil
	}

	body, err := p.fs.Map(path, info.Size)
	if err != nil {
		p.log.Warning().Str("path", path).Err(err).Log("map failed")
		return StatusInternalError, nil
	}
	return StatusOK, body
}

// respond builds the response for code and hands body to the conn, keeping it alive
// as the Connection header asked. a header that doesn't fit becomes a closing 500,
// when even that doesn't fit the conn is dropped
func (p *Processor) respond(c *engine.Conn, code int, body engine.Body, keepAlive bool) engine.Phase {
	var size int64
	if body != nil {
		size = int64(len(body.Bytes()))
	}

	out := c.Out()
	out.Reset()
	if err := BuildResponse(out, code, size, keepAlive); err != nil {
		if body != nil {
			_ = body.Release()
			body = nil
		}
		p.log.Warning().Int("fd", c.Fd()).Int("code", code).Err(err).Log("response does not fit")
		code, keepAlive = StatusInternalError, false
		out.Reset()
		if err := BuildResponse(out, code, 0, false); err != nil {
			return engine.PhaseClose
		}
	}

	c.SetKeepAlive(keepAlive)
	c.SetBody(body)
	p.m.Response(code)
	p.log.Debug().
		Int("fd", c.Fd()).
		Int("code", code).
		Int64("size", size).
		Bool("keepalive", keepAlive).
		Log("response built")
	return engine.PhaseWrite
}
