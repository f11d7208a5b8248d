// parse raw bytes of a conn into engine.Request w zero-alloc
// only parser logic, the request line is scanned line by line like the headers
package protocol

import (
	"bytes"
	"fmt"
	"math"

	"github.com/kfcemployee/filesrv/server/engine"
)

// stateless HTTPParser struct, all progress lives in the conn's Request
type HTTPParser struct{}

type lineStatus uint8

const (
	lineOK lineStatus = iota
	lineOpen
	lineBad
)

// for fast access
var (
	methodGet    = []byte("GET")
	version11    = []byte("HTTP/1.1")
	schemeHTTP   = []byte("http://")
	hConnection  = []byte("Connection:")
	hContentLen  = []byte("Content-Length:")
	hHost        = []byte("Host:")
	valKeepAlive = []byte("keep-alive")
)

// Parse continues wherever the last call stopped. nil means c.Req holds a complete request,
// errIncomplete asks for more bytes, anything wrapping errInvalid is a 400.
func (p *HTTPParser) Parse(c *engine.Conn) error {
	buf := c.Buffer()
	req := &c.Req

	for {
		if req.State == engine.StateBody {
			// body is only counted, never parsed
			if len(buf)-req.Checked < req.ContentLength {
				return errIncomplete
			}
			req.End = req.Checked + req.ContentLength
			return nil
		}

		switch scanLine(buf, &req.Checked) {
		case lineOpen:
			return errIncomplete
		case lineBad:
			return fmt.Errorf("%w: stray line terminator at %d", errInvalid, req.Checked)
		}

		st := req.LineStart
		end := lineEnd(buf, st, req.Checked)
		req.LineStart = req.Checked

		switch req.State {
		case engine.StateRequestLine:
			if err := parseRequestLine(buf, st, end, req); err != nil {
				return err
			}
			req.State = engine.StateHeaders

		case engine.StateHeaders:
			if end == st {
				if req.ContentLength > 0 {
					req.State = engine.StateBody
					continue
				}
				req.End = req.Checked
				return nil
			}
			if err := parseHeader(buf, st, end, req); err != nil {
				return err
			}
		}
	}
}

// scanLine looks for the end of the current line starting at *checked.
// terminators are overwritten with 0 and *checked ends up past them on lineOK
func scanLine(buf []byte, checked *int) lineStatus {
	for i := *checked; i < len(buf); i++ {
		switch buf[i] {
		case '\r':
			if i+1 == len(buf) {
				*checked = i
				return lineOpen
			}
			if buf[i+1] == '\n' {
				buf[i], buf[i+1] = 0, 0
				*checked = i + 2
				return lineOK
			}
			*checked = i
			return lineBad
		case '\n':
			// only a \n right after a \r two or more bytes in counts
			if i > 1 && buf[i-1] == '\r' {
				buf[i-1], buf[i] = 0, 0
				*checked = i + 1
				return lineOK
			}
			*checked = i
			return lineBad
		}
	}
	*checked = len(buf)
	return lineOpen
}

// a line's text stops at its first 0, which is where the terminator was
func lineEnd(buf []byte, st, next int) int {
	if i := bytes.IndexByte(buf[st:next], 0); i >= 0 {
		return st + i
	}
	return next
}

// GET <target> HTTP/1.1
func parseRequestLine(buf []byte, st, end int, req *engine.Request) error {
	line := buf[st:end]

	sep := bytes.IndexAny(line, " \t")
	if sep < 0 {
		return fmt.Errorf("%w: no method", errInvalid)
	}
	if !bytes.EqualFold(line[:sep], methodGet) {
		return fmt.Errorf("%w: method %q not allowed", errInvalid, line[:sep])
	}
	req.Method = engine.ViewOf(st, st+sep)

	ts := skipBlank(line, sep)
	rest := line[ts:]
	sep = bytes.IndexAny(rest, " \t")
	if sep < 0 {
		return fmt.Errorf("%w: no version", errInvalid)
	}
	te := ts + sep

	vs := skipBlank(line, te)
	if !bytes.EqualFold(line[vs:], version11) {
		return fmt.Errorf("%w: version %q", errInvalid, line[vs:])
	}
	req.Version = engine.ViewOf(st+vs, end)

	// absolute form: drop scheme and authority
	if hasPrefixFold(line[ts:te], schemeHTTP) {
		ts += len(schemeHTTP)
		slash := bytes.IndexByte(line[ts:te], '/')
		if slash < 0 {
			return fmt.Errorf("%w: target has no path", errInvalid)
		}
		ts += slash
	}
	if ts >= te || line[ts] != '/' {
		return fmt.Errorf("%w: target must start with /", errInvalid)
	}
	req.Path = engine.ViewOf(st+ts, st+te)
	return nil
}

// Connection, Content-Length and Host; the rest is ignored
func parseHeader(buf []byte, st, end int, req *engine.Request) error {
	line := buf[st:end]

	switch {
	case hasPrefixFold(line, hConnection):
		vs := skipBlank(line, len(hConnection))
		if bytes.EqualFold(line[vs:], valKeepAlive) {
			req.KeepAlive = true
		}

	case hasPrefixFold(line, hContentLen):
		vs := skipBlank(line, len(hContentLen))
		n, ok := atoi(line[vs:])
		if !ok {
			return fmt.Errorf("%w: negative content length", errInvalid)
		}
		req.ContentLength = n

	case hasPrefixFold(line, hHost):
		vs := skipBlank(line, len(hHost))
		req.Host = engine.ViewOf(st+vs, end)
	}
	return nil
}

func skipBlank(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return i
}

func hasPrefixFold(b, prefix []byte) bool {
	return len(b) >= len(prefix) && bytes.EqualFold(b[:len(prefix)], prefix)
}

// atoi reads leading digits like atol does, garbage is 0; ok is false only for a negative number
func atoi(b []byte) (int, bool) {
	i := skipBlank(b, 0)
	neg := false
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		neg = b[i] == '-'
		i++
	}
	n := 0
	for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
		if n < math.MaxInt32 {
			n = n*10 + int(b[i]-'0')
		}
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	if neg && n > 0 {
		return 0, false
	}
	return n, true
}
