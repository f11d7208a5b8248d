package protocol

import (
	"github.com/kfcemployee/filesrv/server/engine"
)

const (
	StatusOK            = 200
	StatusBadRequest    = 400
	StatusForbidden     = 403
	StatusNotFound      = 404
	StatusInternalError = 500
)

type status struct {
	line []byte // "200 OK"
	form []byte // error page, nil for 200
}

// lookup table for status codes
// i use flat list instead of map bc codes is fixed
var statusTable = [StatusInternalError + 1]status{
	StatusOK: {
		line: []byte("200 OK"),
	},
	StatusBadRequest: {
		line: []byte("400 Bad Request"),
		form: []byte("Your request has bad syntax or is inherently impossible to satisfy.\n"),
	},
	StatusForbidden: {
		line: []byte("403 Forbidden"),
		form: []byte("You do not have permission to get file from this server.\n"),
	},
	StatusNotFound: {
		line: []byte("404 Not Found"),
		form: []byte("The requested file was not found on this server.\n"),
	},
	StatusInternalError: {
		line: []byte("500 Internal Error"),
		form: []byte("There was an unusual problem serving the requested file.\n"),
	},
}

// for fast access
var (
	proto        = []byte("HTTP/1.1 ")
	crlf         = []byte("\r\n")
	hdrLength    = []byte("Content-Length: ")
	hdrType      = []byte("Content-Type: text/html\r\n")
	hdrKeepAlive = []byte("Connection: keep-alive\r\n")
	hdrConnClose = []byte("Connection: close\r\n")
)

// helper func to copy int to pre-allocated buf with zero-alloc, buf is dst[n:]
// n should be uint bc / 10 (and % 10) for uints is faster, and our len or code > 0
func IntToBuf(buf []byte, n uint) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n%10) + '0'
		n /= 10
	}
	return copy(buf, tmp[i:])
}

func lookup(code int) status {
	if code < 0 || code >= len(statusTable) || statusTable[code].line == nil {
		return statusTable[StatusInternalError]
	}
	return statusTable[code]
}

// BuildResponse writes status line, headers and, for error codes, the error page into w.
// size is the length of the file body that goes out as the second segment; it's ignored for errors.
// w is left as it was when the response doesn't fit.
func BuildResponse(w *engine.WriteBuffer, code int, size int64, keepAlive bool) error {
	st := lookup(code)
	length := size
	if st.form != nil {
		length = int64(len(st.form))
	}

	mark := w.Len()
	var num [20]byte
	n := IntToBuf(num[:], uint(length))

	conn := hdrConnClose
	if keepAlive {
		conn = hdrKeepAlive
	}

	for _, part := range [...][]byte{
		proto, st.line, crlf,
		hdrLength, num[:n], crlf,
		hdrType,
		conn,
		crlf,
		st.form,
	} {
		if _, err := w.Write(part); err != nil {
			w.Truncate(mark)
			return err
		}
	}
	return nil
}
