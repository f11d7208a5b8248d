package engine

import "errors"

var (
	ErrReadBufferFull  = errors.New("engine: read buffer full")
	ErrWriteBufferFull = errors.New("engine: write buffer full")
	ErrTableFull       = errors.New("engine: connection table full")
	ErrPollerClosed    = errors.New("engine: poller closed")
)

// what a Receive or Send call ended with
type IOStatus uint8

const (
	IOWouldBlock IOStatus = iota // socket drained (read) or full (write), maybe with progress
	IOComplete                   // response flushed, conn re-armed for read
	IOPending                    // response flushed and the next pipelined request is already buffered
	IOClose                      // response flushed, no keep-alive
	IOPeerClosed                 // zero length read
	IOFatal                      // anything else, Err says what
	IOBufferFull                 // read buffer filled up before the socket ran dry
)

var ioStatusNames = [...]string{
	IOWouldBlock: "would_block",
	IOComplete:   "complete",
	IOPending:    "pending",
	IOClose:      "close",
	IOPeerClosed: "peer_closed",
	IOFatal:      "fatal",
	IOBufferFull: "buffer_full",
}

func (s IOStatus) String() string {
	if int(s) < len(ioStatusNames) {
		return ioStatusNames[s]
	}
	return "unknown"
}

type IOResult struct {
	Status IOStatus
	N      int // bytes moved during this call
	Err    error
}

// Failed means the conn has to be evicted.
func (r IOResult) Failed() bool {
	return r.Status == IOPeerClosed || r.Status == IOFatal
}
