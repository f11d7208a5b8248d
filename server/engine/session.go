package engine

// parser progress for one request
type State uint8

const (
	StateRequestLine State = iota
	StateHeaders
	StateBody
)

// view for slice of the read buffer, uint16 is enough bc the buffer is capped at 64k
type View struct {
	St  uint16
	End uint16
}

func (v View) Len() int { return int(v.End) - int(v.St) }

// view from two buffer offsets
func ViewOf(st, end int) View {
	return View{St: uint16(st), End: uint16(end)}
}

// Request is the parser's scratch space plus everything it extracted.
// all views refer to the owning Conn's read buffer, so it's invalid after the conn resets
type Request struct {
	State     State
	Checked   int // next byte the line scanner looks at
	LineStart int // first byte of the line being scanned

	Method  View
	Path    View
	Version View
	Host    View

	ContentLength int
	KeepAlive     bool

	End int // one past the last byte of a finished request, pipelined bytes start here
}

func (r *Request) Reset() {
	*r = Request{}
}
