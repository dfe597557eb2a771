package banjolib

type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the byte-stream a Conn writes frames to. One frame per
// Write call, no implicit batching. The binding that owns the transport
// feeds inbound bytes to Conn.HandleData and reports lifecycle changes
// through Conn.HandleOpen / Conn.HandleClose / Conn.HandleError.
type Transport interface {
	Write(buf []byte) error
	Close() error
}

type ConnStateHandler interface {
	HandleConnState(conn *Conn, state ConnState)
}

type ConnStateHandlerFunc func(conn *Conn, state ConnState)

func (fn ConnStateHandlerFunc) HandleConnState(conn *Conn, state ConnState) { fn(conn, state) }

var DefaultConnStateHandler ConnStateHandlerFunc = func(conn *Conn, state ConnState) {}

type Handler interface {
	HandleMessage(ctx *Context) error
}

type HandlerFunc func(ctx *Context) error

func (fn HandlerFunc) HandleMessage(ctx *Context) error { return fn(ctx) }

var DefaultHandler HandlerFunc = func(ctx *Context) error { return nil }

type ErrorHandler interface {
	HandleError(conn *Conn, err error)
}

type ErrorHandlerFunc func(conn *Conn, err error)

func (fn ErrorHandlerFunc) HandleError(conn *Conn, err error) { fn(conn, err) }

var DefaultErrorHandler ErrorHandlerFunc = func(conn *Conn, err error) {}
