package wstransport

import (
	"errors"
	"sync"
	"time"

	"github.com/TheSmallBoat/banjo/banjolib"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var nopLogger = zerolog.Nop()

// Transport adapts one websocket connection to the banjolib.Transport
// contract: one binary message per frame, one write per call.
type Transport struct {
	WriteTimeout time.Duration

	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func NewTransport(ws *websocket.Conn) *Transport {
	return &Transport{ws: ws}
}

func (t *Transport) Write(buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return banjolib.ErrConnClosed
	}
	if t.WriteTimeout > 0 {
		_ = t.ws.SetWriteDeadline(time.Now().Add(t.WriteTimeout))
	}
	return t.ws.WriteMessage(websocket.BinaryMessage, buf)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	// Best effort: tell the peer this is a normal closure before
	// tearing the socket down.
	deadline := time.Now().Add(1 * time.Second)
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.mu.Unlock()

	return t.ws.Close()
}

// ReadPump feeds inbound frames into conn until the socket dies, then
// reports the closure. It blocks; run it on its own goroutine.
func (t *Transport) ReadPump(conn *banjolib.Conn) {
	for {
		_, msg, err := t.ws.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			conn.HandleClose(code, reason)
			return
		}
		// gorilla hands back a fresh slice per message, which HandleData
		// is allowed to retain.
		conn.HandleData(msg)
	}
}
