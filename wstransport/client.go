package wstransport

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheSmallBoat/banjo/banjolib"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

var DefaultHandshakeTimeout = 3 * time.Second

// Client dials a WebSocket endpoint and owns the resulting connection's
// read pump.
type Client struct {
	URL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// DialAttempts is the number of dial tries per Get, with jittered
	// backoff in between. Zero or one means a single attempt.
	DialAttempts int

	Handler      banjolib.Handler
	ErrorHandler banjolib.ErrorHandler
	StateHandler banjolib.ConnStateHandler

	MaxPayloadBytes uint64
	AckTimeout      time.Duration
	SkipDecode      bool

	Logger *zerolog.Logger

	mu   sync.Mutex
	conn *banjolib.Conn
	wg   sync.WaitGroup
}

// Get returns a live connection, dialing one if none exists yet or the
// previous one has closed.
func (c *Client) Get() (*banjolib.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.ReadyState() < banjolib.StateClosing {
		return c.conn, nil
	}
	return c.dial()
}

func (c *Client) dial() (*banjolib.Conn, error) {
	attempts := c.DialAttempts
	if attempts < 1 {
		attempts = 1
	}

	timeout := c.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    500 * time.Millisecond,
		Max:    1 * time.Second,
	}

	var ws *websocket.Conn
	var err error
	for i := 0; i < attempts; i++ {
		ws, _, err = dialer.Dial(c.URL, nil)
		if err == nil {
			break
		}
		if i+1 < attempts {
			duration := b.Duration()
			c.log().Debug().Err(err).Str("url", c.URL).Dur("sleep", duration).Msg("dial failed, retrying")
			time.Sleep(duration)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial '%s': %w", c.URL, err)
	}

	tr := &Transport{ws: ws, WriteTimeout: c.WriteTimeout}
	conn := &banjolib.Conn{
		Handler:         c.Handler,
		ErrorHandler:    c.ErrorHandler,
		StateHandler:    c.StateHandler,
		MaxPayloadBytes: c.MaxPayloadBytes,
		AckTimeout:      c.AckTimeout,
		SkipDecode:      c.SkipDecode,
	}
	conn.Start(tr)
	conn.HandleOpen()

	c.conn = conn

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		tr.ReadPump(conn)
	}()

	c.log().Debug().Str("url", c.URL).Msg("connected")

	return conn, nil
}

// Shutdown closes the current connection, if any, and waits for its
// read pump to drain.
func (c *Client) Shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

func (c *Client) log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &nopLogger
}
