package wstransport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/TheSmallBoat/banjo/banjolib"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server upgrades HTTP requests and runs one banjolib.Conn per socket.
type Server struct {
	Handler      banjolib.Handler
	ErrorHandler banjolib.ErrorHandler
	StateHandler banjolib.ConnStateHandler

	MaxPayloadBytes uint64
	AckTimeout      time.Duration
	SkipDecode      bool
	WriteTimeout    time.Duration

	// CheckOrigin overrides the upgrader's origin policy. The default
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *zerolog.Logger

	mu    sync.Mutex
	done  bool
	conns map[*banjolib.Conn]struct{}
	srv   *http.Server
	wg    sync.WaitGroup
}

var _ http.Handler = (*Server)(nil)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checkOrigin := s.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	tr := &Transport{ws: ws, WriteTimeout: s.WriteTimeout}
	conn := &banjolib.Conn{
		Handler:         s.Handler,
		ErrorHandler:    s.ErrorHandler,
		StateHandler:    s.StateHandler,
		MaxPayloadBytes: s.MaxPayloadBytes,
		AckTimeout:      s.AckTimeout,
		SkipDecode:      s.SkipDecode,
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		_ = tr.Close()
		return
	}
	if s.conns == nil {
		s.conns = make(map[*banjolib.Conn]struct{})
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	conn.Start(tr)
	conn.HandleOpen()

	remote := ws.RemoteAddr().String()
	s.log().Debug().Str("remote", remote).Msg("peer connected")

	tr.ReadPump(conn) // blocks until the socket dies

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()

	s.log().Debug().Str("remote", remote).Msg("peer disconnected")
}

// Serve accepts upgrade requests on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{Handler: s}
	s.srv = srv
	s.mu.Unlock()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every live connection and stops accepting new ones.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	srv := s.srv
	conns := make([]*banjolib.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	if srv != nil {
		_ = srv.Close()
	}
	s.wg.Wait()
}

func (s *Server) log() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &nopLogger
}
