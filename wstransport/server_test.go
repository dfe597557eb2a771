package wstransport

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TheSmallBoat/banjo/banjolib"
)

func TestServerShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server{}

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)

	go func() {
		srv.Shutdown()
		ln.Close()
	}()

	require.NoError(t, srv.Serve(ln))
}

func TestClientServerEcho(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)

	server := &Server{
		Handler: banjolib.HandlerFunc(func(ctx *banjolib.Context) error {
			_, err := ctx.Conn().SendNoAck(ctx.Name(), ctx.Values()...)
			return err
		}),
	}

	go func() {
		require.NoError(t, server.Serve(ln))
	}()

	received := make(chan []banjolib.Value, 1)
	client := &Client{
		URL: "ws://" + ln.Addr().String(),
		Handler: banjolib.HandlerFunc(func(ctx *banjolib.Context) error {
			received <- append([]banjolib.Value(nil), ctx.Values()...)
			return nil
		}),
	}

	defer func() {
		client.Shutdown()
		server.Shutdown()
	}()

	conn, err := client.Get()
	require.NoError(t, err)
	require.Equal(t, banjolib.StateOpen, conn.ReadyState())

	pending, err := conn.Send("greet", banjolib.String("hi"), banjolib.Number(42), banjolib.Bool(true))
	require.NoError(t, err)

	// The server acks the frame, which resolves the send.
	require.NoError(t, pending.Wait())

	select {
	case values := <-received:
		require.Equal(t,
			[]banjolib.Value{banjolib.String("hi"), banjolib.Number(42), banjolib.Bool(true)},
			values)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the echo")
	}
}

func TestClientSendMany(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := 4
	m := 256
	c := uint32(n * m)

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)

	server := &Server{
		Handler: banjolib.HandlerFunc(func(ctx *banjolib.Context) error {
			atomic.AddUint32(&c, ^uint32(0))
			return nil
		}),
	}

	go func() {
		require.NoError(t, server.Serve(ln))
	}()

	client := &Client{URL: "ws://" + ln.Addr().String()}

	defer func() {
		client.Shutdown()
		server.Shutdown()
	}()

	conn, err := client.Get()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < m; j++ {
				pending, err := conn.Send("work", banjolib.String(fmt.Sprintf("[%d] hello %d", i, j)))
				require.NoError(t, err)
				require.NoError(t, pending.Wait())
			}
		}(i)
	}

	wg.Wait()

	// Acks race ahead of handler delivery, so the counter drains shortly
	// after the last send resolves.
	require.Eventually(t, func() bool { return atomic.LoadUint32(&c) == 0 },
		5*time.Second, time.Millisecond)
}

func TestAbortSettlesPendingSends(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)

	// A mute peer: upgrades the socket, never reads, then tears it down.
	teardown := make(chan struct{})
	served := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(served)
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		<-teardown
		require.NoError(t, ws.Close())
	})}

	go func() { _ = srv.Serve(ln) }()

	client := &Client{URL: "ws://" + ln.Addr().String()}

	defer func() {
		client.Shutdown()
		<-served
		require.NoError(t, srv.Close())
	}()

	conn, err := client.Get()
	require.NoError(t, err)

	// needAck sends against a mute peer stay pending indefinitely.
	first, err := conn.Send("one")
	require.NoError(t, err)
	second, err := conn.Send("two")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, first.Err())
	require.NoError(t, second.Err())

	close(teardown)

	// The closure settles every outstanding send exactly once.
	require.ErrorIs(t, first.Wait(), banjolib.ErrConnectionAborted)
	require.ErrorIs(t, second.Wait(), banjolib.ErrConnectionAborted)
	require.Equal(t, banjolib.StateClosed, conn.ReadyState())
	require.Equal(t, 0, conn.BufferedAmount())
}
