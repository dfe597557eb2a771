package banjolib

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPoolMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	StartPoolMetrics()

	n := 4
	m := 256
	c := uint32(n * m)

	tr := &fakeTransport{}
	conn := &Conn{
		Handler: HandlerFunc(func(ctx *Context) error {
			atomic.AddUint32(&c, ^uint32(0))
			return nil
		}),
	}
	startConn(conn, tr)

	for k := 0; k < n; k++ {
		for j := 0; j < m; j++ {
			frame := Header{MessageID: uint64(k*m + j), Name: "tick"}.AppendTo(nil)
			body, err := MarshalValues(nil, []Value{Number(float64(j)), String(fmt.Sprintf("[%d] hello %d", k, j))})
			require.NoError(t, err)
			conn.HandleData(append(frame, body...))
		}
		t.Logf("%s", JsonStringPoolMetrics())
	}

	require.Eventually(t, func() bool { return atomic.LoadUint32(&c) == 0 },
		5*time.Second, time.Millisecond)

	conn.HandleClose(1000, "done")

	ReleasePoolMetrics()
	time.Sleep(200 * time.Millisecond)
	t.Logf("%s", JsonStringPoolMetrics())
}
