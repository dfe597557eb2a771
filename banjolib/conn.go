package banjolib

import (
	"fmt"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

// "ack" is the only reserved internal message name.
const ackName = "ack"

var framePool bytebufferpool.Pool

// Conn frames named, typed messages over one Transport. At most one
// pending send is in flight at a time unless sent with the prior
// override, and every pending send settles exactly once even if the
// transport closes mid-flight.
type Conn struct {
	Handler      Handler
	ErrorHandler ErrorHandler
	StateHandler ConnStateHandler

	// MaxPayloadBytes caps the whole wire frame, header included.
	// Zero means unlimited.
	MaxPayloadBytes uint64

	// SkipDecode forwards external frame bodies to the handler as raw
	// bytes instead of decoded values.
	SkipDecode bool

	// AckTimeout bounds the Awaiting-Ack state. Zero keeps a send
	// pending until an ack arrives or the connection closes.
	AckTimeout time.Duration

	mu   sync.Mutex
	once sync.Once

	transport Transport
	state     ConnState
	seq       uint64

	closeCode   int
	closeReason string

	queue    []*PendingSend          // insertion order
	index    map[uint64]*PendingSend // message id -> entry
	buffered int

	writerQueue []*PendingSend
	writerCond  sync.Cond
	writerDone  bool

	dispatchQueue []*Context
	dispatchCond  sync.Cond
	dispatchDone  bool

	wg sync.WaitGroup
}

// Start attaches the transport and spins up the writer and dispatch
// loops. It must be called before any send or Handle* call.
func (c *Conn) Start(t Transport) {
	c.once.Do(func() {
		c.mu.Lock()
		c.transport = t
		c.state = StateConnecting
		c.index = make(map[uint64]*PendingSend)
		c.writerCond.L = &c.mu
		c.dispatchCond.L = &c.mu
		c.mu.Unlock()

		c.wg.Add(2)
		go c.writeLoop()
		go c.dispatchLoop()
	})
}

// Send transmits a named message and requests acknowledgement from the
// peer. The returned PendingSend settles once the ack arrives, a local
// write fails, or the connection closes.
func (c *Conn) Send(name string, values ...Value) (*PendingSend, error) {
	return c.sendFrame(name, values, nil, false, true, false)
}

// SendNoAck settles as soon as the local write completes.
func (c *Conn) SendNoAck(name string, values ...Value) (*PendingSend, error) {
	return c.sendFrame(name, values, nil, false, false, false)
}

// SendPrior bypasses queue ordering and transmits immediately, even
// while the queue head is awaiting its ack. Callers accept that this
// can reorder delivery relative to queued sends.
func (c *Conn) SendPrior(name string, values ...Value) (*PendingSend, error) {
	return c.sendFrame(name, values, nil, false, true, true)
}

// SendRaw sends an already-encoded body. The bytes must have been
// produced by the value codec; anything else is rejected with
// ErrInvalidPayload.
func (c *Conn) SendRaw(name string, body []byte, needAck, prior bool) (*PendingSend, error) {
	if err := ScanValues(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return c.sendFrame(name, nil, body, false, needAck, prior)
}

func (c *Conn) sendFrame(name string, values []Value, raw []byte, internal, needAck, prior bool) (*PendingSend, error) {
	c.mu.Lock()

	if c.transport == nil || c.state >= StateClosing {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}

	id := c.seq
	c.seq++ // ids are never reused, even for sends rejected below

	bb := framePool.Get()
	bb.B = Header{IsInternal: internal, NeedAck: needAck, MessageID: id, Name: name}.AppendTo(bb.B)

	var err error
	if raw != nil {
		bb.B = append(bb.B, raw...)
	} else {
		bb.B, err = MarshalValues(bb.B, values)
	}
	if err != nil {
		framePool.Put(bb)
		c.mu.Unlock()
		return nil, err
	}

	if c.MaxPayloadBytes > 0 && uint64(len(bb.B)) > c.MaxPayloadBytes {
		framePool.Put(bb)
		c.mu.Unlock()
		return nil, ErrPayloadTooLarge
	}

	p := &PendingSend{id: id, buf: bb, size: len(bb.B), needAck: needAck, done: make(chan struct{})}
	c.queue = append(c.queue, p)
	c.index[id] = p
	c.buffered += p.size

	if prior || len(c.queue) == 1 {
		c.transmit(p)
	}

	c.mu.Unlock()
	return p, nil
}

// transmit marks the entry in flight and hands it to the writer.
// A second call is a no-op. Callers hold c.mu.
func (c *Conn) transmit(p *PendingSend) {
	if p.sent || p.settled || c.state == StateClosed {
		return
	}
	p.sent = true
	c.writerQueue = append(c.writerQueue, p)
	c.writerCond.Signal()
}

// settle resolves the entry exactly once, removes it from the pending
// queue, and hands the wire to the next head if one is waiting.
// Callers hold c.mu.
func (c *Conn) settle(p *PendingSend, err error) {
	if p.settled {
		return
	}
	p.settled = true
	p.err = err

	if !p.sent {
		c.releaseFrame(p)
	}

	head := len(c.queue) > 0 && c.queue[0] == p
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	delete(c.index, p.id)
	c.buffered -= p.size

	close(p.done)

	if head && len(c.queue) > 0 {
		c.transmit(c.queue[0])
	}
}

// releaseFrame returns the wire buffer to the pool. Callers hold c.mu.
func (c *Conn) releaseFrame(p *PendingSend) {
	if p.buf != nil {
		framePool.Put(p.buf)
		p.buf = nil
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	for {
		for !c.writerDone && len(c.writerQueue) == 0 {
			c.writerCond.Wait()
		}
		if len(c.writerQueue) == 0 {
			c.mu.Unlock()
			return
		}

		p := c.writerQueue[0]
		c.writerQueue = c.writerQueue[1:]

		if p.settled { // settled while waiting for the writer
			c.releaseFrame(p)
			continue
		}

		t := c.transport
		buf := p.buf.B
		c.mu.Unlock()

		err := t.Write(buf)

		c.mu.Lock()
		c.releaseFrame(p)

		switch {
		case err != nil:
			c.settle(p, err)
		case !p.needAck:
			c.settle(p, nil)
		case c.AckTimeout > 0:
			go c.watchAck(p)
		}
	}
}

func (c *Conn) watchAck(p *PendingSend) {
	t := timerPool.acquire(c.AckTimeout)
	defer timerPool.release(t)

	select {
	case <-t.C:
		c.mu.Lock()
		c.settle(p, ErrAckTimeout)
		c.mu.Unlock()
	case <-p.done:
	}
}

// Cancel removes a send that has not hit the wire yet, settling it with
// err (ErrSendCancelled when nil). It reports false once the entry has
// been transmitted or no longer exists; in-flight sends settle through
// their normal path.
func (c *Conn) Cancel(id uint64, err error) bool {
	if err == nil {
		err = ErrSendCancelled
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.index[id]
	if !ok || p.sent {
		return false
	}
	c.settle(p, err)
	return true
}

// BufferedAmount is the summed byte length of all queued wire frames,
// the head included.
func (c *Conn) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *Conn) ReadyState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseInfo reports the code and reason the transport closed with.
func (c *Conn) CloseInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Close asks the transport to shut down. Outstanding sends settle when
// the binding reports the closure through HandleClose.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.transport == nil || c.state >= StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	t := c.transport
	c.mu.Unlock()

	c.notifyState(StateClosing)
	return t.Close()
}

// HandleOpen is called by the transport binding once the socket is
// usable.
func (c *Conn) HandleOpen() {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.mu.Unlock()
	c.notifyState(StateOpen)
}

// HandleClose drains the pending queue in reverse insertion order,
// settling every outstanding send with ErrConnectionAborted, then stops
// the writer and dispatch loops. Safe to call more than once.
func (c *Conn) HandleClose(code int, reason string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.closeCode = code
	c.closeReason = reason

	drain := append([]*PendingSend(nil), c.queue...)
	for i := len(drain) - 1; i >= 0; i-- {
		c.settle(drain[i], ErrConnectionAborted)
	}

	c.writerDone = true
	c.dispatchDone = true
	c.writerCond.Broadcast()
	c.dispatchCond.Broadcast()
	c.mu.Unlock()

	c.wg.Wait()
	c.notifyState(StateClosed)
}

// HandleError surfaces a transport-level error notification.
func (c *Conn) HandleError(err error) { c.reportError(err) }

// HandleData parses one inbound frame. A decode failure drops that
// frame only. The buffer is retained until delivery, so the transport
// binding must hand over a slice it will not reuse.
func (c *Conn) HandleData(buf []byte) {
	header, offset, err := UnmarshalHeader(buf)
	if err != nil {
		c.reportError(fmt.Errorf("dropping inbound frame: %w", err))
		return
	}
	body := buf[offset:]

	if header.NeedAck {
		c.sendAck(header.MessageID)
	}

	if header.IsInternal {
		c.handleInternal(header, body)
		return
	}

	ctx := contextPool.acquire(c, header.MessageID, header.Name)
	if c.SkipDecode {
		ctx.raw = body
	} else {
		values, err := UnmarshalValues(body)
		if err != nil {
			contextPool.release(ctx)
			c.reportError(fmt.Errorf("dropping inbound frame %q: %w", header.Name, err))
			return
		}
		ctx.values = values
	}

	c.mu.Lock()
	if c.dispatchDone {
		c.mu.Unlock()
		contextPool.release(ctx)
		return
	}
	c.dispatchQueue = append(c.dispatchQueue, ctx)
	c.dispatchCond.Signal()
	c.mu.Unlock()
}

func (c *Conn) handleInternal(header Header, body []byte) {
	values, err := UnmarshalValues(body)
	if err != nil {
		c.reportError(fmt.Errorf("dropping internal frame %q: %w", header.Name, err))
		return
	}

	switch header.Name {
	case ackName:
		if len(values) != 1 || values[0].Kind != KindNumber {
			c.reportError(fmt.Errorf("%w: ack body has the wrong shape", ErrMalformedValue))
			return
		}
		c.mu.Lock()
		// A missing entry was already settled by the close drain or a
		// timeout; that is not an error.
		if p, ok := c.index[uint64(values[0].Num)]; ok {
			c.settle(p, nil)
		}
		c.mu.Unlock()
	}
}

// sendAck replies to a frame that requested acknowledgement. Acks
// bypass queue ordering: an ack queued behind an Awaiting-Ack head
// could deadlock two peers against each other.
func (c *Conn) sendAck(id uint64) {
	p, err := c.sendFrame(ackName, []Value{Number(float64(id))}, nil, true, false, true)
	if err != nil {
		c.reportError(fmt.Errorf("failed to ack message %d: %w", id, err))
		return
	}
	go func() {
		if err := p.Wait(); err != nil {
			c.reportError(fmt.Errorf("failed to ack message %d: %w", id, err))
		}
	}()
}

// dispatchLoop delivers external messages off the parse stack so a
// misbehaving handler cannot corrupt in-progress frame parsing.
func (c *Conn) dispatchLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	for {
		for !c.dispatchDone && len(c.dispatchQueue) == 0 {
			c.dispatchCond.Wait()
		}
		if len(c.dispatchQueue) == 0 {
			c.mu.Unlock()
			return
		}

		ctx := c.dispatchQueue[0]
		c.dispatchQueue = c.dispatchQueue[1:]
		c.mu.Unlock()

		c.deliver(ctx)

		c.mu.Lock()
	}
}

func (c *Conn) deliver(ctx *Context) {
	defer contextPool.release(ctx)
	defer func() {
		if r := recover(); r != nil {
			c.reportError(fmt.Errorf("message handler panicked on %q: %v", ctx.name, r))
		}
	}()

	handler := c.Handler
	if handler == nil {
		handler = DefaultHandler
	}
	if err := handler.HandleMessage(ctx); err != nil {
		c.reportError(err)
	}
}

func (c *Conn) reportError(err error) {
	handler := c.ErrorHandler
	if handler == nil {
		handler = DefaultErrorHandler
	}
	handler.HandleError(c, err)
}

func (c *Conn) notifyState(state ConnState) {
	handler := c.StateHandler
	if handler == nil {
		handler = DefaultConnStateHandler
	}
	handler.HandleConnState(c, state)
}
