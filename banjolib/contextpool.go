package banjolib

import (
	"sync"
	"sync/atomic"
)

// Context carries one delivered message. It is pooled: handlers must
// not retain it, or any slice it exposes, past HandleMessage.
type Context struct {
	conn   *Conn
	id     uint64
	name   string
	values []Value
	raw    []byte
}

func (c *Context) Conn() *Conn       { return c.conn }
func (c *Context) MessageID() uint64 { return c.id }
func (c *Context) Name() string      { return c.name }
func (c *Context) Values() []Value   { return c.values }

// Body is the undecoded frame body; set only when the connection skips
// deserialization.
func (c *Context) Body() []byte { return c.raw }

// Reply sends a message back over the same connection, requesting an
// ack.
func (c *Context) Reply(name string, values ...Value) (*PendingSend, error) {
	return c.conn.Send(name, values...)
}

type ContextPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *ContextPool) metrics() *PoolMetrics {
	return p.m
}

func (p *ContextPool) acquire(conn *Conn, id uint64, name string) *Context {
	v := p.sp.Get()
	if v == nil {
		v = &Context{}
		atomic.AddUint32(&p.m.na, uint32(1))
	} else {
		atomic.AddUint32(&p.m.nr, uint32(1))
	}
	ctx := v.(*Context)
	ctx.conn = conn
	ctx.id = id
	ctx.name = name
	ctx.values = nil
	ctx.raw = nil
	return ctx
}

func (p *ContextPool) release(ctx *Context) {
	p.sp.Put(ctx)
	atomic.AddUint32(&p.m.np, uint32(1))
}
