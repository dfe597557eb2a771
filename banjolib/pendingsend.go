package banjolib

import (
	"github.com/valyala/bytebufferpool"
)

// PendingSend tracks one outbound frame from Send until its terminal
// outcome. Settlement happens exactly once: a nil error means the send
// resolved, anything else means it was rejected or cancelled.
type PendingSend struct {
	id      uint64
	buf     *bytebufferpool.ByteBuffer // wire frame, released once written or settled unsent
	size    int                        // frame length, kept after buf is released
	needAck bool

	sent    bool // one-way false -> true
	settled bool // guarded by the owning Conn's mutex
	err     error

	done chan struct{}
}

func (p *PendingSend) ID() uint64 { return p.id }

// Done is closed on settlement.
func (p *PendingSend) Done() <-chan struct{} { return p.done }

// Err reports the terminal outcome. It returns nil both for a resolved
// send and for one that has not settled yet; use Done to distinguish.
func (p *PendingSend) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until settlement and reports the outcome.
func (p *PendingSend) Wait() error {
	<-p.done
	return p.err
}
