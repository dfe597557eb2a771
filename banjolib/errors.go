package banjolib

import "errors"

var (
	// ErrMalformedValue marks decode failures: unknown tags, declared
	// lengths that overrun the buffer, or unparsable object text.
	ErrMalformedValue = errors.New("banjo: malformed value")

	// ErrPayloadTooLarge rejects a send whose wire frame exceeds the
	// connection's MaxPayloadBytes. Nothing is queued or transmitted.
	ErrPayloadTooLarge = errors.New("banjo: payload too large")

	// ErrInvalidPayload rejects raw bytes handed to SendRaw that do not
	// scan as value-codec output.
	ErrInvalidPayload = errors.New("banjo: raw payload is not value-codec output")

	// ErrConnectionAborted settles every outstanding send when the
	// transport closes.
	ErrConnectionAborted = errors.New("banjo: connection aborted")

	// ErrConnClosed rejects sends on a closing or closed connection.
	ErrConnClosed = errors.New("banjo: connection closed")

	// ErrSendCancelled is the default reason for Cancel.
	ErrSendCancelled = errors.New("banjo: send cancelled")

	// ErrAckTimeout settles an Awaiting-Ack send when Conn.AckTimeout
	// elapses. Unused unless AckTimeout is set.
	ErrAckTimeout = errors.New("banjo: timed out awaiting ack")
)
