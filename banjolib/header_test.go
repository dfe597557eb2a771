package banjolib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	headers := []Header{
		{IsInternal: false, NeedAck: true, MessageID: 0, Name: "greet"},
		{IsInternal: true, NeedAck: false, MessageID: 7, Name: "ack"},
		{IsInternal: false, NeedAck: false, MessageID: 1<<53 - 1, Name: ""},
	}

	for _, h := range headers {
		buf := h.AppendTo(nil)
		body := []byte{0xaa, 0xbb, 0xcc}
		buf = append(buf, body...)

		decoded, offset, err := UnmarshalHeader(buf)
		require.NoError(t, err)
		require.Equal(t, h, decoded)

		// The returned offset is the exact position where the body
		// begins.
		require.Equal(t, body, buf[offset:])
	}
}

func TestHeaderTruncated(t *testing.T) {
	h := Header{NeedAck: true, MessageID: 3, Name: "greet"}
	buf := h.AppendTo(nil)

	for i := 0; i < len(buf); i++ {
		_, _, err := UnmarshalHeader(buf[:i])
		require.ErrorIs(t, err, ErrMalformedValue, "prefix of %d byte(s)", i)
	}
}

func TestHeaderWrongShape(t *testing.T) {
	// A length-prefixed body that decodes fine but is not the expected
	// 4-tuple.
	fields, err := MarshalValues(nil, []Value{String("nope")})
	require.NoError(t, err)

	buf := make([]byte, HeaderPrefixSize)
	buf[HeaderPrefixSize-1] = byte(len(fields))
	buf = append(buf, fields...)

	_, _, err = UnmarshalHeader(buf)
	require.ErrorIs(t, err, ErrMalformedValue)
}
