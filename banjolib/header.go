package banjolib

import (
	"encoding/binary"
	"fmt"

	"github.com/lithdew/bytesutil"
)

// HeaderPrefixSize is the width of the length prefix that precedes the
// encoded header fields.
const HeaderPrefixSize = 8

// Header describes one frame. On the wire it is the value-codec
// encoding of [isInternal, needAck, messageId, name] prefixed with its
// own 8-byte big-endian length, so the body offset is always
// recoverable without scanning.
type Header struct {
	IsInternal bool
	NeedAck    bool
	MessageID  uint64
	Name       string
}

func (h Header) AppendTo(dst []byte) []byte {
	mark := len(dst)
	dst = bytesutil.AppendUint64BE(dst, 0) // patched once the field length is known

	fields := [...]Value{Bool(h.IsInternal), Bool(h.NeedAck), Number(float64(h.MessageID)), String(h.Name)}
	for _, v := range fields {
		dst, _ = v.AppendTo(dst) // none of the field kinds can fail to encode
	}

	binary.BigEndian.PutUint64(dst[mark:], uint64(len(dst)-mark-HeaderPrefixSize))
	return dst
}

// UnmarshalHeader decodes the header at the start of buf. The returned
// offset is the exact position at which the frame body begins.
func UnmarshalHeader(buf []byte) (Header, int, error) {
	var h Header

	if len(buf) < HeaderPrefixSize {
		return h, 0, fmt.Errorf("%w: header length prefix truncated", ErrMalformedValue)
	}

	size := bytesutil.Uint64BE(buf[:HeaderPrefixSize])
	if size > uint64(len(buf)-HeaderPrefixSize) {
		return h, 0, fmt.Errorf("%w: declared header length %d exceeds remaining %d byte(s)",
			ErrMalformedValue, size, len(buf)-HeaderPrefixSize)
	}

	fields, err := UnmarshalValues(buf[HeaderPrefixSize : HeaderPrefixSize+int(size)])
	if err != nil {
		return h, 0, err
	}

	if len(fields) != 4 ||
		fields[0].Kind != KindBool ||
		fields[1].Kind != KindBool ||
		fields[2].Kind != KindNumber ||
		fields[3].Kind != KindString {
		return h, 0, fmt.Errorf("%w: header fields have the wrong shape", ErrMalformedValue)
	}

	h.IsInternal = fields[0].Bool
	h.NeedAck = fields[1].Bool
	h.MessageID = uint64(fields[2].Num)
	h.Name = fields[3].Str

	return h, HeaderPrefixSize + int(size), nil
}
