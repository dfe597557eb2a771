package banjolib

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/lithdew/bytesutil"
)

type ValueKind uint8

// The kind values double as the wire tags.
const (
	KindNumber ValueKind = iota
	KindString
	KindBool
	KindNull
	KindUndefined
	KindObject
	KindBinary
)

// Value is one element of a frame body. Exactly one payload field is
// meaningful, selected by Kind.
type Value struct {
	Kind ValueKind

	Num  float64
	Str  string
	Bool bool
	Obj  interface{} // round-trips through a JSON text serialization
	Bin  []byte
}

func Number(v float64) Value     { return Value{Kind: KindNumber, Num: v} }
func String(v string) Value      { return Value{Kind: KindString, Str: v} }
func Bool(v bool) Value          { return Value{Kind: KindBool, Bool: v} }
func Null() Value                { return Value{Kind: KindNull} }
func Undefined() Value           { return Value{Kind: KindUndefined} }
func Object(v interface{}) Value { return Value{Kind: KindObject, Obj: v} }
func Binary(v []byte) Value      { return Value{Kind: KindBinary, Bin: v} }

func (v Value) AppendTo(dst []byte) ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		dst = append(dst, byte(KindNumber))
		dst = bytesutil.AppendUint64BE(dst, math.Float64bits(v.Num))
	case KindString:
		dst = append(dst, byte(KindString))
		dst = bytesutil.AppendUint64BE(dst, uint64(len(v.Str)))
		dst = append(dst, v.Str...)
	case KindBool:
		dst = append(dst, byte(KindBool))
		if v.Bool {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindNull, KindUndefined:
		dst = append(dst, byte(v.Kind))
	case KindObject:
		text, err := json.Marshal(v.Obj)
		if err != nil {
			return dst, fmt.Errorf("failed to serialize object value: %w", err)
		}
		dst = append(dst, byte(KindObject))
		dst = bytesutil.AppendUint64BE(dst, uint64(len(text)))
		dst = append(dst, text...)
	case KindBinary:
		dst = append(dst, byte(KindBinary))
		dst = bytesutil.AppendUint64BE(dst, uint64(len(v.Bin)))
		dst = append(dst, v.Bin...)
	default:
		return dst, fmt.Errorf("cannot encode value of unknown kind %d", v.Kind)
	}
	return dst, nil
}

func MarshalValues(dst []byte, values []Value) ([]byte, error) {
	var err error
	for _, v := range values {
		dst, err = v.AppendTo(dst)
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func UnmarshalValues(buf []byte) ([]Value, error) {
	var values []Value
	for len(buf) > 0 {
		var v Value
		var err error
		v, buf, err = unmarshalValue(buf)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func unmarshalValue(buf []byte) (Value, []byte, error) {
	var v Value

	if len(buf) < 1 {
		return v, buf, fmt.Errorf("%w: missing value tag", ErrMalformedValue)
	}

	tag := ValueKind(buf[0])
	buf = buf[1:]

	switch tag {
	case KindNumber:
		if len(buf) < 8 {
			return v, buf, fmt.Errorf("%w: number truncated", ErrMalformedValue)
		}
		v.Num, buf = math.Float64frombits(bytesutil.Uint64BE(buf[:8])), buf[8:]
	case KindBool:
		if len(buf) < 1 {
			return v, buf, fmt.Errorf("%w: boolean truncated", ErrMalformedValue)
		}
		v.Bool, buf = buf[0] == 1, buf[1:]
	case KindNull, KindUndefined:
	case KindString, KindObject, KindBinary:
		if len(buf) < 8 {
			return v, buf, fmt.Errorf("%w: length prefix truncated", ErrMalformedValue)
		}
		var size uint64
		size, buf = bytesutil.Uint64BE(buf[:8]), buf[8:]

		// The declared length must be validated against the remaining
		// buffer before slicing.
		if size > uint64(len(buf)) {
			return v, buf, fmt.Errorf("%w: declared length %d exceeds remaining %d byte(s)",
				ErrMalformedValue, size, len(buf))
		}

		var body []byte
		body, buf = buf[:size], buf[size:]

		switch tag {
		case KindString:
			v.Str = string(body)
		case KindObject:
			if err := json.Unmarshal(body, &v.Obj); err != nil {
				return v, buf, fmt.Errorf("%w: bad object text: %v", ErrMalformedValue, err)
			}
		case KindBinary:
			v.Bin = append([]byte(nil), body...)
		}
	default:
		return v, buf, fmt.Errorf("%w: unknown value tag %d", ErrMalformedValue, tag)
	}

	v.Kind = tag
	return v, buf, nil
}

// ScanValues walks buf checking tags and declared lengths only. It is
// used to vet raw payloads handed to SendRaw without decoding them.
func ScanValues(buf []byte) error {
	for len(buf) > 0 {
		tag := ValueKind(buf[0])
		buf = buf[1:]

		switch tag {
		case KindNumber:
			if len(buf) < 8 {
				return fmt.Errorf("%w: number truncated", ErrMalformedValue)
			}
			buf = buf[8:]
		case KindBool:
			if len(buf) < 1 {
				return fmt.Errorf("%w: boolean truncated", ErrMalformedValue)
			}
			buf = buf[1:]
		case KindNull, KindUndefined:
		case KindString, KindObject, KindBinary:
			if len(buf) < 8 {
				return fmt.Errorf("%w: length prefix truncated", ErrMalformedValue)
			}
			size := bytesutil.Uint64BE(buf[:8])
			buf = buf[8:]
			if size > uint64(len(buf)) {
				return fmt.Errorf("%w: declared length %d exceeds remaining %d byte(s)",
					ErrMalformedValue, size, len(buf))
			}
			buf = buf[size:]
		default:
			return fmt.Errorf("%w: unknown value tag %d", ErrMalformedValue, tag)
		}
	}
	return nil
}
