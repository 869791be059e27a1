package value

import (
	"encoding/hex"
	"strconv"

	"github.com/cuemby/datahost/pkg/apperr"
)

// ParseAs converts a wire-level string segment — a URL path component, which
// arrives as plain text regardless of the column it addresses — into a
// Value of the requested Kind. Used by collection handlers to recover a
// typed key from a gateway request's string-only path segments.
func ParseAs(k Kind, s string) (Value, error) {
	switch k {
	case KindString:
		return String(s), nil
	case KindID:
		return ID(s), nil
	case KindInt8:
		n, err := strconv.ParseInt(s, 10, 8)
		return Int8(int8(n)), wrapParseErr(err, k, s)
	case KindInt16:
		n, err := strconv.ParseInt(s, 10, 16)
		return Int16(int16(n)), wrapParseErr(err, k, s)
	case KindInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		return Int32(int32(n)), wrapParseErr(err, k, s)
	case KindInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		return Int64(n), wrapParseErr(err, k, s)
	case KindUint8:
		n, err := strconv.ParseUint(s, 10, 8)
		return Uint8(uint8(n)), wrapParseErr(err, k, s)
	case KindUint16:
		n, err := strconv.ParseUint(s, 10, 16)
		return Uint16(uint16(n)), wrapParseErr(err, k, s)
	case KindUint32:
		n, err := strconv.ParseUint(s, 10, 32)
		return Uint32(uint32(n)), wrapParseErr(err, k, s)
	case KindUint64:
		n, err := strconv.ParseUint(s, 10, 64)
		return Uint64(n), wrapParseErr(err, k, s)
	case KindFloat32:
		n, err := strconv.ParseFloat(s, 32)
		return Float32(float32(n)), wrapParseErr(err, k, s)
	case KindFloat64:
		n, err := strconv.ParseFloat(s, 64)
		return Float64(n), wrapParseErr(err, k, s)
	case KindBool:
		b, err := strconv.ParseBool(s)
		return Bool(b), wrapParseErr(err, k, s)
	case KindBytes:
		b, err := hex.DecodeString(s)
		return Bytes(b), wrapParseErr(err, k, s)
	default:
		return Value{}, apperr.BadRequest("key segment %q cannot be parsed as %s", s, k)
	}
}

func wrapParseErr(err error, k Kind, s string) error {
	if err != nil {
		return apperr.BadRequest("key segment %q is not a valid %s: %v", s, k, err)
	}
	return nil
}
