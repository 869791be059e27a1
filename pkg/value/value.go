// Package value implements the Value tagged union shared by every collection
// in the data host: primitives, links, and homogeneous tuples/maps thereof.
// Values are immutable once constructed and hashable.
package value

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cuemby/datahost/pkg/path"
)

// Kind identifies which arm of the union a Value holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindComplex64
	KindComplex128
	KindBool
	KindBytes
	KindString
	KindID
	KindLink
	KindTuple
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindComplex64:
		return "complex64"
	case KindComplex128:
		return "complex128"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindID:
		return "id"
	case KindLink:
		return "link"
	case KindTuple:
		return "tuple"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// MapEntry is one key/value pair of a Value map. Maps keep their entries in
// insertion order in memory. The JSON wire encoding writes a map as a JSON
// object and does not preserve that order: decoding yields the entries in
// no defined order.
type MapEntry struct {
	Key   string
	Value Value
}

// Value is an immutable tagged union. The zero Value is KindNone.
type Value struct {
	kind  Kind
	i64   int64
	u64   uint64
	f64   float64
	fimag float64
	b     bool
	bytes []byte
	str   string
	link  path.Link
	tuple []Value
	m     []MapEntry
}

// Kind reports which arm of the union v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is the empty/none value.
func (v Value) IsNone() bool { return v.kind == KindNone }

func None() Value { return Value{kind: KindNone} }

func Int8(x int8) Value   { return Value{kind: KindInt8, i64: int64(x)} }
func Int16(x int16) Value { return Value{kind: KindInt16, i64: int64(x)} }
func Int32(x int32) Value { return Value{kind: KindInt32, i64: int64(x)} }
func Int64(x int64) Value { return Value{kind: KindInt64, i64: x} }

func Uint8(x uint8) Value   { return Value{kind: KindUint8, u64: uint64(x)} }
func Uint16(x uint16) Value { return Value{kind: KindUint16, u64: uint64(x)} }
func Uint32(x uint32) Value { return Value{kind: KindUint32, u64: uint64(x)} }
func Uint64(x uint64) Value { return Value{kind: KindUint64, u64: x} }

func Float32(x float32) Value { return Value{kind: KindFloat32, f64: float64(x)} }
func Float64(x float64) Value { return Value{kind: KindFloat64, f64: x} }

func Complex64(x complex64) Value {
	return Value{kind: KindComplex64, f64: float64(real(x)), fimag: float64(imag(x))}
}
func Complex128(x complex128) Value {
	return Value{kind: KindComplex128, f64: real(x), fimag: imag(x)}
}

func Bool(x bool) Value { return Value{kind: KindBool, b: x} }

func Bytes(x []byte) Value {
	cp := make([]byte, len(x))
	copy(cp, x)
	return Value{kind: KindBytes, bytes: cp}
}

func String(x string) Value { return Value{kind: KindString, str: x} }
func ID(x string) Value     { return Value{kind: KindID, str: x} }

func NewLink(l path.Link) Value { return Value{kind: KindLink, link: l} }

func Tuple(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindTuple, tuple: cp}
}

func Map(entries ...MapEntry) Value {
	cp := make([]MapEntry, len(entries))
	copy(cp, entries)
	return Value{kind: KindMap, m: cp}
}

// Accessors. None of them checks the Kind: called on the wrong Kind, each
// returns its field's zero value. Callers that accept untrusted input check
// Kind() first (schema validation does this for collection writes).

func (v Value) Int() int64        { return v.i64 }
func (v Value) Uint() uint64       { return v.u64 }
func (v Value) Float() float64     { return v.f64 }
func (v Value) Complex() complex128 { return complex(v.f64, v.fimag) }
func (v Value) BoolVal() bool      { return v.b }
func (v Value) BytesVal() []byte   { return v.bytes }
func (v Value) StringVal() string  { return v.str }
func (v Value) LinkVal() path.Link { return v.link }
func (v Value) TupleVal() []Value  { return v.tuple }
func (v Value) MapVal() []MapEntry { return v.m }

// Zero returns the zero value for a numeric Kind. The sparse tensor treats
// it as absence: a stored coordinate's value is never the dtype zero.
func Zero(k Kind) Value {
	switch k {
	case KindInt8:
		return Int8(0)
	case KindInt16:
		return Int16(0)
	case KindInt32:
		return Int32(0)
	case KindInt64:
		return Int64(0)
	case KindUint8:
		return Uint8(0)
	case KindUint16:
		return Uint16(0)
	case KindUint32:
		return Uint32(0)
	case KindUint64:
		return Uint64(0)
	case KindFloat32:
		return Float32(0)
	case KindFloat64:
		return Float64(0)
	case KindComplex64:
		return Complex64(0)
	case KindComplex128:
		return Complex128(0)
	default:
		return None()
	}
}

// Compare orders two Values of the same Kind, following dtype-specific
// comparison rules. It returns an error if the kinds differ or the kind has
// no total order (tuples and maps are not orderable keys).
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
	}

	switch a.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return compareInt64(a.i64, b.i64), nil
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return compareUint64(a.u64, b.u64), nil
	case KindFloat32, KindFloat64:
		return compareFloat64(a.f64, b.f64), nil
	case KindBool:
		if a.b == b.b {
			return 0, nil
		}
		if !a.b {
			return -1, nil
		}
		return 1, nil
	case KindBytes:
		return compareBytes(a.bytes, b.bytes), nil
	case KindString, KindID:
		return compareString(a.str, b.str), nil
	case KindLink:
		return compareString(a.link.String(), b.link.String()), nil
	default:
		return 0, fmt.Errorf("values of kind %s are not orderable", a.kind)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return compareInt64(int64(len(a)), int64(len(b)))
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two Values are structurally identical.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindNone {
		return true
	}
	if a.kind == KindComplex64 || a.kind == KindComplex128 {
		return a.f64 == b.f64 && a.fimag == b.fimag
	}
	if a.kind == KindTuple {
		if len(a.tuple) != len(b.tuple) {
			return false
		}
		for i := range a.tuple {
			if !Equal(a.tuple[i], b.tuple[i]) {
				return false
			}
		}
		return true
	}
	if a.kind == KindMap {
		if len(a.m) != len(b.m) {
			return false
		}
		for i := range a.m {
			if a.m[i].Key != b.m[i].Key || !Equal(a.m[i].Value, b.m[i].Value) {
				return false
			}
		}
		return true
	}
	if ord, err := Compare(a, b); err == nil {
		return ord == 0
	}
	return false
}

// Hash returns a 32-byte content hash over v's canonical encoding. Two equal
// Values always hash equal; the chain log's block hashes build on this.
func (v Value) Hash() [32]byte {
	h := sha256.New()
	writeHash(h, v)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeHash(h interface{ Write([]byte) (int, error) }, v Value) {
	var buf [9]byte
	buf[0] = byte(v.kind)
	h.Write(buf[:1])

	switch v.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		binary.BigEndian.PutUint64(buf[1:], uint64(v.i64))
		h.Write(buf[1:9])
	case KindUint8, KindUint16, KindUint32, KindUint64:
		binary.BigEndian.PutUint64(buf[1:], v.u64)
		h.Write(buf[1:9])
	case KindFloat32, KindFloat64:
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.f64))
		h.Write(buf[1:9])
	case KindComplex64, KindComplex128:
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.f64))
		h.Write(buf[1:9])
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.fimag))
		h.Write(buf[1:9])
	case KindBool:
		if v.b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case KindBytes:
		h.Write(v.bytes)
	case KindString, KindID:
		h.Write([]byte(v.str))
	case KindLink:
		h.Write([]byte(v.link.String()))
	case KindTuple:
		for _, e := range v.tuple {
			writeHash(h, e)
		}
	case KindMap:
		entries := make([]MapEntry, len(v.m))
		copy(entries, v.m)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		for _, e := range entries {
			h.Write([]byte(e.Key))
			writeHash(h, e.Value)
		}
	}
}

// String renders v for logging and error messages; it is not the wire
// encoding.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.i64)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return fmt.Sprintf("%d", v.u64)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%g", v.f64)
	case KindComplex64, KindComplex128:
		return fmt.Sprintf("%v", complex(v.f64, v.fimag))
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.bytes)
	case KindString:
		return v.str
	case KindID:
		return v.str
	case KindLink:
		return v.link.String()
	case KindTuple:
		return fmt.Sprintf("%v", v.tuple)
	case KindMap:
		return fmt.Sprintf("%v", v.m)
	default:
		return "?"
	}
}
