package tensor

import (
	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/value"
)

// numberToInt extracts the integer value of a numeric Value regardless of
// its specific dtype, used by reductions and casts that need to combine
// values of a declared dtype without a type switch at every call site.
func numberToInt(v value.Value) (int64, error) {
	switch v.Kind() {
	case value.KindInt8, value.KindInt16, value.KindInt32, value.KindInt64:
		return v.Int(), nil
	case value.KindUint8, value.KindUint16, value.KindUint32, value.KindUint64:
		return int64(v.Uint()), nil
	case value.KindFloat32, value.KindFloat64:
		return int64(v.Float()), nil
	default:
		return 0, apperr.BadRequest("value of kind %s is not a number", v.Kind())
	}
}

func numberToFloat(v value.Value) (float64, error) {
	switch v.Kind() {
	case value.KindInt8, value.KindInt16, value.KindInt32, value.KindInt64:
		return float64(v.Int()), nil
	case value.KindUint8, value.KindUint16, value.KindUint32, value.KindUint64:
		return float64(v.Uint()), nil
	case value.KindFloat32, value.KindFloat64:
		return v.Float(), nil
	default:
		return 0, apperr.BadRequest("value of kind %s is not a number", v.Kind())
	}
}

// scalarOfKind builds a Value of the requested numeric kind from an int64,
// used when a reduction or cast needs to produce a result in the tensor's
// declared dtype.
func scalarOfKind(kind value.Kind, n int64) value.Value {
	switch kind {
	case value.KindInt8:
		return value.Int8(int8(n))
	case value.KindInt16:
		return value.Int16(int16(n))
	case value.KindInt32:
		return value.Int32(int32(n))
	case value.KindInt64:
		return value.Int64(n)
	case value.KindUint8:
		return value.Uint8(uint8(n))
	case value.KindUint16:
		return value.Uint16(uint16(n))
	case value.KindUint32:
		return value.Uint32(uint32(n))
	case value.KindUint64:
		return value.Uint64(uint64(n))
	case value.KindFloat32:
		return value.Float32(float32(n))
	case value.KindFloat64:
		return value.Float64(float64(n))
	default:
		return value.None()
	}
}

// addNumbers and mulNumbers implement the two binary reduction/combine
// operators used across this package (sum, product), dispatching on
// whether the dtype is floating point so integer sums stay exact.
func addNumbers(dtype value.Kind, a, b value.Value) (value.Value, error) {
	if isFloat(dtype) {
		x, err := numberToFloat(a)
		if err != nil {
			return value.Value{}, err
		}
		y, err := numberToFloat(b)
		if err != nil {
			return value.Value{}, err
		}
		return scalarFloat(dtype, x+y), nil
	}
	x, err := numberToInt(a)
	if err != nil {
		return value.Value{}, err
	}
	y, err := numberToInt(b)
	if err != nil {
		return value.Value{}, err
	}
	return scalarOfKind(dtype, x+y), nil
}

func mulNumbers(dtype value.Kind, a, b value.Value) (value.Value, error) {
	if isFloat(dtype) {
		x, err := numberToFloat(a)
		if err != nil {
			return value.Value{}, err
		}
		y, err := numberToFloat(b)
		if err != nil {
			return value.Value{}, err
		}
		return scalarFloat(dtype, x*y), nil
	}
	x, err := numberToInt(a)
	if err != nil {
		return value.Value{}, err
	}
	y, err := numberToInt(b)
	if err != nil {
		return value.Value{}, err
	}
	return scalarOfKind(dtype, x*y), nil
}

func isFloat(k value.Kind) bool {
	return k == value.KindFloat32 || k == value.KindFloat64
}

func scalarFloat(kind value.Kind, f float64) value.Value {
	if kind == value.KindFloat32 {
		return value.Float32(float32(f))
	}
	return value.Float64(f)
}
