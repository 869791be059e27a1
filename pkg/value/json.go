package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cuemby/datahost/pkg/path"
)

// wireValue is the self-describing JSON encoding used on the wire: every
// Value round-trips through a {"kind": ..., "value": ...}
// envelope so a decoder never has to guess a dtype from shape alone.
type wireValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	env := wireValue{Kind: v.kind.String()}

	var raw any
	switch v.kind {
	case KindNone:
		return json.Marshal(env)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		raw = v.i64
	case KindUint8, KindUint16, KindUint32, KindUint64:
		raw = v.u64
	case KindFloat32, KindFloat64:
		raw = v.f64
	case KindComplex64, KindComplex128:
		raw = [2]float64{v.f64, v.fimag}
	case KindBool:
		raw = v.b
	case KindBytes:
		raw = base64.StdEncoding.EncodeToString(v.bytes)
	case KindString, KindID:
		raw = v.str
	case KindLink:
		raw = v.link.String()
	case KindTuple:
		raw = v.tuple
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for _, e := range v.m {
			m[e.Key] = e.Value
		}
		raw = m
	default:
		return nil, fmt.Errorf("value: cannot encode kind %s", v.kind)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	env.Value = payload
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var env wireValue
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Kind {
	case "", "none":
		*v = None()
		return nil
	case "int8", "int16", "int32", "int64":
		var i int64
		if err := json.Unmarshal(env.Value, &i); err != nil {
			return err
		}
		*v = Value{kind: kindFromString(env.Kind), i64: i}
		return nil
	case "uint8", "uint16", "uint32", "uint64":
		var u uint64
		if err := json.Unmarshal(env.Value, &u); err != nil {
			return err
		}
		*v = Value{kind: kindFromString(env.Kind), u64: u}
		return nil
	case "float32", "float64":
		var f float64
		if err := json.Unmarshal(env.Value, &f); err != nil {
			return err
		}
		*v = Value{kind: kindFromString(env.Kind), f64: f}
		return nil
	case "complex64", "complex128":
		var parts [2]float64
		if err := json.Unmarshal(env.Value, &parts); err != nil {
			return err
		}
		*v = Value{kind: kindFromString(env.Kind), f64: parts[0], fimag: parts[1]}
		return nil
	case "bool":
		var b bool
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case "bytes":
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("value: invalid base64 for bytes: %w", err)
		}
		*v = Bytes(raw)
		return nil
	case "string":
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case "id":
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return err
		}
		*v = ID(s)
		return nil
	case "link":
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return err
		}
		p, err := path.Parse(s)
		if err != nil {
			return err
		}
		*v = NewLink(path.NewLink(p))
		return nil
	case "tuple":
		var items []Value
		if err := json.Unmarshal(env.Value, &items); err != nil {
			return err
		}
		*v = Tuple(items...)
		return nil
	case "map":
		var m map[string]Value
		if err := json.Unmarshal(env.Value, &m); err != nil {
			return err
		}
		entries := make([]MapEntry, 0, len(m))
		for k, val := range m {
			entries = append(entries, MapEntry{Key: k, Value: val})
		}
		*v = Map(entries...)
		return nil
	default:
		return fmt.Errorf("value: unknown wire kind %q", env.Kind)
	}
}

func kindFromString(s string) Kind {
	switch s {
	case "int8":
		return KindInt8
	case "int16":
		return KindInt16
	case "int32":
		return KindInt32
	case "int64":
		return KindInt64
	case "uint8":
		return KindUint8
	case "uint16":
		return KindUint16
	case "uint32":
		return KindUint32
	case "uint64":
		return KindUint64
	case "float32":
		return KindFloat32
	case "float64":
		return KindFloat64
	case "complex64":
		return KindComplex64
	case "complex128":
		return KindComplex128
	default:
		return KindNone
	}
}
