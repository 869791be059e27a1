package tensor

import (
	"context"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Transpose returns a view of src with its dimensions reordered per perm
// (perm[i] names which source dimension becomes output dimension i).
func Transpose(src Source, perm []int) (Source, error) {
	shape := src.Shape()
	if len(perm) != len(shape) {
		return nil, apperr.BadRequest("transpose permutation has %d dims, tensor has %d", len(perm), len(shape))
	}
	seen := make([]bool, len(shape))
	for _, p := range perm {
		if p < 0 || p >= len(shape) || seen[p] {
			return nil, apperr.BadRequest("transpose permutation %v is not a valid reordering", perm)
		}
		seen[p] = true
	}
	return &transposeView{src: src, perm: perm}, nil
}

type transposeView struct {
	src  Source
	perm []int
}

func (v *transposeView) Dtype() value.Kind { return v.src.Dtype() }

func (v *transposeView) Shape() []uint64 {
	shape := v.src.Shape()
	out := make([]uint64, len(v.perm))
	for i, p := range v.perm {
		out[i] = shape[p]
	}
	return out
}

func (v *transposeView) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	all, err := v.src.Filled(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Filled, len(all))
	for i, f := range all {
		coord := make([]uint64, len(v.perm))
		for j, p := range v.perm {
			coord[j] = f.Coord[p]
		}
		out[i] = Filled{Coord: coord, Value: f.Value}
	}
	return out, nil
}

// Broadcast returns a view of src stretched to shape. Every dimension of
// src must equal the target dimension or be 1 (the dimension to repeat).
func Broadcast(src Source, shape []uint64) (Source, error) {
	from := src.Shape()
	if len(from) != len(shape) {
		return nil, apperr.BadRequest("broadcast target has %d dims, tensor has %d", len(shape), len(from))
	}
	for i, d := range from {
		if d != shape[i] && d != 1 {
			return nil, apperr.BadRequest("dimension %d of size %d cannot broadcast to %d", i, d, shape[i])
		}
	}
	return &broadcastView{src: src, shape: append([]uint64(nil), shape...)}, nil
}

type broadcastView struct {
	src   Source
	shape []uint64
}

func (v *broadcastView) Dtype() value.Kind { return v.src.Dtype() }
func (v *broadcastView) Shape() []uint64   { return append([]uint64(nil), v.shape...) }

// Filled broadcasts every stored element across each repeated ("size 1")
// dimension. This is the one view that can multiply row count, since a
// single stored element now occupies every position along a broadcast
// dimension — still computed lazily from src.Filled, never by touching
// storage.
func (v *broadcastView) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	all, err := v.src.Filled(ctx, id)
	if err != nil {
		return nil, err
	}
	from := v.src.Shape()
	out := []Filled{}
	for _, f := range all {
		out = append(out, expandBroadcast(f, from, v.shape)...)
	}
	return out, nil
}

func expandBroadcast(f Filled, from, to []uint64) []Filled {
	coords := [][]uint64{{}}
	for i, d := range from {
		var next [][]uint64
		if d == to[i] {
			for _, c := range coords {
				next = append(next, append(append([]uint64(nil), c...), f.Coord[i]))
			}
		} else {
			for _, c := range coords {
				for j := uint64(0); j < to[i]; j++ {
					next = append(next, append(append([]uint64(nil), c...), j))
				}
			}
		}
		coords = next
	}
	out := make([]Filled, len(coords))
	for i, c := range coords {
		out[i] = Filled{Coord: c, Value: f.Value}
	}
	return out
}

// Cast returns a view of src with every element reinterpreted as dtype.
func Cast(src Source, dtype value.Kind) Source {
	return &castView{src: src, dtype: dtype}
}

type castView struct {
	src   Source
	dtype value.Kind
}

func (v *castView) Dtype() value.Kind { return v.dtype }
func (v *castView) Shape() []uint64   { return v.src.Shape() }

func (v *castView) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	all, err := v.src.Filled(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Filled, 0, len(all))
	for _, f := range all {
		cast, err := castNumber(f.Value, v.dtype)
		if err != nil {
			return nil, err
		}
		if value.Equal(cast, value.Zero(v.dtype)) {
			continue
		}
		out = append(out, Filled{Coord: f.Coord, Value: cast})
	}
	return out, nil
}

func castNumber(v value.Value, dtype value.Kind) (value.Value, error) {
	switch dtype {
	case value.KindInt8, value.KindInt16, value.KindInt32, value.KindInt64:
		n, err := numberToInt(v)
		if err != nil {
			return value.Value{}, err
		}
		return scalarOfKind(dtype, n), nil
	case value.KindUint8, value.KindUint16, value.KindUint32, value.KindUint64:
		n, err := numberToInt(v)
		if err != nil {
			return value.Value{}, err
		}
		return scalarOfKind(dtype, n), nil
	case value.KindFloat32, value.KindFloat64:
		f, err := numberToFloat(v)
		if err != nil {
			return value.Value{}, err
		}
		return scalarFloat(dtype, f), nil
	default:
		return value.Value{}, apperr.BadRequest("cast to non-numeric dtype %s", dtype)
	}
}

// ExpandDims returns a view of src with a new size-1 dimension inserted at
// axis.
func ExpandDims(src Source, axis int) (Source, error) {
	shape := src.Shape()
	if axis < 0 || axis > len(shape) {
		return nil, apperr.BadRequest("expand_dims axis %d out of range for %d-dim tensor", axis, len(shape))
	}
	return &expandDimsView{src: src, axis: axis}, nil
}

type expandDimsView struct {
	src  Source
	axis int
}

func (v *expandDimsView) Dtype() value.Kind { return v.src.Dtype() }

func (v *expandDimsView) Shape() []uint64 {
	shape := v.src.Shape()
	out := make([]uint64, 0, len(shape)+1)
	out = append(out, shape[:v.axis]...)
	out = append(out, 1)
	out = append(out, shape[v.axis:]...)
	return out
}

func (v *expandDimsView) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	all, err := v.src.Filled(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Filled, len(all))
	for i, f := range all {
		coord := make([]uint64, 0, len(f.Coord)+1)
		coord = append(coord, f.Coord[:v.axis]...)
		coord = append(coord, 0)
		coord = append(coord, f.Coord[v.axis:]...)
		out[i] = Filled{Coord: coord, Value: f.Value}
	}
	return out, nil
}

// sameShape reports whether a and b have identical shapes.
func sameShape(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// maxShape returns the element-wise maximum of two equal-rank shapes, the
// target shape both sides of a binary op broadcast to.
func maxShape(a, b []uint64) ([]uint64, error) {
	if len(a) != len(b) {
		return nil, apperr.BadRequest("cannot combine tensors of rank %d and %d", len(a), len(b))
	}
	out := make([]uint64, len(a))
	for i := range a {
		if a[i] != b[i] && a[i] != 1 && b[i] != 1 {
			return nil, apperr.BadRequest("dimension %d sizes %d and %d do not broadcast", i, a[i], b[i])
		}
		out[i] = a[i]
		if b[i] > out[i] {
			out[i] = b[i]
		}
	}
	return out, nil
}

// Combine merges two tensors element-wise via op, auto-broadcasting either
// side to the element-wise-max shape first. Missing rows on either side
// contribute the dtype zero to op.
func Combine(ctx context.Context, id txn.ID, a, b Source, op func(x, y value.Value) (value.Value, error)) (Source, error) {
	if a.Dtype() != b.Dtype() {
		return nil, apperr.BadRequest("cannot combine tensors of dtype %s and %s", a.Dtype(), b.Dtype())
	}
	shape, err := maxShape(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	if !sameShape(a.Shape(), shape) {
		a, err = Broadcast(a, shape)
		if err != nil {
			return nil, err
		}
	}
	if !sameShape(b.Shape(), shape) {
		b, err = Broadcast(b, shape)
		if err != nil {
			return nil, err
		}
	}

	af, err := a.Filled(ctx, id)
	if err != nil {
		return nil, err
	}
	bf, err := b.Filled(ctx, id)
	if err != nil {
		return nil, err
	}

	aVal := make(map[string]value.Value, len(af))
	bVal := make(map[string]value.Value, len(bf))
	coordOf := make(map[string][]uint64, len(af)+len(bf))
	order := make([]string, 0, len(af)+len(bf))
	zero := value.Zero(a.Dtype())

	for _, f := range af {
		key := coordKeyString(f.Coord)
		aVal[key] = f.Value
		coordOf[key] = f.Coord
		order = append(order, key)
	}
	for _, f := range bf {
		key := coordKeyString(f.Coord)
		bVal[key] = f.Value
		if _, ok := coordOf[key]; !ok {
			order = append(order, key)
			coordOf[key] = f.Coord
		}
	}

	results := make([]Filled, 0, len(order))
	for _, key := range order {
		x, ok := aVal[key]
		if !ok {
			x = zero
		}
		y, ok := bVal[key]
		if !ok {
			y = zero
		}
		v, err := op(x, y)
		if err != nil {
			return nil, err
		}
		if value.Equal(v, zero) {
			continue
		}
		results = append(results, Filled{Coord: coordOf[key], Value: v})
	}

	return &materialized{shape: shape, dtype: a.Dtype(), rows: results}, nil
}

func coordKeyString(coord []uint64) string {
	buf := make([]byte, 0, len(coord)*9)
	for _, c := range coord {
		buf = append(buf, byte(c>>56), byte(c>>48), byte(c>>40), byte(c>>32), byte(c>>24), byte(c>>16), byte(c>>8), byte(c), '|')
	}
	return string(buf)
}

// materialized is a fixed, already-computed Source — the result of a
// Combine or reduction, not backed by any storage.
type materialized struct {
	shape []uint64
	dtype value.Kind
	rows  []Filled
}

func (m *materialized) Shape() []uint64  { return append([]uint64(nil), m.shape...) }
func (m *materialized) Dtype() value.Kind { return m.dtype }
func (m *materialized) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	return append([]Filled(nil), m.rows...), nil
}
