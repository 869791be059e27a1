// Package tensor implements the sparse tensor: a coordinate table backed by
// the same ordered B-Tree file the table index set uses, storing only
// non-zero elements. Transform views (slice, broadcast, transpose, cast,
// expand_dims) compose through a single Source interface, each wrapping its
// immediate source and rewriting coordinates or values lazily.
package tensor

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/btree"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Filled is one non-zero element: its coordinate and value.
type Filled struct {
	Coord []uint64
	Value value.Value
}

// Source is anything that behaves like a tensor: a fixed shape and dtype,
// plus a lazily-produced stream of its non-zero elements. Tensor's own
// stream is in coordinate order; views keep their source's order and
// reduction or Combine results are not sorted. Tensor is the only
// storage-backed Source; every transform view wraps another Source.
type Source interface {
	Shape() []uint64
	Dtype() value.Kind
	Filled(ctx context.Context, id txn.ID) ([]Filled, error)
}

// Tensor is a sparse, coordinate-addressed array persisted in a B-Tree
// file whose key columns are the ndim coordinates (declared as KindUint64)
// and whose stored value is one element of Dtype.
type Tensor struct {
	shape  []uint64
	dtype  value.Kind
	coords *btree.File
}

// New creates (or reopens) a sparse tensor of the given shape and element
// dtype, backed by a btree.File in its own bbolt bucket.
func New(db *bolt.DB, bucket string, shape []uint64, dtype value.Kind) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, apperr.BadRequest("tensor shape must have at least one dimension")
	}
	cols := make([]schema.Column, len(shape))
	for i := range shape {
		cols[i] = schema.NewColumn(fmt.Sprintf("d%d", i), value.KindUint64)
	}
	sch, err := schema.New(cols, nil)
	if err != nil {
		return nil, err
	}
	coords, err := btree.NewFile(db, bucket, sch)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: append([]uint64(nil), shape...), dtype: dtype, coords: coords}, nil
}

func (t *Tensor) Shape() []uint64  { return append([]uint64(nil), t.shape...) }
func (t *Tensor) Dtype() value.Kind { return t.dtype }
func (t *Tensor) Ndim() int         { return len(t.shape) }

// Commit and Finalize delegate to the underlying coordinate file, letting a
// Tensor register directly as a txn.Participant alongside tables and chains.
func (t *Tensor) Commit(id txn.ID) error   { return t.coords.Commit(id) }
func (t *Tensor) Finalize(id txn.ID) error { return t.coords.Finalize(id) }

// Size returns the dense element count shape implies (product of its
// dimensions), used by ProductAll to tell whether every element is filled.
func Size(shape []uint64) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) validateCoord(coord []uint64) error {
	if len(coord) != len(t.shape) {
		return apperr.BadRequest("coordinate has %d dims, tensor has %d", len(coord), len(t.shape))
	}
	for i, c := range coord {
		if c >= t.shape[i] {
			return apperr.BadRequest("coordinate %v out of bounds for dim %d (size %d)", coord, i, t.shape[i])
		}
	}
	return nil
}

func coordKey(coord []uint64) []value.Value {
	key := make([]value.Value, len(coord))
	for i, c := range coord {
		key[i] = value.Uint64(c)
	}
	return key
}

// WriteValueAt sets the element at coord to v. Writing the dtype zero
// deletes the row instead of storing it, preserving the no-stored-zeros
// invariant.
func (t *Tensor) WriteValueAt(ctx context.Context, id txn.ID, coord []uint64, v value.Value) error {
	if err := t.validateCoord(coord); err != nil {
		return err
	}
	if v.Kind() != t.dtype {
		return apperr.BadRequest("value has kind %s, tensor dtype is %s", v.Kind(), t.dtype)
	}
	key := coordKey(coord)
	if value.Equal(v, value.Zero(t.dtype)) {
		return t.coords.Delete(ctx, id, btree.Exact(key...))
	}
	return t.coords.Insert(ctx, id, key, v)
}

// ReadValueAt returns the element at coord, or the dtype zero if no row is
// stored there.
func (t *Tensor) ReadValueAt(ctx context.Context, id txn.ID, coord []uint64) (value.Value, error) {
	if err := t.validateCoord(coord); err != nil {
		return value.Value{}, err
	}
	rows, err := t.coords.Slice(ctx, id, btree.Exact(coordKey(coord)...))
	if err != nil {
		return value.Value{}, err
	}
	if len(rows) == 0 {
		return value.Zero(t.dtype), nil
	}
	return rows[0].Value, nil
}

// Filled returns every non-zero element, ordered by coordinate (the
// B-Tree's own key order).
func (t *Tensor) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	rows, err := t.coords.Slice(ctx, id, btree.All())
	if err != nil {
		return nil, err
	}
	return entriesToFilled(rows), nil
}

func entriesToFilled(rows []btree.Entry) []Filled {
	out := make([]Filled, len(rows))
	for i, r := range rows {
		coord := make([]uint64, len(r.Key))
		for j, v := range r.Key {
			coord[j] = v.Uint()
		}
		out[i] = Filled{Coord: coord, Value: r.Value}
	}
	return out
}

// Slice returns a view restricted to the coordinate bounds (inclusive lo,
// exclusive hi per dimension; either may be nil for an open bound on that
// dimension). The returned Source's Filled stream only visits rows whose
// coordinates lie in bounds.
func (t *Tensor) Slice(bounds []Bound) Source {
	return &sliceView{src: t, bounds: bounds}
}

// Bound constrains one dimension of a Slice; a nil Lo/Hi leaves that side
// open.
type Bound struct {
	Lo, Hi *uint64
}

type sliceView struct {
	src    Source
	bounds []Bound
}

func (v *sliceView) Shape() []uint64 {
	shape := v.src.Shape()
	out := make([]uint64, len(shape))
	for i, d := range shape {
		if i < len(v.bounds) {
			lo, hi := uint64(0), d
			if v.bounds[i].Lo != nil {
				lo = *v.bounds[i].Lo
			}
			if v.bounds[i].Hi != nil {
				hi = *v.bounds[i].Hi
			}
			out[i] = hi - lo
			continue
		}
		out[i] = d
	}
	return out
}

func (v *sliceView) Dtype() value.Kind { return v.src.Dtype() }

func (v *sliceView) Filled(ctx context.Context, id txn.ID) ([]Filled, error) {
	all, err := v.src.Filled(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Filled, 0, len(all))
	for _, f := range all {
		if v.inBounds(f.Coord) {
			out = append(out, Filled{Coord: shiftCoord(f.Coord, v.bounds), Value: f.Value})
		}
	}
	return out, nil
}

func (v *sliceView) inBounds(coord []uint64) bool {
	for i, b := range v.bounds {
		if i >= len(coord) {
			break
		}
		if b.Lo != nil && coord[i] < *b.Lo {
			return false
		}
		if b.Hi != nil && coord[i] >= *b.Hi {
			return false
		}
	}
	return true
}

func shiftCoord(coord []uint64, bounds []Bound) []uint64 {
	out := append([]uint64(nil), coord...)
	for i, b := range bounds {
		if i >= len(out) {
			break
		}
		if b.Lo != nil {
			out[i] -= *b.Lo
		}
	}
	return out
}

func unshiftCoord(coord []uint64, bounds []Bound) []uint64 {
	out := append([]uint64(nil), coord...)
	for i, b := range bounds {
		if i >= len(out) {
			break
		}
		if b.Lo != nil {
			out[i] += *b.Lo
		}
	}
	return out
}

// Write overwrites the region of t described by bounds with src's
// elements, shifted into absolute coordinates. The sliced write target's
// shape must equal src's shape exactly; Write never broadcasts.
func (t *Tensor) Write(ctx context.Context, id txn.ID, bounds []Bound, src Source) error {
	target := t.Slice(bounds)
	if !sameShape(target.Shape(), src.Shape()) {
		return apperr.BadRequest("write target shape %v does not match source shape %v", target.Shape(), src.Shape())
	}

	existing, err := target.Filled(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range existing {
		if err := t.WriteValueAt(ctx, id, unshiftCoord(f.Coord, bounds), value.Zero(t.dtype)); err != nil {
			return err
		}
	}

	rows, err := src.Filled(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range rows {
		if err := t.WriteValueAt(ctx, id, unshiftCoord(f.Coord, bounds), f.Value); err != nil {
			return err
		}
	}
	return nil
}

// Mask zeroes every element of t within bounds whose corresponding mask
// element is non-zero. mask's shape must equal the sliced target's shape.
func (t *Tensor) Mask(ctx context.Context, id txn.ID, bounds []Bound, mask Source) error {
	target := t.Slice(bounds)
	if !sameShape(target.Shape(), mask.Shape()) {
		return apperr.BadRequest("mask shape %v does not match sliced target shape %v", mask.Shape(), target.Shape())
	}

	rows, err := mask.Filled(ctx, id)
	if err != nil {
		return err
	}
	zero := value.Zero(t.dtype)
	for _, f := range rows {
		if value.Equal(f.Value, value.Zero(mask.Dtype())) {
			continue
		}
		if err := t.WriteValueAt(ctx, id, unshiftCoord(f.Coord, bounds), zero); err != nil {
			return err
		}
	}
	return nil
}
