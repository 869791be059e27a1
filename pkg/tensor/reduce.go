package tensor

import (
	"context"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// reduceBlockSize is the fixed block size reductions fold over. The B-Tree
// file has no true streaming cursor, so this chunks the already-materialized
// Filled slice instead of reading it incrementally from storage.
const reduceBlockSize = 1024

// Sum reduces src along axis, returning a Source of rank len(Shape())-1.
func Sum(ctx context.Context, id txn.ID, src Source, axis int) (Source, error) {
	return reduceAxis(ctx, id, src, axis, addNumbers, value.Zero(src.Dtype()), false)
}

// Product reduces src along axis via multiplication. An absent element
// contributes the dtype zero, so an output position is filled only when
// every position along axis is filled.
func Product(ctx context.Context, id txn.ID, src Source, axis int) (Source, error) {
	one := scalarOfKind(src.Dtype(), 1)
	return reduceAxis(ctx, id, src, axis, mulNumbers, one, true)
}

// reduceAxis folds src along axis. With dense set, an output position that
// is missing any element along axis is left empty (the dtype zero).
func reduceAxis(
	ctx context.Context,
	id txn.ID,
	src Source,
	axis int,
	fold func(dtype value.Kind, a, b value.Value) (value.Value, error),
	identity value.Value,
	dense bool,
) (Source, error) {
	shape := src.Shape()
	if axis < 0 || axis >= len(shape) {
		return nil, apperr.BadRequest("reduction axis %d out of range for %d-dim tensor", axis, len(shape))
	}

	all, err := src.Filled(ctx, id)
	if err != nil {
		return nil, err
	}

	acc := make(map[string]value.Value)
	coordOf := make(map[string][]uint64)
	count := make(map[string]uint64)
	dtype := src.Dtype()

	for start := 0; start < len(all); start += reduceBlockSize {
		end := start + reduceBlockSize
		if end > len(all) {
			end = len(all)
		}
		for _, f := range all[start:end] {
			outCoord := dropAxis(f.Coord, axis)
			key := coordKeyString(outCoord)
			prior, ok := acc[key]
			if !ok {
				prior = identity
				coordOf[key] = outCoord
			}
			next, err := fold(dtype, prior, f.Value)
			if err != nil {
				return nil, err
			}
			acc[key] = next
			count[key]++
		}
	}

	rows := make([]Filled, 0, len(acc))
	zero := value.Zero(dtype)
	for key, v := range acc {
		if value.Equal(v, zero) || (dense && count[key] < shape[axis]) {
			continue
		}
		rows = append(rows, Filled{Coord: coordOf[key], Value: v})
	}

	return &materialized{shape: dropAxisShape(shape, axis), dtype: dtype, rows: rows}, nil
}

func dropAxis(coord []uint64, axis int) []uint64 {
	out := make([]uint64, 0, len(coord)-1)
	out = append(out, coord[:axis]...)
	out = append(out, coord[axis+1:]...)
	return out
}

func dropAxisShape(shape []uint64, axis int) []uint64 {
	return dropAxis(shape, axis)
}

// SumAll folds every element of src into a single Number via addition.
func SumAll(ctx context.Context, id txn.ID, src Source) (value.Value, error) {
	return foldAll(ctx, id, src, addNumbers, value.Zero(src.Dtype()))
}

// ProductAll folds every element of src into a single Number via
// multiplication. An absent coordinate contributes the dtype zero, so the
// product over any tensor with fewer filled elements than its dense size
// is zero without folding at all.
func ProductAll(ctx context.Context, id txn.ID, src Source) (value.Value, error) {
	all, err := src.Filled(ctx, id)
	if err != nil {
		return value.Value{}, err
	}
	if uint64(len(all)) < Size(src.Shape()) {
		return value.Zero(src.Dtype()), nil
	}
	one := scalarOfKind(src.Dtype(), 1)
	return foldAll(ctx, id, src, mulNumbers, one)
}

func foldAll(
	ctx context.Context,
	id txn.ID,
	src Source,
	fold func(dtype value.Kind, a, b value.Value) (value.Value, error),
	identity value.Value,
) (value.Value, error) {
	all, err := src.Filled(ctx, id)
	if err != nil {
		return value.Value{}, err
	}

	dtype := src.Dtype()
	acc := identity
	for start := 0; start < len(all); start += reduceBlockSize {
		end := start + reduceBlockSize
		if end > len(all) {
			end = len(all)
		}
		for _, f := range all[start:end] {
			next, err := fold(dtype, acc, f.Value)
			if err != nil {
				return value.Value{}, err
			}
			acc = next
		}
	}
	return acc, nil
}
