package tensor

import (
	"context"
	"strconv"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/gateway"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Handler mounts the tensor at the wire protocol's verbs: GET/PUT/DELETE
// address a single element by its coordinate, DELETE writing back the
// dtype zero (a tensor has no "absence" distinct from zero). POST with no
// parameters returns every filled element as a tuple of
// (coord-tuple, value) pairs.
func (t *Tensor) Handler() gateway.Handler {
	return gateway.HandlerFuncs{
		GetFunc: func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
			coord, err := coordFromKey(key, t.Ndim())
			if err != nil {
				return value.Value{}, err
			}
			return t.ReadValueAt(ctx, id, coord)
		},
		PutFunc: func(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error {
			coord, err := coordFromKey(key, t.Ndim())
			if err != nil {
				return err
			}
			if val.Kind() != t.dtype {
				return apperr.BadRequest("expected a %s element, got %s", t.dtype, val.Kind())
			}
			return t.WriteValueAt(ctx, id, coord, val)
		},
		DeleteFunc: func(ctx context.Context, id txn.ID, key []value.Value) error {
			coord, err := coordFromKey(key, t.Ndim())
			if err != nil {
				return err
			}
			return t.WriteValueAt(ctx, id, coord, value.Zero(t.dtype))
		},
		PostFunc: func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
			if len(params) != 0 {
				return value.Value{}, apperr.BadRequest("unrecognized query parameters")
			}
			filled, err := t.Filled(ctx, id)
			if err != nil {
				return value.Value{}, err
			}
			out := make([]value.Value, len(filled))
			for i, f := range filled {
				coordVals := make([]value.Value, len(f.Coord))
				for j, c := range f.Coord {
					coordVals[j] = value.Uint64(c)
				}
				out[i] = value.Tuple(value.Tuple(coordVals...), f.Value)
			}
			return value.Tuple(out...), nil
		},
	}
}

// coordFromKey parses a gateway key's string segments (plain URL path
// components) back into the coordinate ints ReadValueAt/WriteValueAt take.
func coordFromKey(key []value.Value, ndim int) ([]uint64, error) {
	if len(key) != ndim {
		return nil, apperr.BadRequest("expected %d coordinate segments, got %d", ndim, len(key))
	}
	coord := make([]uint64, len(key))
	for i, v := range key {
		if v.Kind() != value.KindString {
			return nil, apperr.BadRequest("coordinate segment %d is not a string", i)
		}
		c, err := strconv.ParseUint(v.StringVal(), 10, 64)
		if err != nil {
			return nil, apperr.BadRequest("coordinate segment %d is not an integer: %v", i, err)
		}
		coord[i] = c
	}
	return coord, nil
}
