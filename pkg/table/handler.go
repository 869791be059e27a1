package table

import (
	"context"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/gateway"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Handler mounts the table at the wire protocol's GET/PUT/POST/DELETE
// verbs: GET/DELETE address a row by its primary key segments, PUT upserts
// a row's value columns at that key, and POST with no parameters streams
// every row as a tuple of row-tuples, the one query shape the protocol can
// express without a user-defined operation interpreter.
func (t *IndexSet) Handler() gateway.Handler {
	return gateway.HandlerFuncs{
		GetFunc: func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
			typed, err := t.typedKey(key)
			if err != nil {
				return value.Value{}, err
			}
			bounds, err := t.exactBounds(typed)
			if err != nil {
				return value.Value{}, err
			}
			rows, err := t.Slice(bounds).Stream(ctx, id)
			if err != nil {
				return value.Value{}, err
			}
			if len(rows) == 0 {
				return value.None(), nil
			}
			return value.Tuple(rows[0].Values...), nil
		},
		PutFunc: func(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error {
			typed, err := t.typedKey(key)
			if err != nil {
				return err
			}
			if val.Kind() != value.KindTuple {
				return apperr.BadRequest("expected a tuple of value columns, got %s", val.Kind())
			}
			return t.Upsert(ctx, id, typed, val.TupleVal())
		},
		PostFunc: func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
			if len(params) != 0 {
				return value.Value{}, apperr.BadRequest("unrecognized query parameters")
			}
			rows, err := t.Slice(nil).Stream(ctx, id)
			if err != nil {
				return value.Value{}, err
			}
			out := make([]value.Value, len(rows))
			for i, r := range rows {
				out[i] = value.Tuple(r.Values...)
			}
			return value.Tuple(out...), nil
		},
		DeleteFunc: func(ctx context.Context, id txn.ID, key []value.Value) error {
			typed, err := t.typedKey(key)
			if err != nil {
				return err
			}
			return t.DeleteRow(ctx, id, typed)
		},
	}
}

// typedKey converts a gateway key's plain-string segments into the
// key column's declared dtype — a URL path segment arrives as text
// regardless of whether the column it addresses is an integer, a bool, or
// a string. A segment that already carries the column's own Kind (a
// direct in-process call, not a wire request) passes through unchanged.
func (t *IndexSet) typedKey(key []value.Value) ([]value.Value, error) {
	if len(key) != len(t.schema.Key) {
		return nil, apperr.BadRequest("expected %d key segments, got %d", len(t.schema.Key), len(key))
	}
	out := make([]value.Value, len(key))
	for i, col := range t.schema.Key {
		if key[i].Kind() == col.Type || key[i].Kind() != value.KindString {
			out[i] = key[i]
			continue
		}
		v, err := value.ParseAs(col.Type, key[i].StringVal())
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// exactBounds builds an exact-match Bounds over the schema's key columns
// from a gateway key (one Value per key column, in declared order).
func (t *IndexSet) exactBounds(key []value.Value) (Bounds, error) {
	if len(key) != len(t.schema.Key) {
		return nil, apperr.BadRequest("expected %d key segments, got %d", len(t.schema.Key), len(key))
	}
	bounds := make(Bounds, len(key))
	for i, col := range t.schema.Key {
		bounds[col.Name] = Is(key[i])
	}
	return bounds, nil
}
