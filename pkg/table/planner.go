package table

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/btree"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// plan finds an index whose key columns cover the longest leading prefix
// of the (normalized) requested bounds, slices it, drops the covered
// columns, and repeats against the remainder, intersecting each new
// slice's rows (by primary key) with the running result.
//
// Each slice is materialized and intersected directly rather than composed
// as lazy merge iterators, at the cost of holding intermediate results in
// memory. Because an index's covered-prefix selector can be a superset of
// the true bound (a Range bound that isn't the last covered column only
// constrains its own value, not a true multi-column box), every surviving
// row is re-validated against the complete, unnormalized Bounds before
// being returned; the planner only ever affects which index is scanned and
// how much work is discarded afterward, never which rows qualify.
func (t *IndexSet) plan(ctx context.Context, id txn.ID, bounds Bounds) ([][]value.Value, error) {
	if err := validateBounds(t.schema, bounds); err != nil {
		return nil, err
	}

	order := normalize(t.schema, bounds)
	remaining := order
	candidates := t.allIndexes()

	var merged [][]value.Value
	haveMerge := false

	for len(remaining) > 0 {
		bestIdx := -1
		bestN := 0
		for i, idx := range candidates {
			n := matchPrefixLen(remaining, idx)
			if n > bestN {
				bestN = n
				bestIdx = i
			}
		}
		if bestN == 0 {
			return nil, apperr.BadRequest("no index supports bounds on columns %v", remaining)
		}

		idx := candidates[bestIdx]
		covered := remaining[:bestN]
		sel, err := boundsToSelector(covered, bounds)
		if err != nil {
			return nil, err
		}

		entries, err := idx.file.Slice(ctx, id, sel)
		if err != nil {
			return nil, err
		}
		source := make([][]value.Value, len(entries))
		for i, e := range entries {
			source[i] = e.Value.TupleVal()
		}

		if !haveMerge {
			merged = source
			haveMerge = true
		} else {
			merged = intersectByKey(t.schema, merged, source)
		}
		remaining = remaining[bestN:]
	}

	if !haveMerge {
		entries, err := t.primary.file.Slice(ctx, id, btree.All())
		if err != nil {
			return nil, err
		}
		merged = make([][]value.Value, len(entries))
		for i, e := range entries {
			merged[i] = e.Value.TupleVal()
		}
	}

	out := make([][]value.Value, 0, len(merged))
	for _, row := range merged {
		ok, err := bounds.matches(t.schema, row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func validateBounds(sch schema.Schema, bounds Bounds) error {
	names := make([]string, 0, len(bounds))
	for name := range bounds {
		names = append(names, name)
	}
	return validateColumns(sch, names)
}

// boundsToSelector builds a btree.Selector covering names (a leading key
// prefix of the chosen index). Only the last covered column's inclusivity
// is applied exactly; any Range bound in a non-last position is treated as
// inclusive on both sides (a superset), relying on the caller's final
// Bounds.matches pass for exactness.
func boundsToSelector(names []string, bounds Bounds) (btree.Selector, error) {
	lo := make([]value.Value, 0, len(names))
	hi := make([]value.Value, 0, len(names))
	loIncl, hiIncl := true, true
	loOpen, hiOpen := false, false
	allExact := true

	for i, name := range names {
		b, ok := bounds[name]
		if !ok {
			return btree.Selector{}, apperr.Internal("planner: missing bound for covered column %q", name)
		}
		last := i == len(names)-1

		switch {
		case b.Is != nil:
			if !loOpen {
				lo = append(lo, *b.Is)
			}
			if !hiOpen {
				hi = append(hi, *b.Is)
			}
		case b.in:
			allExact = false
			// A side a column leaves open cannot be extended by later
			// columns: the bound values would land at the wrong key
			// position and wrongly exclude rows.
			if b.Lo != nil && !loOpen {
				lo = append(lo, *b.Lo)
				if last {
					loIncl = b.LoIncl
				}
			} else {
				loOpen = true
			}
			if b.Hi != nil && !hiOpen {
				hi = append(hi, *b.Hi)
				if last {
					hiIncl = b.HiIncl
				}
			} else {
				hiOpen = true
			}
		default:
			return btree.Selector{}, apperr.BadRequest("bound for column %q is empty", name)
		}
	}

	if allExact {
		return btree.Exact(lo...), nil
	}
	return btree.Range(lo, hi, loIncl, hiIncl), nil
}

func rowKeyID(sch schema.Schema, row []value.Value) string {
	h := sha256.New()
	for _, c := range sch.Key {
		pos := sch.IndexOf(c.Name)
		sum := row[pos].Hash()
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func intersectByKey(sch schema.Schema, a, b [][]value.Value) [][]value.Value {
	keep := make(map[string]bool, len(b))
	for _, row := range b {
		keep[rowKeyID(sch, row)] = true
	}
	out := make([][]value.Value, 0, len(a))
	for _, row := range a {
		if keep[rowKeyID(sch, row)] {
			out = append(out, row)
		}
	}
	return out
}
