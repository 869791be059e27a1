package table

import (
	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/value"
)

// ColumnBound is one column's constraint within a Bounds request: either an
// exact value (Is) or a (possibly half-open) range (Lo/Hi).
type ColumnBound struct {
	Is     *value.Value
	Lo, Hi *value.Value
	LoIncl bool
	HiIncl bool

	// in distinguishes an explicit range (possibly open on both sides,
	// matching everything) from a zero-valued, never-constructed bound.
	in bool
}

// Is builds an exact-match bound.
func Is(v value.Value) ColumnBound { return ColumnBound{Is: &v} }

// InRange builds a range bound. Either lo or hi may be nil for a
// half-bounded (or fully open) range.
func InRange(lo, hi *value.Value, loIncl, hiIncl bool) ColumnBound {
	return ColumnBound{Lo: lo, Hi: hi, LoIncl: loIncl, HiIncl: hiIncl, in: true}
}

// Bounds maps column name to the constraint requested on it.
type Bounds map[string]ColumnBound

func (b ColumnBound) matches(col schema.Column, v value.Value) (bool, error) {
	switch {
	case b.Is != nil:
		cmp, err := value.Compare(v, *b.Is)
		if err != nil {
			return false, apperr.Wrap(apperr.KindBadRequest, err, "column %q", col.Name)
		}
		return cmp == 0, nil
	case b.in:
		if b.Lo != nil {
			cmp, err := value.Compare(v, *b.Lo)
			if err != nil {
				return false, apperr.Wrap(apperr.KindBadRequest, err, "column %q", col.Name)
			}
			if b.LoIncl {
				if cmp < 0 {
					return false, nil
				}
			} else if cmp <= 0 {
				return false, nil
			}
		}
		if b.Hi != nil {
			cmp, err := value.Compare(v, *b.Hi)
			if err != nil {
				return false, apperr.Wrap(apperr.KindBadRequest, err, "column %q", col.Name)
			}
			if b.HiIncl {
				if cmp > 0 {
					return false, nil
				}
			} else if cmp >= 0 {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, apperr.BadRequest("bound for column %q is empty", col.Name)
	}
}

// matches reports whether row (in sch.Columns() order) satisfies every
// constraint in b. Used as the planner's authoritative correctness check,
// independent of which physical index produced the candidate.
func (b Bounds) matches(sch schema.Schema, row []value.Value) (bool, error) {
	cols := sch.Columns()
	for name, bound := range b {
		pos := sch.IndexOf(name)
		if pos < 0 {
			return false, apperr.BadRequest("unknown bounds column %q", name)
		}
		ok, err := bound.matches(cols[pos], row[pos])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// normalize orders the requested bound columns: primary-key columns first
// (in key order), then any remaining bound columns in schema declaration
// order.
func normalize(sch schema.Schema, bounds Bounds) []string {
	order := make([]string, 0, len(bounds))
	seen := make(map[string]bool, len(bounds))

	for _, c := range sch.Key {
		if _, ok := bounds[c.Name]; ok && !seen[c.Name] {
			order = append(order, c.Name)
			seen[c.Name] = true
		}
	}
	for _, c := range sch.Columns() {
		if _, ok := bounds[c.Name]; ok && !seen[c.Name] {
			order = append(order, c.Name)
			seen[c.Name] = true
		}
	}
	return order
}

func validateColumns(sch schema.Schema, names []string) error {
	for _, name := range names {
		if sch.IndexOf(name) < 0 {
			return apperr.BadRequest("unknown column %q", name)
		}
	}
	return nil
}
