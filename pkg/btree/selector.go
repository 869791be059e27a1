package btree

import (
	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/value"
)

type selectorKind uint8

const (
	selectAll selectorKind = iota
	selectExact
	selectRange
)

// Selector names the rows a delete, slice, len, or update call targets.
// Legal selectors are All, Exact (a key or key-prefix match), and Range
// (half- or fully-bounded over a column prefix).
type Selector struct {
	kind    selectorKind
	key     []value.Value
	lo, hi  []value.Value
	loIncl  bool
	hiIncl  bool
	reverse bool
}

// All selects every row.
func All() Selector { return Selector{kind: selectAll} }

// Exact selects rows whose key (or leading key prefix, when key has fewer
// columns than the schema's key) equals key.
func Exact(key ...value.Value) Selector {
	return Selector{kind: selectExact, key: key}
}

// Range selects rows whose key prefix falls between lo and hi, inclusive
// per loIncl/hiIncl. Either bound may be left empty for a half-bounded
// range. lo and hi need not share the same length, but each must be no
// longer than the schema's key (the "column prefix" rule).
func Range(lo, hi []value.Value, loIncl, hiIncl bool) Selector {
	return Selector{kind: selectRange, lo: lo, hi: hi, loIncl: loIncl, hiIncl: hiIncl}
}

// Reversed returns a copy of s that iterates in descending key order.
func (s Selector) Reversed() Selector {
	s.reverse = true
	return s
}

// validate enforces the range-legality rule: a selector's bound columns
// must form a prefix of the schema's key.
func (s Selector) validate(sch schema.Schema) error {
	arity := len(sch.Key)
	switch s.kind {
	case selectAll:
		return nil
	case selectExact:
		if len(s.key) == 0 || len(s.key) > arity {
			return apperr.BadRequest("exact selector has %d columns, schema key has %d", len(s.key), arity)
		}
		return validatePrefix(sch.Key, s.key)
	case selectRange:
		if len(s.lo) > arity || len(s.hi) > arity {
			return apperr.BadRequest("range selector bounds are not a prefix of the %d-column schema key", arity)
		}
		if err := validatePrefix(sch.Key, s.lo); err != nil {
			return err
		}
		return validatePrefix(sch.Key, s.hi)
	default:
		return apperr.Internal("unknown selector kind")
	}
}

func validatePrefix(cols []schema.Column, vals []value.Value) error {
	for i, v := range vals {
		if err := cols[i].Validate(v); err != nil {
			return apperr.Wrap(apperr.KindBadRequest, err, "selector bound column %q", cols[i].Name)
		}
	}
	return nil
}

// matches reports whether key satisfies the selector, under cols (the
// schema's key columns, used for per-column comparison semantics).
func (s Selector) matches(cols []schema.Column, key []value.Value) (bool, error) {
	switch s.kind {
	case selectAll:
		return true, nil
	case selectExact:
		if len(s.key) > len(key) {
			return false, nil
		}
		cmp, err := schema.CompareKeys(cols[:len(s.key)], key[:len(s.key)], s.key)
		if err != nil {
			return false, err
		}
		return cmp == 0, nil
	case selectRange:
		if len(s.lo) > 0 {
			cmp, err := schema.CompareKeys(cols[:len(s.lo)], key[:len(s.lo)], s.lo)
			if err != nil {
				return false, err
			}
			if s.loIncl {
				if cmp < 0 {
					return false, nil
				}
			} else if cmp <= 0 {
				return false, nil
			}
		}
		if len(s.hi) > 0 {
			cmp, err := schema.CompareKeys(cols[:len(s.hi)], key[:len(s.hi)], s.hi)
			if err != nil {
				return false, err
			}
			if s.hiIncl {
				if cmp > 0 {
					return false, nil
				}
			} else if cmp >= 0 {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, apperr.Internal("unknown selector kind")
	}
}
