// Package schema implements the column and key/value schema shared by the
// B-Tree file, the table index set, and the sparse tensor's coordinate
// table.
package schema

import (
	"fmt"

	"github.com/cuemby/datahost/pkg/value"
)

// Column is one declared column of a key or value schema:
// (name, dtype, max_len).
type Column struct {
	Name   string
	Type   value.Kind
	MaxLen *uint64 // nil means unbounded
}

// NewColumn builds an unbounded column.
func NewColumn(name string, kind value.Kind) Column {
	return Column{Name: name, Type: kind}
}

// WithMaxLen returns a copy of c with a length bound, used for Bytes and
// String columns.
func (c Column) WithMaxLen(n uint64) Column {
	c.MaxLen = &n
	return c
}

// Validate checks a single value against the column's declared type and
// length bound.
func (c Column) Validate(v value.Value) error {
	if v.Kind() != c.Type {
		return fmt.Errorf("column %q expects %s, got %s", c.Name, c.Type, v.Kind())
	}
	if c.MaxLen != nil {
		var n uint64
		switch c.Type {
		case value.KindBytes:
			n = uint64(len(v.BytesVal()))
		case value.KindString, value.KindID:
			n = uint64(len(v.StringVal()))
		}
		if n > *c.MaxLen {
			return fmt.Errorf("column %q exceeds max length %d (got %d)", c.Name, *c.MaxLen, n)
		}
	}
	return nil
}

// Schema is an ordered, non-empty Key plus a (possibly empty) Values
// sequence of remaining columns.
type Schema struct {
	Key    []Column
	Values []Column
}

// New builds a Schema, rejecting an empty key.
func New(key []Column, values []Column) (Schema, error) {
	if len(key) == 0 {
		return Schema{}, fmt.Errorf("schema key must be non-empty")
	}
	return Schema{Key: append([]Column(nil), key...), Values: append([]Column(nil), values...)}, nil
}

// Columns returns Key followed by Values, the full row shape.
func (s Schema) Columns() []Column {
	out := make([]Column, 0, len(s.Key)+len(s.Values))
	out = append(out, s.Key...)
	out = append(out, s.Values...)
	return out
}

// ColumnNames returns the declared column names in Key-then-Values order.
func (s Schema) ColumnNames() []string {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// IndexOf returns the position of a column by name within Columns(), or -1.
func (s Schema) IndexOf(name string) int {
	for i, c := range s.Columns() {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ValidateKey checks that key has the right arity and each value matches
// its column's dtype and length bound.
func (s Schema) ValidateKey(key []value.Value) error {
	if len(key) != len(s.Key) {
		return fmt.Errorf("key has %d columns, schema declares %d", len(key), len(s.Key))
	}
	for i, col := range s.Key {
		if err := col.Validate(key[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRow checks a full row (key followed by values) against the schema.
func (s Schema) ValidateRow(row []value.Value) error {
	cols := s.Columns()
	if len(row) != len(cols) {
		return fmt.Errorf("row has %d columns, schema declares %d", len(row), len(cols))
	}
	for i, col := range cols {
		if err := col.Validate(row[i]); err != nil {
			return err
		}
	}
	return nil
}

// CompareKeys orders two same-arity keys by dictionary order over the
// declared column dtypes.
func CompareKeys(cols []Column, a, b []value.Value) (int, error) {
	for i := range cols {
		cmp, err := value.Compare(a[i], b[i])
		if err != nil {
			return 0, fmt.Errorf("comparing column %q: %w", cols[i].Name, err)
		}
		if cmp != 0 {
			return cmp, nil
		}
	}
	return 0, nil
}
