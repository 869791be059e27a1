package table

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/btree"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Index is one ordered view of a table's rows: the primary index orders by
// the table's own key; an auxiliary index orders by a declared column
// subset (plus any primary-key columns not already included, appended to
// guarantee every index key is unique). Every index is a covering index:
// its stored value is the row's full column tuple, so any index alone can
// answer a Slice without dereferencing the primary index.
type Index struct {
	Name    string
	Columns []string
	schema  schema.Schema
	file    *btree.File
}

// NewIndex opens (or creates) an index named name over tableSchema's
// columns columns, backed by a btree.File in its own bbolt bucket.
func NewIndex(db *bolt.DB, bucket string, tableSchema schema.Schema, name string, columns []string) (*Index, error) {
	keyCols, err := indexKeyColumns(tableSchema, columns)
	if err != nil {
		return nil, err
	}
	idxSchema, err := schema.New(keyCols, nil)
	if err != nil {
		return nil, err
	}
	file, err := btree.NewFile(db, bucket, idxSchema)
	if err != nil {
		return nil, err
	}
	return &Index{Name: name, Columns: columns, schema: idxSchema, file: file}, nil
}

// indexKeyColumns resolves columns against tableSchema, then appends any
// primary-key columns not already present so every index key is unique
// even when the declared columns alone are not.
func indexKeyColumns(tableSchema schema.Schema, columns []string) ([]schema.Column, error) {
	all := tableSchema.Columns()
	byName := make(map[string]schema.Column, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}

	seen := make(map[string]bool, len(columns))
	cols := make([]schema.Column, 0, len(columns)+len(tableSchema.Key))
	for _, name := range columns {
		c, ok := byName[name]
		if !ok {
			return nil, apperr.BadRequest("unknown index column %q", name)
		}
		cols = append(cols, c)
		seen[name] = true
	}
	for _, pk := range tableSchema.Key {
		if !seen[pk.Name] {
			cols = append(cols, pk)
			seen[pk.Name] = true
		}
	}
	if len(cols) == 0 {
		return nil, apperr.BadRequest("index %v resolves to an empty key", columns)
	}
	return cols, nil
}

// keyFor projects a full row (in tableSchema.Columns() order) onto this
// index's own key column order.
func (ix *Index) keyFor(tableSchema schema.Schema, row []value.Value) ([]value.Value, error) {
	key := make([]value.Value, len(ix.schema.Key))
	for i, c := range ix.schema.Key {
		pos := tableSchema.IndexOf(c.Name)
		if pos < 0 {
			return nil, apperr.Internal("index column %q not found in table schema", c.Name)
		}
		key[i] = row[pos]
	}
	return key, nil
}

func (ix *Index) insertRow(ctx context.Context, id txn.ID, tableSchema schema.Schema, row []value.Value) error {
	key, err := ix.keyFor(tableSchema, row)
	if err != nil {
		return err
	}
	return ix.file.Insert(ctx, id, key, value.Tuple(row...))
}

func (ix *Index) deleteRow(ctx context.Context, id txn.ID, tableSchema schema.Schema, row []value.Value) error {
	key, err := ix.keyFor(tableSchema, row)
	if err != nil {
		return err
	}
	return ix.file.Delete(ctx, id, btree.Exact(key...))
}

// matchPrefixLen returns how many of order's leading column names match
// this index's leading key columns, in the same sequence.
func matchPrefixLen(order []string, idx *Index) int {
	n := 0
	for n < len(order) && n < len(idx.schema.Key) {
		if idx.schema.Key[n].Name != order[n] {
			break
		}
		n++
	}
	return n
}
