// Package table implements the table index set: a primary index plus zero
// or more auxiliary indexes, kept consistent under one TxnId, with a query
// planner that picks the best-covering index for a requested set of column
// bounds. Slice, order, projection, limit, and grouping compose through a
// single Query builder rather than a family of view types.
package table

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/btree"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// AuxSpec declares one auxiliary index: a name and the column subset it
// orders by.
type AuxSpec struct {
	Name    string
	Columns []string
}

// IndexSet is a table: a primary index (ordered by the schema's own key)
// plus its auxiliary indexes, all updated together under one transaction.
type IndexSet struct {
	schema    schema.Schema
	primary   *Index
	auxiliary []*Index
}

// NewIndexSet opens a table's primary index (over tableSchema.Key) and its
// declared auxiliary indexes, each in its own bbolt bucket under
// bucketPrefix.
func NewIndexSet(db *bolt.DB, bucketPrefix string, tableSchema schema.Schema, aux []AuxSpec) (*IndexSet, error) {
	primaryCols := tableSchema.ColumnNames()[:len(tableSchema.Key)]
	primary, err := NewIndex(db, bucketPrefix+"/primary", tableSchema, "primary", primaryCols)
	if err != nil {
		return nil, err
	}

	auxiliary := make([]*Index, 0, len(aux))
	for _, spec := range aux {
		idx, err := NewIndex(db, bucketPrefix+"/index/"+spec.Name, tableSchema, spec.Name, spec.Columns)
		if err != nil {
			return nil, err
		}
		auxiliary = append(auxiliary, idx)
	}

	return &IndexSet{schema: tableSchema, primary: primary, auxiliary: auxiliary}, nil
}

// Schema returns the table's declared key and value columns.
func (t *IndexSet) Schema() schema.Schema { return t.schema }

func (t *IndexSet) allIndexes() []*Index {
	out := make([]*Index, 0, 1+len(t.auxiliary))
	out = append(out, t.primary)
	out = append(out, t.auxiliary...)
	return out
}

// Upsert deletes any existing row at key, then inserts key/values into
// every index concurrently.
func (t *IndexSet) Upsert(ctx context.Context, id txn.ID, key, values []value.Value) error {
	row := append(append([]value.Value(nil), key...), values...)
	if err := t.schema.ValidateRow(row); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, err, "invalid row")
	}

	if err := t.DeleteRow(ctx, id, key); err != nil {
		return err
	}
	return t.fanOut(func(idx *Index) error {
		return idx.insertRow(ctx, id, t.schema, row)
	})
}

// DeleteRow removes the row at primary key key from every index. It is a
// no-op if no row currently exists at key.
func (t *IndexSet) DeleteRow(ctx context.Context, id txn.ID, key []value.Value) error {
	entries, err := t.primary.file.Slice(ctx, id, btree.Exact(key...))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	row := entries[0].Value.TupleVal()

	return t.fanOut(func(idx *Index) error {
		return idx.deleteRow(ctx, id, t.schema, row)
	})
}

// fanOut runs fn over every index concurrently, returning the first error
// encountered. Any failing index write aborts the whole upsert/delete_row;
// the caller is expected to abort its transaction.
func (t *IndexSet) fanOut(fn func(idx *Index) error) error {
	indexes := t.allIndexes()
	errs := make([]error, len(indexes))

	var wg sync.WaitGroup
	wg.Add(len(indexes))
	for i, idx := range indexes {
		go func(i int, idx *Index) {
			defer wg.Done()
			errs[i] = fn(idx)
		}(i, idx)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Row is one result row: Columns names each position in Values.
type Row struct {
	Columns []string
	Values  []value.Value
}

// Query is a composable view over an IndexSet's rows: Slice narrows by
// bounds, OrderBy/Select/Limit/GroupBy further shape the result, and
// Stream executes the whole pipeline.
type Query struct {
	set        *IndexSet
	bounds     Bounds
	order      []string
	reverse    bool
	selectCols []string
	limit      *uint64
	groupBy    []string
}

// Slice returns a Query restricted to rows matching bounds.
func (t *IndexSet) Slice(bounds Bounds) Query {
	return Query{set: t, bounds: bounds}
}

// OrderBy returns a Query that sorts its rows by columns. The planner
// materializes the full result set before this stage runs (see planner.go),
// so any column order is honored without requiring an index to cover it.
func (q Query) OrderBy(columns []string, reverse bool) Query {
	q.order = columns
	q.reverse = reverse
	return q
}

// Select returns a Query that projects rows down to columns.
func (q Query) Select(columns []string) Query {
	q.selectCols = columns
	return q
}

// Limit returns a Query truncated to at most n rows.
func (q Query) Limit(n uint64) Query {
	q.limit = &n
	return q
}

// GroupBy returns a Query collapsed to one row per distinct combination of
// columns (the first row observed in result order is kept for each group).
func (q Query) GroupBy(columns []string) Query {
	q.groupBy = columns
	return q
}

// Stream executes the query: plan the bounds, then apply order, group,
// limit, and projection in that order.
func (q Query) Stream(ctx context.Context, id txn.ID) ([]Row, error) {
	if err := validateColumns(q.set.schema, q.order); err != nil {
		return nil, err
	}
	if err := validateColumns(q.set.schema, q.selectCols); err != nil {
		return nil, err
	}
	if err := validateColumns(q.set.schema, q.groupBy); err != nil {
		return nil, err
	}

	rows, err := q.set.plan(ctx, id, q.bounds)
	if err != nil {
		return nil, err
	}

	if len(q.order) > 0 {
		sortRows(q.set.schema, rows, q.order, q.reverse)
	}
	if len(q.groupBy) > 0 {
		rows = groupRows(q.set.schema, rows, q.groupBy)
	}
	if q.limit != nil && uint64(len(rows)) > *q.limit {
		rows = rows[:*q.limit]
	}

	cols := q.set.schema.ColumnNames()
	if len(q.selectCols) > 0 {
		rows = selectColumns(q.set.schema, rows, q.selectCols)
		cols = q.selectCols
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{Columns: cols, Values: r}
	}
	return out, nil
}

func sortRows(sch schema.Schema, rows [][]value.Value, order []string, reverse bool) {
	positions := make([]int, len(order))
	for i, name := range order {
		positions[i] = sch.IndexOf(name)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, pos := range positions {
			cmp, err := value.Compare(rows[i][pos], rows[j][pos])
			if err != nil || cmp == 0 {
				continue
			}
			if reverse {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func groupRows(sch schema.Schema, rows [][]value.Value, columns []string) [][]value.Value {
	positions := make([]int, len(columns))
	for i, name := range columns {
		positions[i] = sch.IndexOf(name)
	}
	seen := make(map[string]bool, len(rows))
	out := make([][]value.Value, 0, len(rows))
	for _, row := range rows {
		h := sha256.New()
		for _, pos := range positions {
			sum := row[pos].Hash()
			h.Write(sum[:])
		}
		id := hex.EncodeToString(h.Sum(nil))
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, row)
	}
	return out
}

func selectColumns(sch schema.Schema, rows [][]value.Value, columns []string) [][]value.Value {
	positions := make([]int, len(columns))
	for i, name := range columns {
		positions[i] = sch.IndexOf(name)
	}
	out := make([][]value.Value, len(rows))
	for i, row := range rows {
		projected := make([]value.Value, len(positions))
		for j, pos := range positions {
			projected[j] = row[pos]
		}
		out[i] = projected
	}
	return out
}

// Commit dispatches commit to the primary index and every auxiliary index.
func (t *IndexSet) Commit(id txn.ID) error {
	if err := t.primary.file.Commit(id); err != nil {
		return err
	}
	for _, idx := range t.auxiliary {
		if err := idx.file.Commit(id); err != nil {
			return err
		}
	}
	return nil
}

// Finalize dispatches finalize to the primary index and every auxiliary
// index.
func (t *IndexSet) Finalize(id txn.ID) error {
	if err := t.primary.file.Finalize(id); err != nil {
		return err
	}
	for _, idx := range t.auxiliary {
		if err := idx.file.Finalize(id); err != nil {
			return err
		}
	}
	return nil
}
