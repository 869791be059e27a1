package btree

import (
	"context"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	sch, err := schema.New(
		[]schema.Column{schema.NewColumn("a", value.KindInt64), schema.NewColumn("b", value.KindInt64)},
		[]schema.Column{schema.NewColumn("v", value.KindString)},
	)
	require.NoError(t, err)
	return sch
}

func openTestFile(t *testing.T) *File {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "test.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f, err := NewFile(db, "rows", testSchema(t))
	require.NoError(t, err)
	return f
}

func key(a, b int64) []value.Value { return []value.Value{value.Int64(a), value.Int64(b)} }

func insertAndCommit(t *testing.T, f *File, a, b int64, v string) {
	t.Helper()
	ctx := context.Background()
	id := txn.New()
	require.NoError(t, f.Insert(ctx, id, key(a, b), value.String(v)))
	require.NoError(t, f.Commit(id))
	require.NoError(t, f.Finalize(id))
}

func TestInsertRejectsWrongArity(t *testing.T) {
	f := openTestFile(t)
	err := f.Insert(context.Background(), txn.New(), []value.Value{value.Int64(1)}, value.String("x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestInsertRejectsWrongDtype(t *testing.T) {
	f := openTestFile(t)
	err := f.Insert(context.Background(), txn.New(), []value.Value{value.Int64(1), value.String("nope")}, value.String("x"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestSliceAllReturnsInsertedRowsInKeyOrder(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 2, 0, "two")
	insertAndCommit(t, f, 1, 0, "one")
	insertAndCommit(t, f, 3, 0, "three")

	rows, err := f.Slice(context.Background(), txn.New(), All())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, value.Int64(1), rows[0].Key[0])
	assert.Equal(t, value.Int64(2), rows[1].Key[0])
	assert.Equal(t, value.Int64(3), rows[2].Key[0])
}

func TestSliceReversedInvertsOrder(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 1, 0, "one")
	insertAndCommit(t, f, 2, 0, "two")

	rows, err := f.Slice(context.Background(), txn.New(), All().Reversed())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, value.Int64(2), rows[0].Key[0])
	assert.Equal(t, value.Int64(1), rows[1].Key[0])
}

func TestExactSelectorMatchesFullKey(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 1, 1, "a")
	insertAndCommit(t, f, 1, 2, "b")

	rows, err := f.Slice(context.Background(), txn.New(), Exact(value.Int64(1), value.Int64(2)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, value.String("b"), rows[0].Value)
}

func TestExactSelectorMatchesKeyPrefix(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 1, 1, "a")
	insertAndCommit(t, f, 1, 2, "b")
	insertAndCommit(t, f, 2, 1, "c")

	rows, err := f.Slice(context.Background(), txn.New(), Exact(value.Int64(1)))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRangeSelectorHalfBounded(t *testing.T) {
	f := openTestFile(t)
	for i := int64(1); i <= 5; i++ {
		insertAndCommit(t, f, i, 0, "x")
	}

	rows, err := f.Slice(context.Background(), txn.New(), Range([]value.Value{value.Int64(3)}, nil, true, false))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, value.Int64(3), rows[0].Key[0])
	assert.Equal(t, value.Int64(5), rows[2].Key[0])
}

func TestRangeSelectorExclusiveBounds(t *testing.T) {
	f := openTestFile(t)
	for i := int64(1); i <= 5; i++ {
		insertAndCommit(t, f, i, 0, "x")
	}

	rows, err := f.Slice(context.Background(), txn.New(), Range([]value.Value{value.Int64(1)}, []value.Value{value.Int64(5)}, false, false))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, value.Int64(2), rows[0].Key[0])
	assert.Equal(t, value.Int64(4), rows[2].Key[0])
}

func TestRangeSelectorRejectsNonPrefixBounds(t *testing.T) {
	f := openTestFile(t)
	sel := Range([]value.Value{value.Int64(1), value.Int64(2), value.Int64(3)}, nil, true, true)
	_, err := f.Slice(context.Background(), txn.New(), sel)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestDeleteRemovesMatchedRows(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 1, 0, "a")
	insertAndCommit(t, f, 2, 0, "b")

	ctx := context.Background()
	id := txn.New()
	require.NoError(t, f.Delete(ctx, id, Exact(value.Int64(1))))
	require.NoError(t, f.Commit(id))
	require.NoError(t, f.Finalize(id))

	rows, err := f.Slice(ctx, txn.New(), All())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Int64(2), rows[0].Key[0])
}

func TestUpdateRewritesValueNotKey(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 1, 0, "old")

	ctx := context.Background()
	id := txn.New()
	require.NoError(t, f.Update(ctx, id, Exact(value.Int64(1)), value.String("new")))
	require.NoError(t, f.Commit(id))
	require.NoError(t, f.Finalize(id))

	rows, err := f.Slice(ctx, txn.New(), All())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Int64(1), rows[0].Key[0])
	assert.Equal(t, value.String("new"), rows[0].Value)
}

func TestLenCountsMatchedRowsWithoutMaterializingThem(t *testing.T) {
	f := openTestFile(t)
	insertAndCommit(t, f, 1, 0, "a")
	insertAndCommit(t, f, 2, 0, "b")
	insertAndCommit(t, f, 3, 0, "c")

	n, err := f.Len(context.Background(), txn.New(), Range([]value.Value{value.Int64(2)}, nil, true, false))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestUncommittedInsertIsInvisibleToOtherTransactions(t *testing.T) {
	f := openTestFile(t)
	ctx := context.Background()

	writer := txn.New()
	require.NoError(t, f.Insert(ctx, writer, key(1, 0), value.String("pending")))

	other := txn.New()
	rows, err := f.Slice(ctx, other, All())
	require.NoError(t, err)
	assert.Len(t, rows, 0)

	rows, err = f.Slice(ctx, writer, All())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	sch := testSchema(t)

	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)

	f, err := NewFile(db, "rows", sch)
	require.NoError(t, err)
	insertAndCommit(t, f, 1, 0, "durable")
	require.NoError(t, db.Close())

	db2, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	defer db2.Close()

	f2, err := NewFile(db2, "rows", sch)
	require.NoError(t, err)

	rows, err := f2.Slice(context.Background(), txn.New(), All())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, value.String("durable"), rows[0].Value)
}
