package blockfile

import (
	"context"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBlock struct {
	Payload string
}

func (b testBlock) Clone() testBlock { return testBlock{Payload: b.Payload} }

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "test.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateBlockThenCommitIsVisibleToLaterTxn(t *testing.T) {
	db := openTestDB(t)
	f, err := NewFile[testBlock](db, "blocks")
	require.NoError(t, err)

	id := txn.New()
	ctx := context.Background()

	wg, err := f.CreateBlock(ctx, id, "0", testBlock{Payload: "hello"})
	require.NoError(t, err)
	require.NoError(t, f.Commit(id))
	require.NoError(t, f.Finalize(id))
	wg.Close()

	later := txn.New()
	rg, err := f.ReadBlock(ctx, later, "0")
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, "hello", rg.Value.Payload)
}

func TestCreateDuplicateBlockIsBadRequest(t *testing.T) {
	db := openTestDB(t)
	f, err := NewFile[testBlock](db, "blocks")
	require.NoError(t, err)

	ctx := context.Background()
	id := txn.New()
	wg, err := f.CreateBlock(ctx, id, "0", testBlock{Payload: "x"})
	require.NoError(t, err)
	require.NoError(t, f.Commit(id))
	wg.Close()

	second := txn.New()
	_, err = f.CreateBlock(ctx, second, "0", testBlock{Payload: "y"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestReadMissingBlockIsNotFound(t *testing.T) {
	db := openTestDB(t)
	f, err := NewFile[testBlock](db, "blocks")
	require.NoError(t, err)

	_, err = f.ReadBlock(context.Background(), txn.New(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestWriteMissingBlockIsNotFound(t *testing.T) {
	db := openTestDB(t)
	f, err := NewFile[testBlock](db, "blocks")
	require.NoError(t, err)

	_, err = f.WriteBlock(context.Background(), txn.New(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestWriteBlockCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)

	ctx := context.Background()
	f, err := NewFile[testBlock](db, "blocks")
	require.NoError(t, err)

	id := txn.New()
	wg, err := f.CreateBlock(ctx, id, "0", testBlock{Payload: "v1"})
	require.NoError(t, err)
	require.NoError(t, f.Commit(id))
	require.NoError(t, f.Finalize(id))
	wg.Close()

	second := txn.New()
	wg2, err := f.WriteBlock(ctx, second, "0")
	require.NoError(t, err)
	wg2.Set(testBlock{Payload: "v2"})
	require.NoError(t, f.Commit(second))
	require.NoError(t, f.Finalize(second))
	wg2.Close()

	require.NoError(t, db.Close())

	db2, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	defer db2.Close()

	f2, err := NewFile[testBlock](db2, "blocks")
	require.NoError(t, err)

	rg, err := f2.ReadBlock(ctx, txn.New(), "0")
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, "v2", rg.Value.Payload)
}

func TestBlockIDsReturnsOnlyVisibleBlocks(t *testing.T) {
	db := openTestDB(t)
	f, err := NewFile[testBlock](db, "blocks")
	require.NoError(t, err)

	ctx := context.Background()
	id := txn.New()
	wg, err := f.CreateBlock(ctx, id, "a", testBlock{Payload: "a"})
	require.NoError(t, err)
	require.NoError(t, f.Commit(id))
	require.NoError(t, f.Finalize(id))
	wg.Close()

	second := txn.New()
	wg2, err := f.CreateBlock(ctx, second, "b", testBlock{Payload: "b"})
	require.NoError(t, err)
	defer wg2.Close()

	assert.ElementsMatch(t, []string{"a"}, f.BlockIDs(ctx, id))
	assert.ElementsMatch(t, []string{"a", "b"}, f.BlockIDs(ctx, second))
}

func TestDirectoryCreateFileIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	root := NewDirectory(db, "root")

	f1, err := CreateFile[testBlock](root, "chain")
	require.NoError(t, err)
	f2, err := CreateFile[testBlock](root, "chain")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}

func TestDirectoryCommitDispatchesToChildren(t *testing.T) {
	db := openTestDB(t)
	root := NewDirectory(db, "root")
	f, err := CreateFile[testBlock](root, "chain")
	require.NoError(t, err)

	ctx := context.Background()
	id := txn.New()
	wg, err := f.CreateBlock(ctx, id, "0", testBlock{Payload: "x"})
	require.NoError(t, err)
	defer wg.Close()

	require.NoError(t, root.Commit(id))
	require.NoError(t, root.Finalize(id))

	rg, err := f.ReadBlock(ctx, txn.New(), "0")
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, "x", rg.Value.Payload)
}

