package chain

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/blockfile"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T) (*Chain, txn.ID) {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "test.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	file, err := blockfile.NewFile[Block](db, "chain")
	require.NoError(t, err)

	id := txn.New()
	ctx := context.Background()
	c, err := Load(ctx, id, file)
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx, id))
	require.NoError(t, c.Finalize(id))
	return c, id
}

// bigValue builds a string value of roughly n bytes. The chain's JSON
// envelope (tagged kind/value keys, quoting) adds modest overhead on top of
// the raw string, so callers leave headroom around BlockSize rather than
// targeting it exactly.
func bigValue(n int) value.Value {
	return value.String(strings.Repeat("x", n))
}

// Appending mutations up to just under BlockSize keeps block 0 open;
// crossing it seals block 0 and opens block 1 seeded with block 0's hash.
func TestBlockchainSealsPastThreshold(t *testing.T) {
	c, _ := newTestChain(t)
	ctx := context.Background()

	p, err := path.Parse("table")
	require.NoError(t, err)

	id1 := txn.New()
	require.NoError(t, c.Append(ctx, id1, p, value.Int64(1), bigValue(900_000)))
	require.NoError(t, c.Commit(ctx, id1))
	require.NoError(t, c.Finalize(id1))

	latest, err := c.Latest(ctx, txn.New())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest)

	id2 := txn.New()
	require.NoError(t, c.Append(ctx, id2, p, value.Int64(2), bigValue(150_000)))
	require.NoError(t, c.Commit(ctx, id2))
	require.NoError(t, c.Finalize(id2))

	readID := txn.New()
	latest, err = c.Latest(ctx, readID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest)

	blocks, err := c.Replay(ctx, readID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	block0Hash, err := blocks[0].Hash()
	require.NoError(t, err)

	newOpenGuard, err := c.file.ReadBlock(ctx, readID, "1")
	require.NoError(t, err)
	defer newOpenGuard.Close()
	assert.Equal(t, block0Hash, newOpenGuard.Value.Predecessor)
}

func TestReplayReflectsAppendOrder(t *testing.T) {
	c, _ := newTestChain(t)
	ctx := context.Background()
	p, err := path.Parse("a/b")
	require.NoError(t, err)

	id := txn.New()
	require.NoError(t, c.Append(ctx, id, p, value.Int64(1), value.String("v1")))
	require.NoError(t, c.Append(ctx, id, p, value.Int64(2), value.String("v2")))
	require.NoError(t, c.Commit(ctx, id))
	require.NoError(t, c.Finalize(id))

	// block 0 is still open (below BlockSize), so Replay (which only
	// covers sealed blocks) returns nothing yet; read it directly instead.
	rg, err := c.file.ReadBlock(ctx, txn.New(), "0")
	require.NoError(t, err)
	defer rg.Close()
	require.Len(t, rg.Value.Mutations, 2)
	assert.Equal(t, value.Int64(1), rg.Value.Mutations[0].Key)
	assert.Equal(t, value.Int64(2), rg.Value.Mutations[1].Key)
}

func TestNullHashSeedsBlockZero(t *testing.T) {
	c, id := newTestChain(t)
	rg, err := c.file.ReadBlock(context.Background(), id, "0")
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, NullHash, rg.Value.Predecessor)
}
