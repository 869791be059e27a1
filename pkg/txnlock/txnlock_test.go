package txnlock

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSeesSeedValueBeforeAnyWrite(t *testing.T) {
	c := New(42)

	g, err := c.Read(context.Background(), txn.New())
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, 42, g.Value)
}

func TestWriteThenCommitIsVisibleToLaterReaders(t *testing.T) {
	c := New(0)
	id := txn.New()

	wg, err := c.Write(context.Background(), id)
	require.NoError(t, err)
	wg.Set(7)
	wg.Commit()

	later := txn.New()
	rg, err := c.Read(context.Background(), later)
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, 7, rg.Value)
}

func TestReaderSeesOwnUncommittedWrite(t *testing.T) {
	c := New(0)
	id := txn.New()

	wg, err := c.Write(context.Background(), id)
	require.NoError(t, err)
	defer wg.Close()
	wg.Set(99)

	rg, err := c.Read(context.Background(), id)
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, 99, rg.Value)
}

func TestSecondOpenWriteAtSameTxnIsConflict(t *testing.T) {
	c := New(0)
	id := txn.New()

	wg, err := c.Write(context.Background(), id)
	require.NoError(t, err)
	defer wg.Close()

	_, err = c.Write(context.Background(), id)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

// A second, distinct transaction's write() must fail conflict immediately
// rather than wait for the first writer to release; no Cell operation may
// block a worker indefinitely.
func TestConcurrentWriterIsRejectedNotQueued(t *testing.T) {
	c := New(0)
	t1 := txn.New()
	time.Sleep(time.Millisecond)
	t2 := txn.New()

	wg2, err := c.Write(context.Background(), t2)
	require.NoError(t, err)
	defer wg2.Close()

	_, err = c.Write(context.Background(), t1)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestWriteOlderThanLatestCommitIsConflict(t *testing.T) {
	c := New(0)
	early := txn.New()
	time.Sleep(time.Millisecond)
	late := txn.New()

	wg, err := c.Write(context.Background(), late)
	require.NoError(t, err)
	wg.Set(1)
	wg.Commit()

	_, err = c.Write(context.Background(), early)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestWriteSucceedsAfterPriorWriterCloses(t *testing.T) {
	c := New(0)
	first := txn.New()
	time.Sleep(time.Millisecond)
	second := txn.New()

	wg1, err := c.Write(context.Background(), first)
	require.NoError(t, err)
	wg1.Set(1)
	wg1.Commit()

	wg2, err := c.Write(context.Background(), second)
	require.NoError(t, err)
	wg2.Set(2)
	wg2.Commit()

	rg, err := c.Read(context.Background(), second)
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, 2, rg.Value)
}

func TestCloseWithoutCommitDiscardsTheWrite(t *testing.T) {
	c := New(5)
	id := txn.New()

	wg, err := c.Write(context.Background(), id)
	require.NoError(t, err)
	wg.Set(999)
	wg.Close()

	rg, err := c.Read(context.Background(), txn.New())
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, 5, rg.Value)
}

func TestCloseWithoutCommitAllowsAnotherWriter(t *testing.T) {
	c := New(0)
	abandoned := txn.New()
	time.Sleep(time.Millisecond)
	next := txn.New()

	wg1, err := c.Write(context.Background(), abandoned)
	require.NoError(t, err)
	wg1.Set(111)
	wg1.Close()

	wg2, err := c.Write(context.Background(), next)
	require.NoError(t, err)
	wg2.Set(2)
	wg2.Commit()

	rg, err := c.Read(context.Background(), next)
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, 2, rg.Value)
}

func TestReadFailsConflictBeforeFinalizedWatermark(t *testing.T) {
	c := New(0)
	stale := txn.New()
	time.Sleep(time.Millisecond)
	committed := txn.New()

	wg, err := c.Write(context.Background(), committed)
	require.NoError(t, err)
	wg.Set(1)
	wg.Commit()
	c.Finalize(committed)

	_, err = c.Read(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestFinalizeReclaimsSupersededVersions(t *testing.T) {
	c := New(0)

	ids := make([]txn.ID, 3)
	for i := range ids {
		ids[i] = txn.New()
		wg, err := c.Write(context.Background(), ids[i])
		require.NoError(t, err)
		wg.Set(i + 1)
		wg.Commit()
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 4, c.Len()) // seed + 3 commits

	c.Finalize(ids[1])
	assert.Equal(t, 2, c.Len()) // ids[1]'s version plus ids[2]'s version survive

	rg, err := c.Read(context.Background(), ids[2])
	require.NoError(t, err)
	defer rg.Close()
	assert.Equal(t, 3, rg.Value)
	assert.Equal(t, ids[1], c.Finalized())
}
