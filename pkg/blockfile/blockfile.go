// Package blockfile implements the transactional block file: a mapping from
// BlockId to a fixed block type B, where every block is itself an MVCC cell
// and durability is provided by a bbolt bucket.
package blockfile

import (
	"context"
	"encoding/json"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/txnlock"
)

// Cloner is the constraint every block type must satisfy: a defensive deep
// copy, so a guard's caller can never mutate state still referenced by the
// cell's version history (e.g. a ChainBlock's mutation slice).
type Cloner[T any] interface {
	Clone() T
}

// ReadGuard is a shared, read-only view of one block as of a TxnId.
type ReadGuard[B Cloner[B]] struct {
	Value B
	inner *txnlock.ReadGuard[*B]
}

// Close releases the guard.
func (g *ReadGuard[B]) Close() {
	if g == nil || g.inner == nil {
		return
	}
	g.inner.Close()
	g.inner = nil
}

// WriteGuard is an exclusive, uncommitted view of one block.
type WriteGuard[B Cloner[B]] struct {
	id    string
	inner *txnlock.WriteGuard[*B]
}

// Set replaces the block's pending value.
func (g *WriteGuard[B]) Set(v B) { g.inner.Set(&v) }

// Value returns the guard's current pending value.
func (g *WriteGuard[B]) Value() B { return *g.inner.Value() }

// commit is unexported and used only by File's own two-phase dispatch;
// callers outside this package commit through File.Commit, since the file
// must also persist the result to bbolt.
func (g *WriteGuard[B]) commit() { g.inner.Commit() }

// Close discards the pending write if Commit was never called.
func (g *WriteGuard[B]) Close() {
	if g == nil || g.inner == nil {
		return
	}
	g.inner.Close()
	g.inner = nil
}

// File is a transactional mapping from BlockId (string) to a fixed block
// type B. The element type is fixed per file.
type File[B Cloner[B]] struct {
	mu     sync.Mutex
	db     *bolt.DB
	bucket []byte
	cells  map[string]*txnlock.Cell[*B]

	// openWrites tracks, per open transaction, which block ids it has
	// created or written and not yet committed, so Commit only touches
	// what the transaction actually changed.
	openWrites map[txn.ID]map[string]*WriteGuard[B]

	// committed tracks, per transaction, which block ids were committed
	// under it and still await Finalize.
	committed map[txn.ID]map[string]bool
}

// NewFile opens (creating if absent) a bbolt bucket named bucket inside db
// and loads any persisted blocks into in-memory cells, each seeded as
// already committed at txn.Zero.
func NewFile[B Cloner[B]](db *bolt.DB, bucket string) (*File[B], error) {
	f := &File[B]{
		db:         db,
		bucket:     []byte(bucket),
		cells:      make(map[string]*txnlock.Cell[*B]),
		openWrites: make(map[txn.ID]map[string]*WriteGuard[B]),
		committed:  make(map[txn.ID]map[string]bool),
	}

	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(f.bucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var val B
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			f.cells[string(k)] = txnlock.New(&val)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "opening block file %q", bucket)
	}
	return f, nil
}

func (f *File[B]) cellFor(blockID string) *txnlock.Cell[*B] {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cells[blockID]
	if !ok {
		c = txnlock.New[*B](nil)
		f.cells[blockID] = c
	}
	return c
}

func (f *File[B]) track(id txn.ID, blockID string, g *WriteGuard[B]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.openWrites[id]
	if !ok {
		m = make(map[string]*WriteGuard[B])
		f.openWrites[id] = m
	}
	m[blockID] = g
}

// CreateBlock opens an exclusive write guard seeding a brand-new block. It
// fails bad_request if the block is already visible to id.
func (f *File[B]) CreateBlock(ctx context.Context, id txn.ID, blockID string, initial B) (*WriteGuard[B], error) {
	cell := f.cellFor(blockID)

	rg, err := cell.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	exists := rg.Value != nil
	rg.Close()
	if exists {
		return nil, apperr.BadRequest("block %q already exists", blockID)
	}

	inner, err := cell.Write(ctx, id)
	if err != nil {
		return nil, err
	}
	g := &WriteGuard[B]{id: blockID, inner: inner}
	g.Set(initial)
	f.track(id, blockID, g)
	return g, nil
}

// ReadBlock returns a shared read guard over blockID as of id. It fails
// not_found if no version visible to id has ever been created.
func (f *File[B]) ReadBlock(ctx context.Context, id txn.ID, blockID string) (*ReadGuard[B], error) {
	f.mu.Lock()
	cell, ok := f.cells[blockID]
	f.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("block %q not found", blockID)
	}

	rg, err := cell.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if rg.Value == nil {
		rg.Close()
		return nil, apperr.NotFound("block %q not found", blockID)
	}
	return &ReadGuard[B]{Value: (*rg.Value).Clone(), inner: rg}, nil
}

// WriteBlock opens an exclusive write guard over an existing block. It
// fails not_found if the block doesn't exist yet, conflict if another
// transaction holds the write or has committed past id. A transaction that
// already holds a write guard on blockID gets that same guard back, so
// repeated writes under one id compose instead of self-conflicting.
func (f *File[B]) WriteBlock(ctx context.Context, id txn.ID, blockID string) (*WriteGuard[B], error) {
	f.mu.Lock()
	existing := f.openWrites[id][blockID]
	f.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	cell := f.cellFor(blockID)

	inner, err := cell.Write(ctx, id)
	if err != nil {
		return nil, err
	}
	if inner.Value() == nil {
		inner.Close()
		return nil, apperr.NotFound("block %q not found", blockID)
	}
	g := &WriteGuard[B]{id: blockID, inner: inner}
	f.track(id, blockID, g)
	return g, nil
}

// ContainsBlock reports whether blockID is visible to id.
func (f *File[B]) ContainsBlock(ctx context.Context, id txn.ID, blockID string) bool {
	f.mu.Lock()
	cell, ok := f.cells[blockID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	rg, err := cell.Read(ctx, id)
	if err != nil {
		return false
	}
	defer rg.Close()
	return rg.Value != nil
}

// BlockIDs returns a snapshot of every block id visible to id.
func (f *File[B]) BlockIDs(ctx context.Context, id txn.ID) []string {
	f.mu.Lock()
	names := make([]string, 0, len(f.cells))
	for name := range f.cells {
		names = append(names, name)
	}
	f.mu.Unlock()

	out := make([]string, 0, len(names))
	for _, name := range names {
		if f.ContainsBlock(ctx, id, name) {
			out = append(out, name)
		}
	}
	return out
}

// Commit publishes every block id that transacted under creates/writes at
// id, then persists the resulting bytes to bbolt in a single update
// transaction. Any I/O failure is fatal to the transaction and surfaces
// as internal.
func (f *File[B]) Commit(id txn.ID) error {
	f.mu.Lock()
	touched := f.openWrites[id]
	delete(f.openWrites, id)
	f.mu.Unlock()
	if len(touched) == 0 {
		return nil
	}

	// Persist every pending value before any cell publishes it: if a
	// marshal or put fails partway through, bolt rolls the whole batch
	// back and no in-memory cell has committed, so the transaction aborts
	// with nothing partially applied.
	err := f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(f.bucket)
		for blockID, g := range touched {
			data, err := json.Marshal(g.inner.Value())
			if err != nil {
				return apperr.Wrap(apperr.KindInternal, err, "encoding block %q", blockID)
			}
			if err := b.Put([]byte(blockID), data); err != nil {
				return apperr.Wrap(apperr.KindInternal, err, "persisting block %q", blockID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, g := range touched {
		g.commit()
	}

	f.mu.Lock()
	done, ok := f.committed[id]
	if !ok {
		done = make(map[string]bool)
		f.committed[id] = done
	}
	for blockID := range touched {
		done[blockID] = true
	}
	f.mu.Unlock()
	return nil
}

// Finalize reclaims committed-version history older than id for every
// block id this transaction committed.
func (f *File[B]) Finalize(id txn.ID) error {
	f.mu.Lock()
	touched := f.committed[id]
	delete(f.committed, id)
	f.mu.Unlock()

	for blockID := range touched {
		f.cellFor(blockID).Finalize(id)
	}
	return nil
}
