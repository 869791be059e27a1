// Package btree implements the ordered multi-column key file: an MVCC
// mapping from key to value, ordered by declared column order, supporting
// prefix-bounded range selectors. Keys are compared per the value dtype's
// ordering (value.Compare) and persisted through bbolt; ordering is
// maintained by an in-memory google/btree index over the committed key set
// rather than by bbolt's own key-value iteration.
package btree

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	gbtree "github.com/google/btree"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/schema"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/txnlock"
	"github.com/cuemby/datahost/pkg/value"
)

// degree is the google/btree node fan-out; unrelated to the data host's own
// terminology, it only tunes the in-memory index's tree shape.
const degree = 32

// Entry is one stored key/value row.
type Entry struct {
	Key   []value.Value `json:"key"`
	Value value.Value   `json:"value"`
}

func cloneEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	return &Entry{Key: append([]value.Value(nil), e.Key...), Value: e.Value}
}

// indexItem is what the in-memory ordering index tracks: a block id
// alongside the key it was last committed under, so Ascend/Descend
// traversal yields candidates in schema key order without re-sorting on
// every call.
type indexItem struct {
	id  string
	key []value.Value
}

func lessFunc(cols []schema.Column) func(a, b indexItem) bool {
	return func(a, b indexItem) bool {
		n := len(cols)
		if len(a.key) < n || len(b.key) < n {
			return a.id < b.id
		}
		cmp, err := schema.CompareKeys(cols, a.key, b.key)
		if err != nil || cmp == 0 {
			return a.id < b.id
		}
		return cmp < 0
	}
}

func blockIDFor(key []value.Value) string {
	h := sha256.New()
	for _, v := range key {
		sum := v.Hash()
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeGuard tracks one key's pending write within an open transaction.
type writeGuard struct {
	blockID string
	key     []value.Value
	tomb    bool
	inner   *txnlock.WriteGuard[*Entry]
}

// File is the transactional, ordered key file. Unlike blockfile.File (whose
// blocks are never reclaimed), File supports true deletion: a row's cell
// value becomes nil, which Read, the ordering index, and Slice/Len all
// treat as absent.
type File struct {
	mu     sync.Mutex
	db     *bolt.DB
	bucket []byte
	schema schema.Schema

	cells map[string]*txnlock.Cell[*Entry]
	tree  *gbtree.BTreeG[indexItem]

	openWrites map[txn.ID]map[string]*writeGuard
	committed  map[txn.ID]map[string]bool
}

// NewFile opens (creating if absent) a bbolt bucket named bucket inside db,
// loads any persisted rows into in-memory cells seeded as already committed
// at txn.Zero, and rebuilds the ordering index over the live rows.
func NewFile(db *bolt.DB, bucket string, sch schema.Schema) (*File, error) {
	f := &File{
		db:         db,
		bucket:     []byte(bucket),
		schema:     sch,
		cells:      make(map[string]*txnlock.Cell[*Entry]),
		tree:       gbtree.NewG(degree, lessFunc(sch.Key)),
		openWrites: make(map[txn.ID]map[string]*writeGuard),
		committed:  make(map[txn.ID]map[string]bool),
	}

	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(f.bucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var e *Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			f.cells[string(k)] = txnlock.New(e)
			if e != nil {
				f.tree.ReplaceOrInsert(indexItem{id: string(k), key: e.Key})
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "opening btree file %q", bucket)
	}
	return f, nil
}

func (f *File) cellFor(blockID string) *txnlock.Cell[*Entry] {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cells[blockID]
	if !ok {
		c = txnlock.New[*Entry](nil)
		f.cells[blockID] = c
	}
	return c
}

func (f *File) track(id txn.ID, g *writeGuard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.openWrites[id]
	if !ok {
		m = make(map[string]*writeGuard)
		f.openWrites[id] = m
	}
	m[g.blockID] = g
}

// stage records id's pending state for one row: e is the new entry, nil for
// a delete. A transaction re-writing a key it already wrote in this
// transaction reuses its open guard in place rather than conflicting with
// itself, so delete-then-insert sequences under one id compose.
func (f *File) stage(ctx context.Context, id txn.ID, blockID string, key []value.Value, e *Entry) error {
	f.mu.Lock()
	g := f.openWrites[id][blockID]
	f.mu.Unlock()

	if g == nil {
		cell := f.cellFor(blockID)
		inner, err := cell.Write(ctx, id)
		if err != nil {
			return err
		}
		g = &writeGuard{blockID: blockID, key: key, inner: inner}
		f.track(id, g)
	}

	f.mu.Lock()
	g.key = key
	g.tomb = e == nil
	f.mu.Unlock()
	g.inner.Set(e)
	return nil
}

// Insert writes key -> val, upserting any prior value. It fails bad_request
// if key violates the schema (wrong arity, wrong dtype, too long);
// duplicate-key rejection is a table-level concern, not enforced here.
func (f *File) Insert(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error {
	if err := f.schema.ValidateKey(key); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, err, "invalid key")
	}

	keyCopy := append([]value.Value(nil), key...)
	return f.stage(ctx, id, blockIDFor(key), keyCopy, &Entry{Key: keyCopy, Value: val})
}

// Delete removes every row matched by sel.
func (f *File) Delete(ctx context.Context, id txn.ID, sel Selector) error {
	items, err := f.candidates(ctx, id, sel)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := f.stage(ctx, id, it.id, it.key, nil); err != nil {
			return err
		}
	}
	return nil
}

// Update atomically rewrites the value of every row matched by sel, the key
// itself is left untouched.
func (f *File) Update(ctx context.Context, id txn.ID, sel Selector, newValue value.Value) error {
	items, err := f.candidates(ctx, id, sel)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := f.stage(ctx, id, it.id, it.key, &Entry{Key: it.key, Value: newValue}); err != nil {
			return err
		}
	}
	return nil
}

// Slice returns every row matched by sel, in schema key order (descending
// if sel.Reversed was used).
func (f *File) Slice(ctx context.Context, id txn.ID, sel Selector) ([]Entry, error) {
	items, err := f.candidates(ctx, id, sel)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		cell := f.cellFor(it.id)
		rg, err := cell.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		if rg.Value != nil {
			out = append(out, *cloneEntry(rg.Value))
		}
		rg.Close()
	}
	return out, nil
}

// Len reports how many rows sel matches.
func (f *File) Len(ctx context.Context, id txn.ID, sel Selector) (uint64, error) {
	items, err := f.candidates(ctx, id, sel)
	if err != nil {
		return 0, err
	}
	return uint64(len(items)), nil
}

// candidates validates sel against the schema, then walks the ordering
// index for keys matching sel, filtering each to whether it's still
// visible to id (mirrors blockfile.File's BlockIDs+ContainsBlock pattern:
// the index gives approximate membership and order, the per-key cell read
// gives authoritative MVCC visibility).
func (f *File) candidates(ctx context.Context, id txn.ID, sel Selector) ([]indexItem, error) {
	if err := sel.validate(f.schema); err != nil {
		return nil, err
	}

	f.mu.Lock()
	items := make([]indexItem, 0, f.tree.Len())
	seen := make(map[string]bool, f.tree.Len())
	f.tree.Ascend(func(it indexItem) bool {
		items = append(items, it)
		seen[it.id] = true
		return true
	})
	// The tree only holds committed keys; this transaction's own pending
	// inserts are visible to it and must be considered too.
	pending := false
	for _, g := range f.openWrites[id] {
		if !g.tomb && !seen[g.blockID] {
			items = append(items, indexItem{id: g.blockID, key: g.key})
			pending = true
		}
	}
	f.mu.Unlock()

	if pending {
		less := lessFunc(f.schema.Key)
		sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
	}

	cols := f.schema.Key
	out := make([]indexItem, 0, len(items))
	for _, it := range items {
		ok, err := sel.matches(cols, it.key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !f.visible(ctx, id, it.id) {
			continue
		}
		out = append(out, it)
	}

	if sel.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (f *File) visible(ctx context.Context, id txn.ID, blockID string) bool {
	rg, err := f.cellFor(blockID).Read(ctx, id)
	if err != nil {
		return false
	}
	defer rg.Close()
	return rg.Value != nil
}

// Commit publishes every key this transaction wrote or deleted, persists
// the result to bbolt, and updates the ordering index. Any I/O failure is
// fatal and surfaces as internal, matching blockfile.File's commit rule.
func (f *File) Commit(id txn.ID) error {
	f.mu.Lock()
	touched := f.openWrites[id]
	delete(f.openWrites, id)
	f.mu.Unlock()
	if len(touched) == 0 {
		return nil
	}

	// Persist every pending row before any cell publishes it: a failed
	// marshal or put rolls the whole bolt batch back while every cell is
	// still uncommitted, so an aborted transaction leaves no partially
	// applied rows behind.
	err := f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(f.bucket)
		for blockID, g := range touched {
			val := g.inner.Value() // nil for a tombstone
			if val == nil {
				if err := b.Delete([]byte(blockID)); err != nil {
					return apperr.Wrap(apperr.KindInternal, err, "deleting row %q", blockID)
				}
				continue
			}
			data, err := json.Marshal(val)
			if err != nil {
				return apperr.Wrap(apperr.KindInternal, err, "encoding row %q", blockID)
			}
			if err := b.Put([]byte(blockID), data); err != nil {
				return apperr.Wrap(apperr.KindInternal, err, "persisting row %q", blockID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, g := range touched {
		g.inner.Commit()
	}

	f.mu.Lock()
	for blockID, g := range touched {
		if g.tomb {
			f.tree.Delete(indexItem{id: blockID, key: g.key})
		} else {
			f.tree.ReplaceOrInsert(indexItem{id: blockID, key: g.key})
		}
	}
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

// Finalize reclaims committed-version history older than id for every row
// this transaction committed.
func (f *File) Finalize(id txn.ID) error {
	f.mu.Lock()
	touched := f.committed[id]
	delete(f.committed, id)
	f.mu.Unlock()

	for blockID := range touched {
		f.cellFor(blockID).Finalize(id)
	}
	return nil
}
