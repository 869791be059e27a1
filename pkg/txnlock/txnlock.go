// Package txnlock implements the per-value concurrency cell every stored
// value in the data host is guarded by: a committed-version history plus at
// most one pending writer, keyed throughout by transaction id.
package txnlock

import (
	"context"
	"sync"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/metrics"
	"github.com/cuemby/datahost/pkg/txn"
)

type version[V any] struct {
	id    txn.ID
	value V
}

// Cell is an MVCC cell holding one stored value across its committed
// history. The zero Cell is not usable; construct one with New.
//
// No Cell operation may block a worker for longer than a single mutex
// acquisition: write() never waits for another
// transaction to release its guard, it fails conflict immediately. This
// keeps every suspension point bounded, which is what lets the scheduler
// run tasks cooperatively.
type Cell[V any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	versions  []version[V] // ascending by id, committed versions only
	finalized txn.ID       // watermark: reads below this are conflicts

	writerID   txn.ID
	writerOpen bool
	writerVal  V

	readerIDs map[txn.ID]int // open read guards per txn id
}

// New constructs a Cell seeded with an initial value committed at txn.Zero.
func New[V any](initial V) *Cell[V] {
	c := &Cell[V]{
		versions:  []version[V]{{id: txn.Zero, value: initial}},
		readerIDs: make(map[txn.ID]int),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ReadGuard is a read view into a Cell at a given transaction id.
type ReadGuard[V any] struct {
	cell  *Cell[V]
	id    txn.ID
	Value V
}

// Close releases the read guard.
func (g *ReadGuard[V]) Close() {
	if g == nil || g.cell == nil {
		return
	}
	g.cell.mu.Lock()
	g.cell.readerIDs[g.id]--
	if g.cell.readerIDs[g.id] <= 0 {
		delete(g.cell.readerIDs, g.id)
	}
	g.cell.mu.Unlock()
	g.cell = nil
}

// Read returns the value visible to id: the most recent committed version
// with id' <= id, or id's own uncommitted write if id holds one. It fails
// conflict if id is older than the finalize watermark, since the versions
// that would answer it have already been reclaimed.
func (c *Cell[V]) Read(ctx context.Context, id txn.ID) (*ReadGuard[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, err, "read cancelled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id.Compare(c.finalized) < 0 {
		metrics.LockConflictsTotal.WithLabelValues("read").Inc()
		return nil, apperr.Conflict("transaction %s reads before finalized watermark %s", id, c.finalized)
	}

	if c.writerOpen && c.writerID == id {
		c.readerIDs[id]++
		return &ReadGuard[V]{cell: c, id: id, Value: c.writerVal}, nil
	}

	v := c.visibleAt(id)
	c.readerIDs[id]++
	return &ReadGuard[V]{cell: c, id: id, Value: v}, nil
}

// visibleAt returns the most recent committed version with id' <= id. c.mu
// must be held.
func (c *Cell[V]) visibleAt(id txn.ID) V {
	best := c.versions[0]
	for _, v := range c.versions[1:] {
		if v.id.Compare(id) <= 0 {
			best = v
		} else {
			break
		}
	}
	return best.value
}

// WriteGuard is an exclusive, uncommitted write in progress. Close without
// Commit discards the pending value and releases the cell for other
// writers.
type WriteGuard[V any] struct {
	cell      *Cell[V]
	id        txn.ID
	committed bool
}

// Write opens an exclusive write guard for id. It fails conflict, without
// waiting, if another transaction currently holds an open write, if id
// already holds one (a transaction cannot open two concurrent writers over
// the same cell), or if a version newer than id has already committed. If
// id already holds an open read guard, the write reuses it in place.
func (c *Cell[V]) Write(ctx context.Context, id txn.ID) (*WriteGuard[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, err, "write cancelled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writerOpen {
		metrics.LockConflictsTotal.WithLabelValues("write").Inc()
		if c.writerID == id {
			return nil, apperr.Conflict("transaction %s already holds an open write on this value", id)
		}
		return nil, apperr.Conflict("transaction %s conflicts with in-progress writer %s", id, c.writerID)
	}

	latest := c.versions[len(c.versions)-1]
	if latest.id.Compare(id) > 0 {
		metrics.LockConflictsTotal.WithLabelValues("write").Inc()
		return nil, apperr.Conflict("transaction %s conflicts with a newer committed version %s", id, latest.id)
	}

	c.writerOpen = true
	c.writerID = id
	c.writerVal = latest.value
	return &WriteGuard[V]{cell: c, id: id}, nil
}

// Set updates the uncommitted value held by this write guard. It does not
// publish anything until Commit is called.
func (g *WriteGuard[V]) Set(v V) {
	g.cell.mu.Lock()
	g.cell.writerVal = v
	g.cell.mu.Unlock()
}

// Value returns the guard's current uncommitted value.
func (g *WriteGuard[V]) Value() V {
	g.cell.mu.Lock()
	defer g.cell.mu.Unlock()
	return g.cell.writerVal
}

// Commit publishes the guard's value as a new committed version at the
// guard's transaction id and releases the write lock. Calling Commit twice panics:
// that indicates a caller bug, not a runtime condition.
func (g *WriteGuard[V]) Commit() {
	c := g.cell
	c.mu.Lock()
	defer c.mu.Unlock()

	if g.committed {
		panic("txnlock: Commit called twice on the same write guard")
	}
	c.versions = append(c.versions, version[V]{id: g.id, value: c.writerVal})
	g.committed = true
	c.writerOpen = false
	c.cond.Broadcast()
}

// Close releases the write guard. If Commit was not called, the guard's
// value is discarded and no new version is published.
func (g *WriteGuard[V]) Close() {
	if g == nil || g.cell == nil {
		return
	}
	c := g.cell
	if !g.committed {
		c.mu.Lock()
		c.writerOpen = false
		c.cond.Broadcast()
		c.mu.Unlock()
	}
	g.cell = nil
}

// Finalize advances the finalize watermark to id and discards every
// committed version older than the most recent version at or before id,
// reclaiming history no future transaction can still need.
func (c *Cell[V]) Finalize(id txn.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id.Compare(c.finalized) > 0 {
		c.finalized = id
	}

	cut := 0
	for i, v := range c.versions {
		if v.id.Compare(id) <= 0 {
			cut = i
		} else {
			break
		}
	}
	if cut > 0 {
		kept := make([]version[V], len(c.versions)-cut)
		copy(kept, c.versions[cut:])
		c.versions = kept
	}
}

// Finalized returns the current finalize watermark.
func (c *Cell[V]) Finalized() txn.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

// Len reports how many committed versions are retained, for tests asserting
// that Finalize actually reclaims history.
func (c *Cell[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.versions)
}
