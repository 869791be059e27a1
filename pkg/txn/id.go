// Package txn implements transaction identifiers and the transaction
// manager: id allocation, ownership, and two-phase commit/finalize dispatch
// across every participant a handler touched.
package txn

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ID is a monotonic, totally ordered transaction identifier: a composite of
// the wall-clock nanosecond it was minted at and a nonce that disambiguates
// ids minted within the same nanosecond. Two distinct calls to New never
// return the same ID.
type ID struct {
	Nanos int64
	Nonce uint32
}

// Zero is the identifier that precedes every minted ID; it seeds a fresh
// TxnLock cell's initial committed version.
var Zero = ID{}

var (
	mintMu    sync.Mutex
	lastNanos int64
	counter   uint32
)

var nonceSeed uint32

func init() {
	// Gives two processes started in the same nanosecond distinct nonce
	// ranges; within one process the counter below is what guarantees
	// uniqueness.
	nonceSeed = uint32(time.Now().UnixNano() >> 16)
}

// New mints a fresh ID from the current wall-clock time. It is safe for
// concurrent use: the mutex it takes is held only long enough to bump the
// nanosecond/counter pair, never across I/O.
func New() ID {
	mintMu.Lock()
	defer mintMu.Unlock()

	nanos := time.Now().UnixNano()
	if nanos <= lastNanos {
		// Clock went backwards or fired twice in the same tick; preserve
		// strict ordering by advancing past the last minted value.
		nanos = lastNanos + 1
	}
	lastNanos = nanos
	counter++

	return ID{Nanos: nanos, Nonce: nonceSeed ^ counter}
}

// Parse decodes the canonical "<nanos>-<nonce>" form carried in the wire
// protocol's txn_id parameter.
func Parse(s string) (ID, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("malformed txn id %q: expected \"<nanos>-<nonce>\"", s)
	}

	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("malformed txn id %q: %w", s, err)
	}

	nonce, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("malformed txn id %q: %w", s, err)
	}

	return ID{Nanos: nanos, Nonce: uint32(nonce)}, nil
}

// String renders the canonical form.
func (id ID) String() string {
	return strconv.FormatInt(id.Nanos, 10) + "-" + strconv.FormatUint(uint64(id.Nonce), 10)
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater than
// other, ordering first by wall time then by nonce.
func (id ID) Compare(other ID) int {
	switch {
	case id.Nanos < other.Nanos:
		return -1
	case id.Nanos > other.Nanos:
		return 1
	case id.Nonce < other.Nonce:
		return -1
	case id.Nonce > other.Nonce:
		return 1
	default:
		return 0
	}
}

// Less reports id < other.
func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

// Age returns how long ago id was minted. Inter-host calls derive their
// deadline from it.
func (id ID) Age() time.Duration {
	return time.Duration(time.Now().UnixNano() - id.Nanos)
}

// Time returns the wall-clock instant id was minted at.
func (id ID) Time() time.Time { return time.Unix(0, id.Nanos) }
