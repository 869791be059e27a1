package txn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMintsStrictlyIncreasingIDs(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.True(t, prev.Less(next), "id %s should precede %s", prev, next)
		prev = next
	}
}

func TestNewIsUniqueUnderConcurrency(t *testing.T) {
	const n = 64
	ids := make([]ID, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = New()
		}(i)
	}
	wg.Wait()

	seen := make(map[ID]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestParseRoundTripsCanonicalForm(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, s := range []string{"", "123", "abc-def", "123-", "-5", "123-456-789x"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestCompareOrdersByNanosThenNonce(t *testing.T) {
	a := ID{Nanos: 1, Nonce: 9}
	b := ID{Nanos: 2, Nonce: 0}
	c := ID{Nanos: 2, Nonce: 1}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, -1, b.Compare(c))
	assert.Equal(t, 1, c.Compare(a))
	assert.Equal(t, 0, b.Compare(b))
	assert.True(t, Zero.Less(a))
}
