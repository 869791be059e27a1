package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParticipant struct {
	committed  []ID
	finalized  []ID
	commitErr  error
	finalizeErr error
}

func (f *fakeParticipant) Commit(id ID) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, id)
	return nil
}

func (f *fakeParticipant) Finalize(id ID) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized = append(f.finalized, id)
	return nil
}

func TestManagerDispatchesOnlyRegisteredParticipants(t *testing.T) {
	m := NewManager()
	id := New()
	a, b, untouched := &fakeParticipant{}, &fakeParticipant{}, &fakeParticipant{}
	m.Register(id, a)
	m.Register(id, b)

	require.NoError(t, m.Commit(id))
	require.NoError(t, m.Finalize(id))

	assert.Equal(t, []ID{id}, a.committed)
	assert.Equal(t, []ID{id}, b.committed)
	assert.Equal(t, []ID{id}, a.finalized)
	assert.Equal(t, []ID{id}, b.finalized)
	assert.Empty(t, untouched.committed)
}

func TestManagerRegisterIsIdempotent(t *testing.T) {
	m := NewManager()
	id := New()
	a := &fakeParticipant{}
	m.Register(id, a)
	m.Register(id, a)

	require.NoError(t, m.Commit(id))
	assert.Len(t, a.committed, 1)
}

func TestManagerCommitStopsOnFirstError(t *testing.T) {
	m := NewManager()
	id := New()
	bad := &fakeParticipant{commitErr: errors.New("conflict")}
	good := &fakeParticipant{}
	m.Register(id, bad)
	m.Register(id, good)

	err := m.Commit(id)
	require.Error(t, err)
	assert.Empty(t, good.committed)
}

func TestManagerFinalizeForgetsParticipants(t *testing.T) {
	m := NewManager()
	id := New()
	a := &fakeParticipant{}
	m.Register(id, a)

	require.NoError(t, m.Finalize(id))
	assert.Empty(t, m.Participants(id))
}

func TestManagerForgetDropsWithoutFinalizing(t *testing.T) {
	m := NewManager()
	id := New()
	a := &fakeParticipant{}
	m.Register(id, a)

	m.Forget(id)
	assert.Empty(t, m.Participants(id))
	assert.Empty(t, a.finalized)
}
