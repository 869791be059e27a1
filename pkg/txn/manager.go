package txn

import "sync"

// Participant is anything a transaction can commit or finalize: a table's
// IndexSet, a tensor's coordinate file, or any other MVCC-backed store whose
// writes are staged under a txn.ID and need a uniform two-phase dispatch.
// btree.File and table.IndexSet already satisfy this interface as written.
type Participant interface {
	Commit(id ID) error
	Finalize(id ID) error
}

// Manager tracks which participants a transaction has written to, so a
// single Commit/Finalize call fans out to exactly those and no others. A
// handler registers every store it touches as it goes; the manager does not
// discover participants on its own.
type Manager struct {
	mu           sync.Mutex
	participants map[ID][]Participant
}

// NewManager builds an empty transaction manager.
func NewManager() *Manager {
	return &Manager{participants: make(map[ID][]Participant)}
}

// Register records that id's transaction has written to p. Registering the
// same participant twice for the same id is a no-op.
func (m *Manager) Register(id ID, p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.participants[id] {
		if existing == p {
			return
		}
	}
	m.participants[id] = append(m.participants[id], p)
}

// Participants returns the participants registered for id, in registration
// order.
func (m *Manager) Participants(id ID) []Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Participant(nil), m.participants[id]...)
}

// Commit commits id on every participant it touched, in registration order.
// The first error stops the dispatch; participants already committed stay
// committed, and the caller is expected to surface the conflict rather than
// retry.
func (m *Manager) Commit(id ID) error {
	for _, p := range m.Participants(id) {
		if err := p.Commit(id); err != nil {
			return err
		}
	}
	return nil
}

// Finalize finalizes id on every participant it touched and forgets id, so
// the manager does not grow without bound across a long-running process.
func (m *Manager) Finalize(id ID) error {
	m.mu.Lock()
	participants := append([]Participant(nil), m.participants[id]...)
	delete(m.participants, id)
	m.mu.Unlock()

	for _, p := range participants {
		if err := p.Finalize(id); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops id's participant registration without finalizing it, for an
// aborted transaction that never reaches commit.
func (m *Manager) Forget(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants, id)
}
