package cluster

import (
	"sync"

	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
)

// Registry assigns exactly one owner cluster to each TxnId: whichever
// cluster's path first appears in the request chain. It is shared across
// every Cluster a process hosts, since ownership is a property of the
// transaction, not of any single cluster.
type Registry struct {
	mu     sync.Mutex
	owners map[txn.ID]path.Link
}

// NewRegistry builds an empty owner registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[txn.ID]path.Link)}
}

// ClaimOwner records link as id's owner if no cluster has claimed it yet,
// and returns the (possibly pre-existing) owner. Only the first cluster a
// request chain reaches for a given TxnId becomes its owner.
func (r *Registry) ClaimOwner(id txn.ID, link path.Link) path.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[id]; ok {
		return owner
	}
	r.owners[id] = link
	return link
}

// IsOwner reports whether link is id's recorded owner. A TxnId with no
// recorded owner belongs to nobody yet.
func (r *Registry) IsOwner(id txn.ID, link path.Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	return ok && owner.String() == link.String()
}

// Forget drops id's owner record. Call once id's transaction has committed
// or aborted, so the registry does not grow without bound.
func (r *Registry) Forget(id txn.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, id)
}
