// Package cluster implements the replication and membership layer: owner
// assignment for a transaction's request chain, fan-out of writes to
// replicas with failure quarantine, and the scope-grant operations
// (install/grant/authorize) that gate them.
package cluster

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/chain"
	"github.com/cuemby/datahost/pkg/metrics"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/txnlock"
)

// Cluster is one host's view of a replicated collection: its own link, the
// set of participant stores a transaction touching it must commit, the
// mutation chains it seals, and the replica set and scope grants governing
// fan-out and authorization.
type Cluster struct {
	link      path.Link
	registry  *Registry
	manager   *txn.Manager
	transport Replicator

	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey

	mu     sync.Mutex
	chains map[string]*chain.Chain

	replicas *txnlock.Cell[[]path.Link]
	scopes   *txnlock.Cell[map[string][]string]
}

// New builds a Cluster rooted at link, minting a fresh signing keypair for
// its identity. registry is shared across every Cluster a process hosts,
// since owner assignment is per-transaction, not per-cluster. transport is
// how PUT/DELETE fan-out reaches other hosts.
func New(link path.Link, registry *Registry, manager *txn.Manager, transport Replicator) *Cluster {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// rand.Reader only fails when the platform's entropy source is
		// broken; there is no cluster identity to fall back to.
		panic("cluster: generating identity keypair: " + err.Error())
	}
	return &Cluster{
		link:       link,
		registry:   registry,
		manager:    manager,
		transport:  transport,
		publicKey:  pub,
		privateKey: priv,
		chains:     make(map[string]*chain.Chain),
		replicas:   txnlock.New[[]path.Link](nil),
		scopes:     txnlock.New(map[string][]string{}),
	}
}

// Link returns the cluster's own address.
func (c *Cluster) Link() path.Link { return c.link }

// PublicKey returns the cluster's identity key, the value GET on the
// cluster's own path answers with.
func (c *Cluster) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), c.publicKey...)
}

// RegisterChain adds a mutation chain this cluster seals on commit.
func (c *Cluster) RegisterChain(name string, ch *chain.Chain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[name] = ch
}

// Chain returns a previously registered chain by name.
func (c *Cluster) Chain(name string) (*chain.Chain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chains[name]
	return ch, ok
}

func (c *Cluster) chainList() []*chain.Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*chain.Chain, 0, len(c.chains))
	for _, ch := range c.chains {
		out = append(out, ch)
	}
	return out
}

// ClaimOwner assigns this cluster as id's owner if no cluster has claimed it
// yet, and returns the actual owner. The first claim in a request chain
// wins.
func (c *Cluster) ClaimOwner(id txn.ID) path.Link {
	return c.registry.ClaimOwner(id, c.link)
}

// IsOwner reports whether this cluster owns id.
func (c *Cluster) IsOwner(id txn.ID) bool {
	return c.registry.IsOwner(id, c.link)
}

// Mutate registers p as a participant id's transaction has written to. Only
// the owner calls this for its own locally-applied write; a non-owner
// forwards the mutation to the owner instead of registering it here.
func (c *Cluster) Mutate(id txn.ID, p txn.Participant) {
	c.manager.Register(id, p)
}

// Commit commits id across the subject (every registered txn.Participant)
// and every managed chain concurrently. The first failure from either group
// is returned; the other group's goroutine is not cancelled, since neither
// btree.File.Commit nor chain.Chain.Commit can be rolled back once begun.
func (c *Cluster) Commit(ctx context.Context, id txn.ID) error {
	timer := metrics.NewTimer()
	chains := c.chainList()
	errs := make(chan error, 1+len(chains))

	go func() { errs <- c.manager.Commit(id) }()
	for _, ch := range chains {
		ch := ch
		go func() { errs <- ch.Commit(ctx, id) }()
	}

	var first error
	for i := 0; i < 1+len(chains); i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}

	timer.ObserveDuration(metrics.TxnCommitDuration)
	if first != nil {
		metrics.TxnCommitsTotal.WithLabelValues("error").Inc()
		return first
	}
	metrics.TxnCommitsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Finalize finalizes id across the subject and every managed chain.
func (c *Cluster) Finalize(id txn.ID) error {
	if err := c.manager.Finalize(id); err != nil {
		return err
	}
	for _, ch := range c.chainList() {
		if err := ch.Finalize(id); err != nil {
			return err
		}
	}
	return nil
}

// Replicas returns the cluster's current replica set.
func (c *Cluster) Replicas(ctx context.Context) ([]path.Link, error) {
	guard, err := c.replicas.Read(ctx, txn.New())
	if err != nil {
		return nil, err
	}
	defer guard.Close()
	return append([]path.Link(nil), guard.Value...), nil
}

// AddReplica adds link to the replica set, failing conflict only if another
// membership change is in flight.
func (c *Cluster) AddReplica(ctx context.Context, link path.Link) error {
	return c.editReplicas(ctx, func(set []path.Link) []path.Link {
		for _, l := range set {
			if l.String() == link.String() {
				return set
			}
		}
		return append(append([]path.Link(nil), set...), link)
	})
}

// RemoveReplica drops link from the replica set. Called both for explicit
// membership changes and for the convergence step after a quorum write
// drops the replicas that failed it.
func (c *Cluster) RemoveReplica(ctx context.Context, link path.Link) error {
	return c.editReplicas(ctx, func(set []path.Link) []path.Link {
		out := make([]path.Link, 0, len(set))
		for _, l := range set {
			if l.String() != link.String() {
				out = append(out, l)
			}
		}
		return out
	})
}

func (c *Cluster) editReplicas(ctx context.Context, edit func([]path.Link) []path.Link) error {
	id := txn.New()
	guard, err := c.replicas.Write(ctx, id)
	if err != nil {
		return err
	}
	defer guard.Close()
	guard.Set(edit(guard.Value()))
	metrics.ReplicaSetSize.Set(float64(len(guard.Value())))
	guard.Commit()
	c.replicas.Finalize(id)
	return nil
}

// InstallScope grants actor the named scopes, replacing any scopes it
// previously held.
func (c *Cluster) InstallScope(ctx context.Context, actor path.Link, scopes []string) error {
	id := txn.New()
	guard, err := c.scopes.Write(ctx, id)
	if err != nil {
		return err
	}
	defer guard.Close()
	next := cloneScopes(guard.Value())
	next[actor.String()] = append([]string(nil), scopes...)
	guard.Set(next)
	guard.Commit()
	c.scopes.Finalize(id)
	return nil
}

func cloneScopes(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (c *Cluster) hasScope(ctx context.Context, actor path.Link, scope string) (bool, error) {
	guard, err := c.scopes.Read(ctx, txn.New())
	if err != nil {
		return false, err
	}
	defer guard.Close()
	for _, s := range guard.Value[actor.String()] {
		if s == scope {
			return true, nil
		}
	}
	return false, nil
}

// Grant runs op only if actor holds scope, delegating an authorized action
// under a checked scope.
func (c *Cluster) Grant(ctx context.Context, actor path.Link, scope string, op func(context.Context) error) error {
	ok, err := c.hasScope(ctx, actor, scope)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("%s does not hold scope %q", actor, scope)
	}
	return op(ctx)
}

// TokenIssuer mints bearer tokens for the "/authorize" operation. Token
// format and signing live in pkg/auth; cluster only checks scope membership
// before asking the issuer to mint one.
type TokenIssuer interface {
	Issue(actor path.Link, scope string) (string, error)
}

// Authorize mints a token scoped to scope if actor already holds it.
func (c *Cluster) Authorize(ctx context.Context, actor path.Link, scope string, issuer TokenIssuer) (string, error) {
	ok, err := c.hasScope(ctx, actor, scope)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Forbidden("%s does not hold scope %q", actor, scope)
	}
	return issuer.Issue(actor, scope)
}
