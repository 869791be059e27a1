package gateway

import (
	"sort"
	"sync"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/path"
)

// Router resolves a request path to the Handler mounted at the longest
// prefix of it. A sorted slice and a linear longest-match scan is plenty
// for the handful of collections one cluster mounts.
type Router struct {
	mu     sync.RWMutex
	mounts []mountPoint
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// Mount registers handler to answer every request whose path has prefix
// as a prefix, replacing any handler already registered at that exact
// prefix.
func (r *Router) Mount(prefix path.Path, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.mounts {
		if m.prefix.Equal(prefix) {
			r.mounts[i].handler = handler
			return
		}
	}
	r.mounts = append(r.mounts, mountPoint{prefix: prefix, handler: handler})
	sort.Slice(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].prefix) > len(r.mounts[j].prefix)
	})
}

// Unmount removes the handler registered at the exact prefix, if any.
func (r *Router) Unmount(prefix path.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.mounts {
		if m.prefix.Equal(prefix) {
			r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
			return
		}
	}
}

// Resolve finds the handler mounted at the longest prefix of p and
// returns it alongside the remaining suffix, the key the handler should
// operate on.
func (r *Router) Resolve(p path.Path) (Handler, path.Path, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mounts {
		if p.HasPrefix(m.prefix) {
			return m.handler, p.Suffix(m.prefix), nil
		}
	}
	return nil, nil, apperr.NotFound("no handler mounted at %q", p.String())
}
