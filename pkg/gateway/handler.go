// Package gateway implements the HTTP wire protocol: path-addressed
// GET/PUT/POST/DELETE requests carrying a bearer token and a TxnId,
// answered with a self-describing JSON encoding. Each request is parsed,
// resolved or minted a TxnId, routed to the handler mounted at the longest
// matching path prefix, then encoded back.
package gateway

import (
	"context"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

func methodNotAllowed(method string) error {
	return apperr.MethodNotAllowed("%s is not supported at this path", method)
}

// Handler answers the four wire-protocol verbs for everything mounted at
// one path. A method a given mount point doesn't support returns
// apperr.MethodNotAllowed; Router never assumes every Handler implements
// every verb.
type Handler interface {
	// Get resolves key at rest under txn id's snapshot.
	Get(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error)
	// Put writes val at key under txn id.
	Put(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error
	// Post invokes an operation with named parameters, returning its result.
	Post(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error)
	// Delete removes key under txn id.
	Delete(ctx context.Context, id txn.ID, key []value.Value) error
}

// HandlerFuncs adapts individual verb functions into a Handler, for mount
// points that only need one or two of the four verbs. The remaining fields
// left nil answer apperr.MethodNotAllowed.
type HandlerFuncs struct {
	GetFunc    func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error)
	PutFunc    func(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error
	PostFunc   func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error)
	DeleteFunc func(ctx context.Context, id txn.ID, key []value.Value) error
}

func (h HandlerFuncs) Get(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
	if h.GetFunc == nil {
		return value.Value{}, methodNotAllowed("GET")
	}
	return h.GetFunc(ctx, id, key)
}

func (h HandlerFuncs) Put(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error {
	if h.PutFunc == nil {
		return methodNotAllowed("PUT")
	}
	return h.PutFunc(ctx, id, key, val)
}

func (h HandlerFuncs) Post(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
	if h.PostFunc == nil {
		return value.Value{}, methodNotAllowed("POST")
	}
	return h.PostFunc(ctx, id, params)
}

func (h HandlerFuncs) Delete(ctx context.Context, id txn.ID, key []value.Value) error {
	if h.DeleteFunc == nil {
		return methodNotAllowed("DELETE")
	}
	return h.DeleteFunc(ctx, id, key)
}

var _ Handler = HandlerFuncs{}

// mountPoint pairs a registered prefix with the Handler resolved from it,
// so Router can do longest-prefix matching without a trie for what is, in
// practice, a handful of mounted collections per cluster.
type mountPoint struct {
	prefix  path.Path
	handler Handler
}
