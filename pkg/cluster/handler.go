package cluster

import (
	"context"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/gateway"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// Handler exposes Cluster's own lifecycle over the wire protocol,
// commit/finalize and replica membership, mounting the cluster itself at
// its own path distinct from the collections it hosts. GET with no key
// answers the cluster's public key; GET with a chain name answers a link
// to that chain. POST commits and finalizes the request's TxnId across
// every subject and chain; PUT/DELETE add or remove a replica link.
func (c *Cluster) Handler() gateway.Handler {
	return gateway.HandlerFuncs{
		GetFunc: func(ctx context.Context, id txn.ID, key []value.Value) (value.Value, error) {
			if len(key) == 0 {
				return value.Bytes(c.PublicKey()), nil
			}
			if key[0].Kind() != value.KindString {
				return value.Value{}, apperr.BadRequest("expected a chain name")
			}
			name := key[0].StringVal()
			if _, ok := c.Chain(name); !ok {
				return value.Value{}, apperr.NotFound("no chain named %q", name)
			}
			return value.NewLink(c.link.Append(name)), nil
		},
		PostFunc: func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
			if len(params) != 0 {
				return value.Value{}, apperr.BadRequest("unrecognized commit parameters")
			}
			if err := c.Commit(ctx, id); err != nil {
				return value.Value{}, err
			}
			if err := c.Finalize(id); err != nil {
				return value.Value{}, err
			}
			return value.None(), nil
		},
		PutFunc: func(ctx context.Context, id txn.ID, key []value.Value, val value.Value) error {
			if val.Kind() != value.KindLink {
				return apperr.BadRequest("expected a Link, not %s", val.Kind())
			}
			return c.AddReplica(ctx, val.LinkVal())
		},
		DeleteFunc: func(ctx context.Context, id txn.ID, key []value.Value) error {
			link, err := linkFromKey(key)
			if err != nil {
				return err
			}
			return c.RemoveReplica(ctx, link)
		},
	}
}

// AuthorizeHandler implements the "/authorize" operation: POST
// {actor: Link, scope: string} mints a bearer token scoping actor to
// scope.
func (c *Cluster) AuthorizeHandler(issuer TokenIssuer) gateway.Handler {
	return gateway.HandlerFuncs{
		PostFunc: func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
			actor, scope, err := actorScope(params)
			if err != nil {
				return value.Value{}, err
			}
			token, err := c.Authorize(ctx, actor, scope, issuer)
			if err != nil {
				return value.Value{}, err
			}
			return value.String(token), nil
		},
	}
}

// InstallHandler implements the "/install" operation: POST {actor: Link,
// scopes: [string, ...]} grants actor every named scope.
func (c *Cluster) InstallHandler() gateway.Handler {
	return gateway.HandlerFuncs{
		PostFunc: func(ctx context.Context, id txn.ID, params map[string]value.Value) (value.Value, error) {
			actorVal, ok := params["actor"]
			if !ok || actorVal.Kind() != value.KindLink {
				return value.Value{}, apperr.BadRequest("expected an actor Link")
			}
			scopesVal, ok := params["scopes"]
			if !ok || scopesVal.Kind() != value.KindTuple {
				return value.Value{}, apperr.BadRequest("expected a scopes tuple")
			}

			scopes := make([]string, len(scopesVal.TupleVal()))
			for i, v := range scopesVal.TupleVal() {
				if v.Kind() != value.KindString {
					return value.Value{}, apperr.BadRequest("scope %d is not a string", i)
				}
				scopes[i] = v.StringVal()
			}

			if err := c.InstallScope(ctx, actorVal.LinkVal(), scopes); err != nil {
				return value.Value{}, err
			}
			return value.None(), nil
		},
	}
}

func actorScope(params map[string]value.Value) (path.Link, string, error) {
	actorVal, ok := params["actor"]
	if !ok || actorVal.Kind() != value.KindLink {
		return path.Link{}, "", apperr.BadRequest("expected an actor Link")
	}
	scopeVal, ok := params["scope"]
	if !ok || scopeVal.Kind() != value.KindString {
		return path.Link{}, "", apperr.BadRequest("expected a scope string")
	}
	return actorVal.LinkVal(), scopeVal.StringVal(), nil
}

// linkFromKey builds a local Link from a request path's remaining
// segments — the gateway encodes a URL path's suffix as plain string
// Values, so a replica is addressed by its path, not by a wire-encoded
// Link literal.
func linkFromKey(key []value.Value) (path.Link, error) {
	if len(key) == 0 {
		return path.Link{}, apperr.BadRequest("expected a replica path in the request key")
	}
	segments := make(path.Path, len(key))
	for i, v := range key {
		if v.Kind() != value.KindString {
			return path.Link{}, apperr.BadRequest("key segment %d is not a string", i)
		}
		segments[i] = v.StringVal()
	}
	return path.NewLink(segments), nil
}
