// Package auth implements the bearer tokens the "/authorize" operation
// mints: a scope-stamped, expiring credential a caller presents on
// subsequent requests instead of re-proving it holds the scope every time.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/path"
)

// Token is a minted bearer credential scoping its holder to one operation
// class on one actor link.
type Token struct {
	Value     string
	Actor     path.Link
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints and validates tokens, implementing pkg/cluster's TokenIssuer
// interface so Cluster.Authorize can hand off to it directly.
type Issuer struct {
	ttl time.Duration

	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewIssuer builds an Issuer minting tokens that expire after ttl.
func NewIssuer(ttl time.Duration) *Issuer {
	return &Issuer{ttl: ttl, tokens: make(map[string]*Token)}
}

// Issue mints a fresh token for actor scoped to scope.
func (i *Issuer) Issue(actor path.Link, scope string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, err, "generating token")
	}
	value := hex.EncodeToString(raw)

	now := time.Now()
	tok := &Token{
		Value:     value,
		Actor:     actor,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}

	i.mu.Lock()
	i.tokens[value] = tok
	i.mu.Unlock()
	return value, nil
}

// Validate reports the actor and scope a still-live token was issued for.
func (i *Issuer) Validate(value string) (path.Link, string, error) {
	i.mu.RLock()
	tok, ok := i.tokens[value]
	i.mu.RUnlock()
	if !ok {
		return path.Link{}, "", apperr.Unauthorized("unknown token")
	}
	if time.Now().After(tok.ExpiresAt) {
		return path.Link{}, "", apperr.Unauthorized("token expired")
	}
	return tok.Actor, tok.Scope, nil
}

// Revoke invalidates a token before its natural expiry.
func (i *Issuer) Revoke(value string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.tokens, value)
}

// Sweep drops every token that has already expired, bounding memory use in
// a long-running process. Callers run it on a timer; Issuer never sweeps on
// its own.
func (i *Issuer) Sweep() {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	for value, tok := range i.tokens {
		if now.After(tok.ExpiresAt) {
			delete(i.tokens, value)
		}
	}
}
