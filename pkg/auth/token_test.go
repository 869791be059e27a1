package auth

import (
	"testing"
	"time"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer := NewIssuer(time.Minute)
	actor := path.NewLink(path.Path{"users", "alice"})

	value, err := issuer.Issue(actor, "read")
	require.NoError(t, err)
	assert.NotEmpty(t, value)

	gotActor, gotScope, err := issuer.Validate(value)
	require.NoError(t, err)
	assert.Equal(t, actor, gotActor)
	assert.Equal(t, "read", gotScope)
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	issuer := NewIssuer(time.Minute)
	_, _, err := issuer.Validate("not-a-real-token")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuer := NewIssuer(-time.Second) // already expired the instant it's issued
	actor := path.NewLink(path.Path{"users", "alice"})
	value, err := issuer.Issue(actor, "read")
	require.NoError(t, err)

	_, _, err = issuer.Validate(value)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestRevokeInvalidatesToken(t *testing.T) {
	issuer := NewIssuer(time.Minute)
	actor := path.NewLink(path.Path{"users", "alice"})
	value, err := issuer.Issue(actor, "read")
	require.NoError(t, err)

	issuer.Revoke(value)
	_, _, err = issuer.Validate(value)
	require.Error(t, err)
}

func TestSweepDropsExpiredTokensOnly(t *testing.T) {
	issuer := NewIssuer(time.Minute)
	actor := path.NewLink(path.Path{"users", "alice"})
	live, err := issuer.Issue(actor, "read")
	require.NoError(t, err)

	expired, err := issuer.Issue(actor, "write")
	require.NoError(t, err)
	issuer.mu.Lock()
	issuer.tokens[expired].ExpiresAt = time.Now().Add(-time.Second)
	issuer.mu.Unlock()

	issuer.Sweep()
	_, _, err = issuer.Validate(live)
	require.NoError(t, err)
	_, _, err = issuer.Validate(expired)
	require.Error(t, err)
}
