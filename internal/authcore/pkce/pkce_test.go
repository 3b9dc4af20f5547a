package pkce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
	"github.com/aussie-gateway/auth-core/store/memory"
)

// TestChallenge_MatchesRFC7636Vector pins S256 against the worked example in
// RFC 7636 appendix B.
func TestChallenge_MatchesRFC7636Vector(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	assert.Equal(t, want, Challenge(verifier))
}

func TestGenerateVerifier_ProducesUniqueValues(t *testing.T) {
	v1, err := GenerateVerifier()
	require.NoError(t, err)
	v2, err := GenerateVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
	assert.NotEmpty(t, v1)
}

func TestStoreAndVerifyChallenge_Matches(t *testing.T) {
	ctx := context.Background()
	svc := New(config.PkceConfig{ChallengeTTL: time.Minute}, memory.NewPkceStore())

	verifier, err := GenerateVerifier()
	require.NoError(t, err)
	challenge := Challenge(verifier)

	require.NoError(t, svc.StoreChallenge(ctx, "state-1", challenge))

	ok, err := svc.VerifyChallenge(ctx, "state-1", verifier)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyChallenge_IsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc := New(config.PkceConfig{ChallengeTTL: time.Minute}, memory.NewPkceStore())

	verifier, err := GenerateVerifier()
	require.NoError(t, err)
	challenge := Challenge(verifier)
	require.NoError(t, svc.StoreChallenge(ctx, "state-1", challenge))

	first, err := svc.VerifyChallenge(ctx, "state-1", verifier)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := svc.VerifyChallenge(ctx, "state-1", verifier)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestVerifyChallenge_RejectsMismatchedVerifier(t *testing.T) {
	ctx := context.Background()
	svc := New(config.PkceConfig{ChallengeTTL: time.Minute}, memory.NewPkceStore())

	verifier, err := GenerateVerifier()
	require.NoError(t, err)
	require.NoError(t, svc.StoreChallenge(ctx, "state-1", Challenge(verifier)))

	other, err := GenerateVerifier()
	require.NoError(t, err)

	ok, err := svc.VerifyChallenge(ctx, "state-1", other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyChallenge_UnknownStateReturnsFalseNotError(t *testing.T) {
	ctx := context.Background()
	svc := New(config.PkceConfig{ChallengeTTL: time.Minute}, memory.NewPkceStore())

	ok, err := svc.VerifyChallenge(ctx, "never-stored", "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyChallenge_RejectsExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPkceStore()
	svc := New(config.PkceConfig{ChallengeTTL: time.Minute}, store)

	verifier, err := GenerateVerifier()
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, repository.PkceChallenge{
		State:     "state-1",
		Challenge: Challenge(verifier),
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	ok, err := svc.VerifyChallenge(ctx, "state-1", verifier)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreChallenge_RejectsBlankInputs(t *testing.T) {
	ctx := context.Background()
	svc := New(config.PkceConfig{}, memory.NewPkceStore())

	err := svc.StoreChallenge(ctx, "", "challenge")
	require.Error(t, err)

	err = svc.StoreChallenge(ctx, "state", "")
	require.Error(t, err)
}
