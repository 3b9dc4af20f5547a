package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
	"github.com/aussie-gateway/auth-core/store/memory"
)

func newTestService(cfg config.BootstrapConfig) (*Service, *memory.APIKeyStore) {
	store := memory.NewAPIKeyStore()
	return New(cfg, store), store
}

func TestCreate_GeneratesUniquePlaintextAndKeyID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	first, err := svc.Create(ctx, "ci", "ci key", []string{"read"}, "tester", nil, nil)
	require.NoError(t, err)

	second, err := svc.Create(ctx, "ci", "ci key", []string{"read"}, "tester", nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Plaintext, second.Plaintext)
	assert.NotEqual(t, first.KeyID, second.KeyID)
	assert.Len(t, first.KeyID, 8)
	assert.Nil(t, first.Record.ExpiresAt)
}

func TestValidate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	created, err := svc.Create(ctx, "ci", "ci key", []string{"read"}, "tester", nil, nil)
	require.NoError(t, err)

	rec, err := svc.Validate(ctx, created.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, created.KeyID, rec.KeyID)
}

func TestValidate_RejectsUnknownKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	_, err := svc.Validate(ctx, "not-a-real-key")
	require.Error(t, err)
	assert.True(t, autherr.Of(err, autherr.AuthInvalid))
}

func TestValidate_RejectsRevokedKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	created, err := svc.Create(ctx, "ci", "ci key", []string{"read"}, "tester", nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, created.KeyID))

	_, err = svc.Validate(ctx, created.Plaintext)
	require.Error(t, err)
	assert.True(t, autherr.Of(err, autherr.AuthInvalid))
}

func TestValidate_RejectsExpiredKey(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	past := -time.Hour
	created, err := svc.Create(ctx, "ci", "ci key", []string{"read"}, "tester", &past, nil)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, created.Plaintext)
	require.Error(t, err)
	assert.True(t, autherr.Of(err, autherr.AuthInvalid))
}

func TestResolveExpiry_RequiresTTLWhenMaxConfigured(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	maxTTL := time.Hour
	_, err := svc.CreateWithKey(ctx, "plaintext-value", "n", "d", nil, "creator", nil, &maxTTL)
	require.Error(t, err)
	assert.True(t, autherr.Of(err, autherr.ValidationFailure))
}

func TestResolveExpiry_RejectsTTLAboveMax(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{})

	maxTTL := time.Hour
	requested := 2 * time.Hour
	_, err := svc.CreateWithKey(ctx, "plaintext-value", "n", "d", nil, "creator", &requested, &maxTTL)
	require.Error(t, err)
	assert.True(t, autherr.Of(err, autherr.ValidationFailure))
}

func TestBootstrap_RejectsShortKeys(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{Enabled: true})

	_, err := svc.Bootstrap(ctx, "too-short", nil)
	require.Error(t, err)
	assert.True(t, autherr.Of(err, autherr.ValidationFailure))
}

func TestBootstrap_ClampsTTLToHardCapRegardlessOfConfig(t *testing.T) {
	ctx := context.Background()
	// Operator configures a TTL far above the spec's hard 24h bootstrap cap;
	// Bootstrap must still clamp to 24h, never honoring the larger value.
	svc, _ := newTestService(config.BootstrapConfig{Enabled: true, TTL: 72 * time.Hour})

	plaintext := "this-is-a-sufficiently-long-bootstrap-key-value"
	before := time.Now()
	created, err := svc.Bootstrap(ctx, plaintext, nil)
	require.NoError(t, err)

	require.NotNil(t, created.Record.ExpiresAt)
	assert.WithinDuration(t, before.Add(24*time.Hour), *created.Record.ExpiresAt, 5*time.Second)
	assert.True(t, created.Record.IsAdmin())
}

func TestBootstrap_HonorsShorterConfiguredTTL(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(config.BootstrapConfig{Enabled: true, TTL: time.Hour})

	plaintext := "this-is-a-sufficiently-long-bootstrap-key-value"
	before := time.Now()
	created, err := svc.Bootstrap(ctx, plaintext, nil)
	require.NoError(t, err)

	require.NotNil(t, created.Record.ExpiresAt)
	assert.WithinDuration(t, before.Add(time.Hour), *created.Record.ExpiresAt, 5*time.Second)
}

func TestShouldBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		svc, _ := newTestService(config.BootstrapConfig{Enabled: false})
		ok, err := svc.ShouldBootstrap(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("recovery mode forces bootstrap", func(t *testing.T) {
		svc, store := newTestService(config.BootstrapConfig{Enabled: true, RecoveryMode: true})
		require.NoError(t, store.Store(ctx, adminRecord()))
		ok, err := svc.ShouldBootstrap(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("enabled with no admin key yet", func(t *testing.T) {
		svc, _ := newTestService(config.BootstrapConfig{Enabled: true})
		ok, err := svc.ShouldBootstrap(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("enabled but admin already exists", func(t *testing.T) {
		svc, store := newTestService(config.BootstrapConfig{Enabled: true})
		require.NoError(t, store.Store(ctx, adminRecord()))
		ok, err := svc.ShouldBootstrap(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func adminRecord() repository.APIKeyRecord {
	return repository.APIKeyRecord{
		KeyID: "deadbeef", Hash: "hash", Permissions: []string{"*"}, CreatedAt: time.Now(),
	}
}
