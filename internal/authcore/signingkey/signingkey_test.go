package signingkey

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

func testConfig() config.KeyRotationConfig {
	return config.KeyRotationConfig{
		Enabled:              true,
		KeySize:              1024,
		GracePeriod:          5 * time.Minute,
		DeprecationPeriod:    24 * time.Hour,
		RetentionPeriod:      168 * time.Hour,
		CacheRefreshInterval: time.Minute,
	}
}

func TestGenerateKey_StartsPending(t *testing.T) {
	ctx := context.Background()
	m := New(memory.NewSigningKeyStore(), testConfig())

	rec, err := m.GenerateKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, repository.KeyPending, rec.Status)
	assert.Equal(t, "RS256", rec.Algorithm)
	assert.NotEmpty(t, rec.PrivateKeyPEM)
	assert.NotEmpty(t, rec.PublicKeyPEM)
	assert.Regexp(t, `^k-\d{4}-q[1-4]-[0-9a-f]{8}$`, rec.KeyID)
}

func TestActivate_PromotesPendingAndDeprecatesPriorActive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSigningKeyStore()
	m := New(store, testConfig())

	first, err := m.GenerateKey(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, first.KeyID))

	second, err := m.GenerateKey(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, second.KeyID))

	updatedFirst, err := store.FindByID(ctx, first.KeyID)
	require.NoError(t, err)
	assert.Equal(t, repository.KeyDeprecated, updatedFirst.Status)

	active, err := store.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.KeyID, active.KeyID)
}

func TestActivate_RejectsNonPendingKey(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSigningKeyStore()
	m := New(store, testConfig())

	rec, err := m.GenerateKey(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, rec.KeyID))

	err = m.Activate(ctx, rec.KeyID)
	require.Error(t, err)
}

func TestActivate_RejectsUnknownKey(t *testing.T) {
	ctx := context.Background()
	m := New(memory.NewSigningKeyStore(), testConfig())

	err := m.Activate(ctx, "does-not-exist")
	require.Error(t, err)
}

func TestCurrent_FailsWithNoActiveKey(t *testing.T) {
	ctx := context.Background()
	m := New(memory.NewSigningKeyStore(), testConfig())

	_, err := m.Current(ctx)
	require.Error(t, err)
}

func TestCurrent_ReflectsActivation(t *testing.T) {
	ctx := context.Background()
	m := New(memory.NewSigningKeyStore(), testConfig())

	rec, err := m.GenerateKey(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, rec.KeyID))

	snap, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, snap.Active.KeyID)
}

func TestRotate_ActivatesImmediatelyWhenGracePeriodIsZero(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.GracePeriod = 0
	m := New(memory.NewSigningKeyStore(), cfg)

	rec, err := m.Rotate(ctx)
	require.NoError(t, err)

	snap, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, snap.Active.KeyID)
}

func TestRotate_LeavesKeyPendingWhenGracePeriodSet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSigningKeyStore()
	m := New(store, testConfig())

	rec, err := m.Rotate(ctx)
	require.NoError(t, err)

	stored, err := store.FindByID(ctx, rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, repository.KeyPending, stored.Status)
}

func TestTriggerRotation_BypassesGracePeriod(t *testing.T) {
	ctx := context.Background()
	m := New(memory.NewSigningKeyStore(), testConfig())

	rec, err := m.TriggerRotation(ctx, "manual ops request")
	require.NoError(t, err)

	snap, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, snap.Active.KeyID)
}

func TestTriggerRotation_RejectsWhenDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Enabled = false
	m := New(memory.NewSigningKeyStore(), cfg)

	_, err := m.TriggerRotation(ctx, "reason")
	require.Error(t, err)
}

func TestProcessLifecycle_PromotesPendingPastGracePeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSigningKeyStore()
	cfg := testConfig()
	cfg.GracePeriod = 0 // grace already elapsed for any stored key
	m := New(store, cfg)

	rec, err := m.GenerateKey(ctx)
	require.NoError(t, err)

	require.NoError(t, m.ProcessLifecycle(ctx))

	stored, err := store.FindByID(ctx, rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, repository.KeyActive, stored.Status)
}

func TestProcessLifecycle_RetiresDeprecatedPastDeprecationPeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSigningKeyStore()
	m := New(store, testConfig())

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Store(ctx, repository.SigningKeyRecord{
		KeyID: "deprecated-key", Algorithm: "RS256", Status: repository.KeyDeprecated,
		CreatedAt: past, DeprecatedAt: &past,
	}))

	require.NoError(t, m.ProcessLifecycle(ctx))

	stored, err := store.FindByID(ctx, "deprecated-key")
	require.NoError(t, err)
	assert.Equal(t, repository.KeyRetired, stored.Status)
}

func TestProcessLifecycle_DeletesRetiredPastRetentionPeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSigningKeyStore()
	m := New(store, testConfig())

	past := time.Now().Add(-200 * time.Hour)
	require.NoError(t, store.Store(ctx, repository.SigningKeyRecord{
		KeyID: "retired-key", Algorithm: "RS256", Status: repository.KeyRetired,
		CreatedAt: past, RetiredAt: &past,
	}))

	require.NoError(t, m.ProcessLifecycle(ctx))

	stored, err := store.FindByID(ctx, "retired-key")
	require.NoError(t, err)
	assert.Nil(t, stored)
}
