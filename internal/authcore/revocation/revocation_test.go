package revocation

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

func testConfig() config.RevocationConfig {
	return config.RevocationConfig{
		Enabled:             true,
		CheckThreshold:       5 * time.Second,
		CheckUserRevocation:  true,
		BloomFilter: config.BloomFilterConfig{
			Enabled:                  true,
			ExpectedInsertions:       1000,
			FalsePositiveProbability: 0.001,
			RebuildInterval:          time.Hour,
		},
		Cache: config.RevocationCacheConfig{
			Enabled: true,
			MaxSize: 100,
			TTL:     10 * time.Minute,
		},
	}
}

func TestIsRevoked_DisabledServiceAlwaysAllows(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, memory.NewRevocationStore(), memory.NoopPublisher{})

	revoked, err := s.IsRevoked(context.Background(), "jti-1", "user-1", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestIsRevoked_TTLShortcutSkipsRevokedTokenNearExpiry(t *testing.T) {
	s := New(testConfig(), memory.NewRevocationStore(), memory.NoopPublisher{})
	ctx := context.Background()

	exp := time.Now().Add(2 * time.Second)
	require.NoError(t, s.RevokeJti(ctx, "jti-expiring", exp))

	revoked, err := s.IsRevoked(ctx, "jti-expiring", "", time.Now(), exp)
	require.NoError(t, err)
	assert.False(t, revoked, "tokens within the TTL threshold are treated as not worth checking")
}

func TestIsRevoked_UninitializedBloomFilterConservativelyReportsRevoked(t *testing.T) {
	s := New(testConfig(), memory.NewRevocationStore(), memory.NoopPublisher{})

	revoked, err := s.IsRevoked(context.Background(), "jti-1", "user-1", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, revoked, "an unrebuilt bloom filter must fail closed")
}

func TestIsRevoked_RebuiltEmptyBloomFilterShortCircuitsToClear(t *testing.T) {
	ctx := context.Background()
	s := New(testConfig(), memory.NewRevocationStore(), memory.NoopPublisher{})

	require.NoError(t, s.Rebuild(ctx))

	revoked, err := s.IsRevoked(ctx, "jti-unknown", "user-unknown", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeJti_MakesTokenImmediatelyVisibleAsRevoked(t *testing.T) {
	ctx := context.Background()
	s := New(testConfig(), memory.NewRevocationStore(), memory.NoopPublisher{})
	require.NoError(t, s.Rebuild(ctx))

	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.RevokeJti(ctx, "jti-revoked", exp))

	revoked, err := s.IsRevoked(ctx, "jti-revoked", "", time.Now(), exp)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevokeUser_MakesPriorTokensImmediatelyVisibleAsRevoked(t *testing.T) {
	ctx := context.Background()
	s := New(testConfig(), memory.NewRevocationStore(), memory.NoopPublisher{})
	require.NoError(t, s.Rebuild(ctx))

	issuedBefore := time.Now()
	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.RevokeUser(ctx, "user-1", issuedBefore, exp))

	iat := issuedBefore.Add(-time.Minute)
	revoked, err := s.IsRevoked(ctx, "jti-2", "user-1", iat, exp)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIsRevoked_TokenIssuedAfterUserRevocationCutoffStaysValid(t *testing.T) {
	ctx := context.Background()
	s := New(testConfig(), memory.NewRevocationStore(), memory.NoopPublisher{})
	require.NoError(t, s.Rebuild(ctx))

	issuedBefore := time.Now()
	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.RevokeUser(ctx, "user-1", issuedBefore, exp))

	iat := issuedBefore.Add(time.Minute)
	revoked, err := s.IsRevoked(ctx, "jti-fresh", "user-1", iat, exp)
	require.NoError(t, err)
	assert.False(t, revoked, "bloom filter for the user is set, but the repository tier must discriminate by issuedAt")
}

func TestIsRevoked_RepositoryTierFallsThroughWhenBloomDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.BloomFilter.Enabled = false
	cfg.Cache.Enabled = false
	store := memory.NewRevocationStore()
	s := New(cfg, store, memory.NoopPublisher{})

	exp := time.Now().Add(time.Hour)
	require.NoError(t, store.Revoke(ctx, "jti-direct", exp))

	revoked, err := s.IsRevoked(ctx, "jti-direct", "", time.Now(), exp)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIsRevoked_NotRevokedPassesAllTiersCleanly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.BloomFilter.Enabled = false
	s := New(cfg, memory.NewRevocationStore(), memory.NoopPublisher{})

	revoked, err := s.IsRevoked(ctx, "jti-clean", "user-clean", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, revoked)
}

type capturingPublisher struct {
	events chan repository.RevocationEvent
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{events: make(chan repository.RevocationEvent, 4)}
}

func (p *capturingPublisher) PublishJtiRevoked(ctx context.Context, jti string, expiresAt time.Time) error {
	return nil
}

func (p *capturingPublisher) PublishUserRevoked(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	return nil
}

func (p *capturingPublisher) Subscribe(ctx context.Context) (<-chan repository.RevocationEvent, error) {
	return p.events, nil
}

func TestRunSubscriber_AppliesRemoteJtiRevocationToLocalFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.PubSub.Enabled = true
	pub := newCapturingPublisher()
	s := New(cfg, memory.NewRevocationStore(), pub)
	require.NoError(t, s.Rebuild(ctx))

	done := make(chan error, 1)
	go func() { done <- s.RunSubscriber(ctx) }()

	exp := time.Now().Add(time.Hour)
	pub.events <- repository.RevocationEvent{Type: "jti_revoked", Jti: "jti-remote", ExpiresAt: exp}

	require.Eventually(t, func() bool {
		revoked, err := s.IsRevoked(ctx, "jti-remote", "", time.Now(), exp)
		return err == nil && revoked
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunSubscriber_ReturnsImmediatelyWhenPublisherNil(t *testing.T) {
	s := New(testConfig(), memory.NewRevocationStore(), nil)
	require.NoError(t, s.RunSubscriber(context.Background()))
}
