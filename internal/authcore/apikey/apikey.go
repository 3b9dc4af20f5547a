// Package apikey implements the API key service and one-time bootstrap flow
// (spec.md §4.7). Plaintext keys are never stored: only a SHA-256 hash
// persists, following the same hash-don't-store-the-secret approach
// gourdiantoken-master uses for tokens (hashToken in its repository layer).
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

// Created is returned once from Create/CreateWithKey: the only moment the
// plaintext key is visible.
type Created struct {
	KeyID     string
	Plaintext string
	Record    repository.APIKeyRecord
}

// Service implements create/validate/revoke plus the bootstrap flow.
type Service struct {
	cfg  config.BootstrapConfig
	repo repository.ApiKeyRepository
}

func New(cfg config.BootstrapConfig, repo repository.ApiKeyRepository) *Service {
	return &Service{cfg: cfg, repo: repo}
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create generates a fresh 32-byte random plaintext key and an independent
// 8-hex keyId, per spec.md §4.7.
func (s *Service) Create(ctx context.Context, name, description string, permissions []string, createdBy string, ttl *time.Duration, maxTTL *time.Duration) (*Created, error) {
	plaintext, err := randomURLSafe(32)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "generate api key", err)
	}
	return s.CreateWithKey(ctx, plaintext, name, description, permissions, createdBy, ttl, maxTTL)
}

// CreateWithKey stores rec under a caller-supplied plaintext, used by
// Bootstrap for the operator-supplied admin key.
func (s *Service) CreateWithKey(ctx context.Context, plaintext, name, description string, permissions []string, createdBy string, ttl *time.Duration, maxTTL *time.Duration) (*Created, error) {
	expiresAt, err := resolveExpiry(ttl, maxTTL)
	if err != nil {
		return nil, err
	}

	var idBytes [4]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "generate key id", err)
	}
	keyID := hex.EncodeToString(idBytes[:])

	rec := repository.APIKeyRecord{
		KeyID:       keyID,
		Hash:        hashKey(plaintext),
		Name:        name,
		Description: description,
		Permissions: permissions,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}

	if err := s.repo.Store(ctx, rec); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "store api key", err)
	}

	return &Created{KeyID: keyID, Plaintext: plaintext, Record: rec}, nil
}

// resolveExpiry implements the TTL policy in spec.md §4.7: if a max TTL is
// configured, nil TTL is rejected and any requested TTL must be <= max;
// otherwise nil means no expiration.
func resolveExpiry(ttl, maxTTL *time.Duration) (*time.Time, error) {
	if maxTTL != nil {
		if ttl == nil {
			return nil, autherr.New(autherr.ValidationFailure, "ttl is required when a max ttl is configured")
		}
		if *ttl > *maxTTL {
			return nil, autherr.New(autherr.ValidationFailure, "requested ttl exceeds max ttl")
		}
	}
	if ttl == nil {
		return nil, nil
	}
	expires := time.Now().Add(*ttl)
	return &expires, nil
}

// Validate hashes plaintext and looks it up, returning the record iff it
// exists and is currently valid (not revoked, not expired).
func (s *Service) Validate(ctx context.Context, plaintext string) (*repository.APIKeyRecord, error) {
	rec, err := s.repo.FindByHash(ctx, hashKey(plaintext))
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find api key by hash", err)
	}
	if rec == nil || !rec.IsValid(time.Now()) {
		return nil, autherr.New(autherr.AuthInvalid, "api key invalid or expired")
	}
	return rec, nil
}

// Revoke marks keyID revoked.
func (s *Service) Revoke(ctx context.Context, keyID string) error {
	if err := s.repo.Revoke(ctx, keyID); err != nil {
		return autherr.Wrap(autherr.Transient, "revoke api key", err)
	}
	return nil
}

// ShouldBootstrap reports whether the one-time bootstrap flow should run:
// bootstrap is enabled AND (recovery mode OR no admin key exists yet).
func (s *Service) ShouldBootstrap(ctx context.Context) (bool, error) {
	if !s.cfg.Enabled {
		return false, nil
	}
	if s.cfg.RecoveryMode {
		return true, nil
	}
	admin, err := s.repo.FindAdmin(ctx)
	if err != nil {
		return false, autherr.Wrap(autherr.Transient, "find admin key", err)
	}
	return admin == nil, nil
}

// Bootstrap creates the initial admin API key from an operator-supplied
// plaintext (>= 32 chars), clamping the requested TTL to at most 24 hours.
// Keys are never auto-generated for bootstrap (spec.md §4.7).
func (s *Service) Bootstrap(ctx context.Context, plaintext string, requestedTTL *time.Duration) (*Created, error) {
	if len(plaintext) < 32 {
		return nil, autherr.New(autherr.ValidationFailure, "bootstrap key must be at least 32 characters")
	}

	const hardCap = 24 * time.Hour
	maxTTL := hardCap
	if s.cfg.TTL > 0 && s.cfg.TTL < hardCap {
		maxTTL = s.cfg.TTL
	}
	ttl := maxTTL
	if requestedTTL != nil && *requestedTTL < maxTTL {
		ttl = *requestedTTL
	}

	return s.CreateWithKey(ctx, plaintext, "bootstrap-admin", "bootstrap admin key", []string{"*"}, "bootstrap", &ttl, &maxTTL)
}
