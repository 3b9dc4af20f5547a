// Package pkce implements the PKCE (RFC 7636) challenge store described in
// spec.md §4.8. Only the S256 method is supported; plain is rejected
// outright since it defeats the point of the challenge.
package pkce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

// Service implements generateVerifier/challenge/storeChallenge/verifyChallenge.
type Service struct {
	cfg  config.PkceConfig
	repo repository.PkceChallengeRepository
}

func New(cfg config.PkceConfig, repo repository.PkceChallengeRepository) *Service {
	return &Service{cfg: cfg, repo: repo}
}

// GenerateVerifier produces 64 random bytes, URL-safe-base64 unpadded.
func GenerateVerifier() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", autherr.Wrap(autherr.Transient, "generate pkce verifier", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Challenge computes BASE64URL(SHA-256(verifier)), the S256 PKCE transform.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// StoreChallenge rejects blank inputs and stores the challenge under state
// with the configured TTL (spec.md §4.8).
func (s *Service) StoreChallenge(ctx context.Context, state, challenge string) error {
	if state == "" || challenge == "" {
		return autherr.New(autherr.ValidationFailure, "pkce state and challenge must not be blank")
	}

	ttl := s.cfg.ChallengeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	if err := s.repo.Store(ctx, repository.PkceChallenge{
		State:     state,
		Challenge: challenge,
		ExpiresAt: time.Now().Add(ttl),
	}); err != nil {
		return autherr.Wrap(autherr.Transient, "store pkce challenge", err)
	}
	return nil
}

// VerifyChallenge atomically consumes the stored challenge for state and
// reports whether it existed, was unexpired, and matches verifier. Any
// absence or mismatch returns false; this method never returns an error for
// a failed match, only for backing-store faults.
func (s *Service) VerifyChallenge(ctx context.Context, state, verifier string) (bool, error) {
	stored, err := s.repo.ConsumeChallenge(ctx, state)
	if err != nil {
		return false, autherr.Wrap(autherr.Transient, "consume pkce challenge", err)
	}
	if stored == nil {
		return false, nil
	}
	if time.Now().After(stored.ExpiresAt) {
		return false, nil
	}
	return Challenge(verifier) == stored.Challenge, nil
}
