// Package ratelimit implements the auth rate-limit / progressive lockout
// service described in spec.md §4.6. Keys are built from two independent
// axes — ip:<addr> and one of user:<identifier> or apikey:<prefix> — each
// checked and recorded independently, with the more severe outcome winning.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

// CheckOutcome is the sum-type result of CheckAuthLimit.
type CheckOutcome struct {
	Blocked           bool
	Key               string
	RetryAfterSeconds int64
	LockoutExpiry     time.Time
}

// RecordOutcome is the sum-type result of RecordFailedAttempt.
type RecordOutcome struct {
	Locked            bool
	Key               string
	Attempts          int
	Remaining         int
	RetryAfterSeconds int64
	LockoutExpiry     time.Time
}

// Service implements checkAuthLimit/recordFailedAttempt/clearFailedAttempts/
// clearLockout. A disabled service always allows.
type Service struct {
	cfg  config.RateLimitConfig
	repo repository.FailedAttemptRepository
}

func New(cfg config.RateLimitConfig, repo repository.FailedAttemptRepository) *Service {
	return &Service{cfg: cfg, repo: repo}
}

func ipKey(ip string) string         { return fmt.Sprintf("ip:%s", ip) }
func identKey(id string) string      { return fmt.Sprintf("user:%s", id) }
func apiKeyKey(prefix string) string { return fmt.Sprintf("apikey:%s", prefix) }

// CheckAuthLimit checks the IP key first, then the identifier key; the
// first blocking one short-circuits (spec.md §4.6).
func (s *Service) CheckAuthLimit(ctx context.Context, ip, identifier string) (CheckOutcome, error) {
	if !s.cfg.Enabled {
		return CheckOutcome{}, nil
	}

	if s.cfg.TrackByIP && ip != "" {
		outcome, err := s.checkKey(ctx, ipKey(ip))
		if err != nil {
			return CheckOutcome{}, err
		}
		if outcome.Blocked {
			return outcome, nil
		}
	}

	if s.cfg.TrackByIdentifier && identifier != "" {
		outcome, err := s.checkKey(ctx, identKey(identifier))
		if err != nil {
			return CheckOutcome{}, err
		}
		if outcome.Blocked {
			return outcome, nil
		}
	}

	return CheckOutcome{}, nil
}

func (s *Service) checkKey(ctx context.Context, key string) (CheckOutcome, error) {
	lockout, err := s.repo.GetLockout(ctx, key)
	if err != nil {
		return CheckOutcome{}, autherr.Wrap(autherr.Transient, "get lockout", err)
	}
	if lockout == nil || !time.Now().Before(lockout.ExpiresAt) {
		return CheckOutcome{}, nil
	}

	return CheckOutcome{
		Blocked:           true,
		Key:               key,
		RetryAfterSeconds: int64(time.Until(lockout.ExpiresAt).Seconds()),
		LockoutExpiry:     lockout.ExpiresAt,
	}, nil
}

// RecordFailedAttempt increments counters for every tracked axis; if either
// axis locks, the locked result is returned, else the one with the higher
// attempt count (spec.md §4.6).
func (s *Service) RecordFailedAttempt(ctx context.Context, ip, identifier, reason string) (RecordOutcome, error) {
	if !s.cfg.Enabled {
		return RecordOutcome{}, nil
	}

	var outcomes []RecordOutcome

	if s.cfg.TrackByIP && ip != "" {
		o, err := s.recordKey(ctx, ipKey(ip), reason)
		if err != nil {
			return RecordOutcome{}, err
		}
		outcomes = append(outcomes, o)
	}
	if s.cfg.TrackByIdentifier && identifier != "" {
		o, err := s.recordKey(ctx, identKey(identifier), reason)
		if err != nil {
			return RecordOutcome{}, err
		}
		outcomes = append(outcomes, o)
	}

	return mostSevere(outcomes), nil
}

// RecordFailedAPIKeyAttempt mirrors RecordFailedAttempt for the apikey:
// prefix axis, used when the caller authenticates with an API key rather
// than a user identifier.
func (s *Service) RecordFailedAPIKeyAttempt(ctx context.Context, ip, keyPrefix, reason string) (RecordOutcome, error) {
	if !s.cfg.Enabled {
		return RecordOutcome{}, nil
	}

	var outcomes []RecordOutcome
	if s.cfg.TrackByIP && ip != "" {
		o, err := s.recordKey(ctx, ipKey(ip), reason)
		if err != nil {
			return RecordOutcome{}, err
		}
		outcomes = append(outcomes, o)
	}
	if keyPrefix != "" {
		o, err := s.recordKey(ctx, apiKeyKey(keyPrefix), reason)
		if err != nil {
			return RecordOutcome{}, err
		}
		outcomes = append(outcomes, o)
	}
	return mostSevere(outcomes), nil
}

func mostSevere(outcomes []RecordOutcome) RecordOutcome {
	var best RecordOutcome
	found := false
	for _, o := range outcomes {
		if o.Locked {
			return o
		}
		if !found || o.Attempts > best.Attempts {
			best = o
			found = true
		}
	}
	return best
}

func (s *Service) recordKey(ctx context.Context, key, reason string) (RecordOutcome, error) {
	count, err := s.repo.IncrementAttempt(ctx, key, s.cfg.FailedAttemptWindow)
	if err != nil {
		return RecordOutcome{}, autherr.Wrap(autherr.Transient, "increment failed attempt", err)
	}

	max := s.cfg.MaxFailedAttempts
	if max <= 0 {
		max = 5
	}

	if count < max {
		remaining := max - count
		if remaining < 0 {
			remaining = 0
		}
		return RecordOutcome{Key: key, Attempts: count, Remaining: remaining}, nil
	}

	lockoutCount, err := s.repo.LockoutCount(ctx, key)
	if err != nil {
		return RecordOutcome{}, autherr.Wrap(autherr.Transient, "get lockout count", err)
	}

	duration := s.progressiveDuration(lockoutCount)
	expiresAt := time.Now().Add(duration)

	if err := s.repo.PutLockout(ctx, key, repository.Lockout{
		Key:          key,
		LockedAt:     time.Now(),
		ExpiresAt:    expiresAt,
		Reason:       reason,
		LockoutCount: lockoutCount + 1,
	}); err != nil {
		return RecordOutcome{}, autherr.Wrap(autherr.Transient, "put lockout", err)
	}

	logx.Infof("lockout triggered for %s: count=%d duration=%s reason=%s", key, lockoutCount+1, duration, reason)

	return RecordOutcome{
		Locked:            true,
		Key:               key,
		Attempts:          count,
		RetryAfterSeconds: int64(duration.Seconds()),
		LockoutExpiry:     expiresAt,
	}, nil
}

// progressiveDuration computes min(base * multiplier^lockoutCount, max),
// falling back to base when multiplier <= 1.0 (spec.md §4.6).
func (s *Service) progressiveDuration(lockoutCount int) time.Duration {
	base := s.cfg.LockoutDuration
	if base <= 0 {
		base = 15 * time.Minute
	}
	maxDuration := s.cfg.MaxLockoutDuration
	if maxDuration <= 0 {
		maxDuration = 24 * time.Hour
	}

	if s.cfg.ProgressiveLockoutMultiplier <= 1.0 {
		if base > maxDuration {
			return maxDuration
		}
		return base
	}

	scaled := float64(base) * math.Pow(s.cfg.ProgressiveLockoutMultiplier, float64(lockoutCount))
	if scaled > float64(maxDuration) {
		return maxDuration
	}
	return time.Duration(scaled)
}

// ClearFailedAttempts zeroes the counters for both axes on successful auth.
func (s *Service) ClearFailedAttempts(ctx context.Context, ip, identifier string) error {
	if !s.cfg.Enabled {
		return nil
	}
	if ip != "" {
		if err := s.repo.ResetAttempts(ctx, ipKey(ip)); err != nil {
			return autherr.Wrap(autherr.Transient, "reset ip attempts", err)
		}
	}
	if identifier != "" {
		if err := s.repo.ResetAttempts(ctx, identKey(identifier)); err != nil {
			return autherr.Wrap(autherr.Transient, "reset identifier attempts", err)
		}
	}
	return nil
}

// ClearLockout removes the lockout and resets the failed-attempt counter
// for key.
func (s *Service) ClearLockout(ctx context.Context, key string) error {
	if err := s.repo.ClearLockout(ctx, key); err != nil {
		return autherr.Wrap(autherr.Transient, "clear lockout", err)
	}
	if err := s.repo.ResetAttempts(ctx, key); err != nil {
		return autherr.Wrap(autherr.Transient, "reset attempts", err)
	}
	return nil
}
