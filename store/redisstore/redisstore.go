// Package redisstore implements the repository interfaces best suited to
// Redis's TTL-native key-value model: revocation (tier-3 authoritative
// store plus cross-instance pub/sub) and the rate-limit/lockout counters.
//
// Key layout and the SET-with-EX / INCR-with-EXPIRE idioms follow
// gourdiantoken-master's gourdiantoken.repository.redis.imp.go almost
// directly, generalized from fixed access/refresh token prefixes to the
// auth core's jti/user/lockout key namespaces. Connection setup reuses
// third_party/cache's RedisClient wrapper.
package redisstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

const (
	revokedJtiPrefix  = "aussie:revoked:jti:"
	revokedUserPrefix = "aussie:revoked:user:"
	attemptPrefix     = "aussie:attempt:"
	lockoutPrefix     = "aussie:lockout:"
	lockoutCountKey   = "aussie:lockout-count:"
	pkcePrefix        = "aussie:pkce:"

	// minRedisTTL avoids millisecond-precision race conditions on very
	// short TTLs, the same floor gourdiantoken-master's redis repository
	// applies before calling SET...EX.
	minRedisTTL = 100 * time.Millisecond
)

func clampTTL(d time.Duration) time.Duration {
	if d < minRedisTTL {
		return minRedisTTL
	}
	return d
}

// RevocationStore implements repository.TokenRevocationRepository over Redis.
type RevocationStore struct {
	client *redis.Client
}

func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client}
}

func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedJtiPrefix+jti).Result()
	if err != nil {
		return false, autherr.Wrap(autherr.Transient, "redis exists jti", err)
	}
	return n > 0, nil
}

type userRevocationPayload struct {
	IssuedBefore int64 `json:"issued_before"`
}

func (s *RevocationStore) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	raw, err := s.client.Get(ctx, revokedUserPrefix+userID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, autherr.Wrap(autherr.Transient, "redis get user revocation", err)
	}
	var payload userRevocationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, autherr.Wrap(autherr.Transient, "decode user revocation", err)
	}
	return issuedAt.Unix() < payload.IssuedBefore, nil
}

func (s *RevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := clampTTL(time.Until(expiresAt))
	if err := s.client.Set(ctx, revokedJtiPrefix+jti, expiresAt.Unix(), ttl).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "redis set jti revocation", err)
	}
	return nil
}

func (s *RevocationStore) RevokeAllForUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	payload, err := json.Marshal(userRevocationPayload{IssuedBefore: issuedBefore.Unix()})
	if err != nil {
		return autherr.Wrap(autherr.Transient, "encode user revocation", err)
	}
	ttl := clampTTL(time.Until(expiresAt))
	if err := s.client.Set(ctx, revokedUserPrefix+userID, payload, ttl).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "redis set user revocation", err)
	}
	return nil
}

// StreamAllRevokedJtis scans the revoked-jti keyspace for bloom-filter
// rebuilds, mirroring the SCAN-based enumeration gourdiantoken-master's
// redis repository uses for cleanup passes.
func (s *RevocationStore) StreamAllRevokedJtis(ctx context.Context) (<-chan repository.JtiRevocation, error) {
	ch := make(chan repository.JtiRevocation)
	go func() {
		defer close(ch)
		iter := s.client.Scan(ctx, 0, revokedJtiPrefix+"*", 1000).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			ttl, err := s.client.TTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				continue
			}
			jti := key[len(revokedJtiPrefix):]
			select {
			case ch <- repository.JtiRevocation{Jti: jti, ExpiresAt: time.Now().Add(ttl)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *RevocationStore) StreamAllRevokedUsers(ctx context.Context) (<-chan repository.UserRevocation, error) {
	ch := make(chan repository.UserRevocation)
	go func() {
		defer close(ch)
		iter := s.client.Scan(ctx, 0, revokedUserPrefix+"*", 1000).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			raw, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var payload userRevocationPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				continue
			}
			ttl, err := s.client.TTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				continue
			}
			userID := key[len(revokedUserPrefix):]
			select {
			case ch <- repository.UserRevocation{
				UserID:       userID,
				IssuedBefore: time.Unix(payload.IssuedBefore, 0),
				ExpiresAt:    time.Now().Add(ttl),
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Publisher implements repository.RevocationEventPublisher over a Redis
// pub/sub channel, generalizing go-redis's PubSub client from the teacher's
// point-lookup usage (third_party/cache) to a fan-out broadcast.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = "aussie:revocations"
	}
	return &Publisher{client: client, channel: channel}
}

type wireEvent struct {
	Type         string `json:"type"`
	Jti          string `json:"jti,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	IssuedBefore int64  `json:"issued_before,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (p *Publisher) PublishJtiRevoked(ctx context.Context, jti string, expiresAt time.Time) error {
	payload, _ := json.Marshal(wireEvent{Type: "jti_revoked", Jti: jti, ExpiresAt: expiresAt.Unix()})
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "publish jti revocation", err)
	}
	return nil
}

func (p *Publisher) PublishUserRevoked(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	payload, _ := json.Marshal(wireEvent{
		Type: "user_revoked", UserID: userID,
		IssuedBefore: issuedBefore.Unix(), ExpiresAt: expiresAt.Unix(),
	})
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "publish user revocation", err)
	}
	return nil
}

func (p *Publisher) Subscribe(ctx context.Context) (<-chan repository.RevocationEvent, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	redisCh := sub.Channel()
	out := make(chan repository.RevocationEvent)

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				var evt wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				out <- repository.RevocationEvent{
					Type:         evt.Type,
					Jti:          evt.Jti,
					UserID:       evt.UserID,
					IssuedBefore: time.Unix(evt.IssuedBefore, 0),
					ExpiresAt:    time.Unix(evt.ExpiresAt, 0),
				}
			}
		}
	}()

	return out, nil
}

// AttemptStore implements repository.FailedAttemptRepository over Redis
// INCR+EXPIRE counters and SET+EX lockout records, the teacher's TTL-key
// idiom generalized from token-rotation bookkeeping to auth attempts.
type AttemptStore struct {
	client *redis.Client
}

func NewAttemptStore(client *redis.Client) *AttemptStore {
	return &AttemptStore{client: client}
}

func (s *AttemptStore) IncrementAttempt(ctx context.Context, key string, window time.Duration) (int, error) {
	redisKey := attemptPrefix + key
	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, autherr.Wrap(autherr.Transient, "incr failed attempt", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, redisKey, clampTTL(window)).Err(); err != nil {
			return 0, autherr.Wrap(autherr.Transient, "expire failed attempt window", err)
		}
	}
	return int(count), nil
}

func (s *AttemptStore) ResetAttempts(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, attemptPrefix+key).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "reset failed attempts", err)
	}
	return nil
}

type lockoutPayload struct {
	LockedAt     int64  `json:"locked_at"`
	ExpiresAt    int64  `json:"expires_at"`
	Reason       string `json:"reason"`
	LockoutCount int    `json:"lockout_count"`
}

func (s *AttemptStore) GetLockout(ctx context.Context, key string) (*repository.Lockout, error) {
	raw, err := s.client.Get(ctx, lockoutPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "get lockout", err)
	}
	var p lockoutPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "decode lockout", err)
	}
	return &repository.Lockout{
		Key: key, LockedAt: time.Unix(p.LockedAt, 0), ExpiresAt: time.Unix(p.ExpiresAt, 0),
		Reason: p.Reason, LockoutCount: p.LockoutCount,
	}, nil
}

func (s *AttemptStore) PutLockout(ctx context.Context, key string, lockout repository.Lockout) error {
	payload, _ := json.Marshal(lockoutPayload{
		LockedAt: lockout.LockedAt.Unix(), ExpiresAt: lockout.ExpiresAt.Unix(),
		Reason: lockout.Reason, LockoutCount: lockout.LockoutCount,
	})
	ttl := clampTTL(time.Until(lockout.ExpiresAt))
	if err := s.client.Set(ctx, lockoutPrefix+key, payload, ttl).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "put lockout", err)
	}
	// The lockout counter outlives the lockout's own TTL so progressive
	// durations keep escalating across repeat offenses.
	if err := s.client.Set(ctx, lockoutCountKey+key, strconv.Itoa(lockout.LockoutCount), 0).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "put lockout count", err)
	}
	return nil
}

func (s *AttemptStore) ClearLockout(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockoutPrefix+key).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "clear lockout", err)
	}
	return nil
}

func (s *AttemptStore) LockoutCount(ctx context.Context, key string) (int, error) {
	raw, err := s.client.Get(ctx, lockoutCountKey+key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, autherr.Wrap(autherr.Transient, "get lockout count", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, autherr.Wrap(autherr.Transient, "parse lockout count", err)
	}
	return n, nil
}

// PkceStore implements repository.PkceChallengeRepository with Redis's GETDEL
// for the atomic one-time-use consume spec.md §5 requires.
type PkceStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPkceStore(client *redis.Client) *PkceStore {
	return &PkceStore{client: client}
}

func (s *PkceStore) Store(ctx context.Context, challenge repository.PkceChallenge) error {
	payload, _ := json.Marshal(challenge)
	ttl := clampTTL(time.Until(challenge.ExpiresAt))
	if err := s.client.Set(ctx, pkcePrefix+challenge.State, payload, ttl).Err(); err != nil {
		return autherr.Wrap(autherr.Transient, "store pkce challenge", err)
	}
	return nil
}

func (s *PkceStore) ConsumeChallenge(ctx context.Context, state string) (*repository.PkceChallenge, error) {
	raw, err := s.client.GetDel(ctx, pkcePrefix+state).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "consume pkce challenge", err)
	}
	var c repository.PkceChallenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "decode pkce challenge", err)
	}
	return &c, nil
}
