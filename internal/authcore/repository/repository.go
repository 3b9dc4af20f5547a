// Package repository defines the persistence contracts the auth core
// consumes. The core itself never talks to a database directly — it is
// handed implementations of these interfaces by the embedding host. See
// store/ for reference adapters (in-memory, Redis, Postgres/GORM, Mongo).
//
// All methods are context-aware and may suspend (spec.md §5): no
// implementation may block a calling goroutine indefinitely without
// observing ctx cancellation.
package repository

import (
	"context"
	"time"
)

// KeyStatus is the lifecycle state of a signing key record.
type KeyStatus string

const (
	KeyPending    KeyStatus = "PENDING"
	KeyActive     KeyStatus = "ACTIVE"
	KeyDeprecated KeyStatus = "DEPRECATED"
	KeyRetired    KeyStatus = "RETIRED"
)

// SigningKeyRecord is the persisted form of an internal JWS signing key.
type SigningKeyRecord struct {
	KeyID         string
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
	Algorithm     string
	Status        KeyStatus
	CreatedAt     time.Time
	ActivatedAt   *time.Time
	DeprecatedAt  *time.Time
	RetiredAt     *time.Time
}

// SigningKeyRepository persists internal JWS signing keys (spec.md §6).
type SigningKeyRepository interface {
	Store(ctx context.Context, rec SigningKeyRecord) error
	FindActive(ctx context.Context) (*SigningKeyRecord, error)
	FindByID(ctx context.Context, id string) (*SigningKeyRecord, error)
	FindByStatus(ctx context.Context, status KeyStatus) ([]SigningKeyRecord, error)
	FindAll(ctx context.Context) ([]SigningKeyRecord, error)
	// FindAllForVerification returns ACTIVE and DEPRECATED keys only.
	FindAllForVerification(ctx context.Context) ([]SigningKeyRecord, error)
	UpdateStatus(ctx context.Context, id string, status KeyStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// TokenRevocationRepository is the authoritative (tier-3) revocation store.
type TokenRevocationRepository interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error
	// StreamAllRevokedJtis feeds bloom-filter/cache rebuilds on startup.
	StreamAllRevokedJtis(ctx context.Context) (<-chan JtiRevocation, error)
	StreamAllRevokedUsers(ctx context.Context) (<-chan UserRevocation, error)
}

// JtiRevocation is one row streamed for bloom-filter/cache rebuild.
type JtiRevocation struct {
	Jti       string
	ExpiresAt time.Time
}

// UserRevocation is one row streamed for bloom-filter/cache rebuild.
type UserRevocation struct {
	UserID       string
	IssuedBefore time.Time
	ExpiresAt    time.Time
}

// RevocationEvent is the pub/sub wire payload for cross-instance invalidation.
type RevocationEvent struct {
	Type         string // "jti_revoked" | "user_revoked"
	Jti          string
	UserID       string
	IssuedBefore time.Time
	ExpiresAt    time.Time
}

// RevocationEventPublisher fans revocation events out to other instances.
type RevocationEventPublisher interface {
	PublishJtiRevoked(ctx context.Context, jti string, expiresAt time.Time) error
	PublishUserRevoked(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error
	Subscribe(ctx context.Context) (<-chan RevocationEvent, error)
}

// APIKeyRecord is the persisted form of an API key (plaintext never stored).
type APIKeyRecord struct {
	KeyID       string
	Hash        string
	Name        string
	Description string
	Permissions []string
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Revoked     bool
}

func (r APIKeyRecord) IsValid(now time.Time) bool {
	if r.Revoked {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// IsAdmin reports whether this key carries the wildcard or any canonical
// admin permission (spec.md §4.7, §GLOSSARY "Admin key").
func (r APIKeyRecord) IsAdmin() bool {
	for _, p := range r.Permissions {
		if p == "*" {
			return true
		}
		for _, admin := range AdminPermissions {
			if p == admin {
				return true
			}
		}
	}
	return false
}

// AdminPermissions are the canonical configuration-management permissions
// that make an API key an "admin key" alongside the wildcard.
var AdminPermissions = []string{"config:create", "config:update", "config:delete", "aussie:admin"}

// ApiKeyRepository persists API keys by their hash.
type ApiKeyRepository interface {
	Store(ctx context.Context, rec APIKeyRecord) error
	FindByHash(ctx context.Context, hash string) (*APIKeyRecord, error)
	FindByKeyID(ctx context.Context, keyID string) (*APIKeyRecord, error)
	FindAdmin(ctx context.Context) (*APIKeyRecord, error)
	Revoke(ctx context.Context, keyID string) error
}

// FailedAttemptRepository tracks the rate-limit/lockout counters and records.
type FailedAttemptRepository interface {
	IncrementAttempt(ctx context.Context, key string, window time.Duration) (count int, err error)
	ResetAttempts(ctx context.Context, key string) error
	GetLockout(ctx context.Context, key string) (*Lockout, error)
	// PutLockout stores/overwrites a lockout, recording lockout.LockoutCount
	// as the key's lockout count; callers pass the already-incremented value.
	PutLockout(ctx context.Context, key string, lockout Lockout) error
	ClearLockout(ctx context.Context, key string) error
	// LockoutCount returns the monotonically increasing per-key lockout
	// counter used to compute progressive durations.
	LockoutCount(ctx context.Context, key string) (int, error)
}

// Lockout is a stored lockout record.
type Lockout struct {
	Key          string
	LockedAt     time.Time
	ExpiresAt    time.Time
	Reason       string
	LockoutCount int
}

// PkceChallenge is a stored, single-use code challenge.
type PkceChallenge struct {
	State     string
	Challenge string
	ExpiresAt time.Time
}

// PkceChallengeRepository must provide an atomic "get and delete" for
// one-time-use semantics (spec.md §5).
type PkceChallengeRepository interface {
	Store(ctx context.Context, challenge PkceChallenge) error
	// ConsumeChallenge atomically retrieves and deletes the stored challenge.
	ConsumeChallenge(ctx context.Context, state string) (*PkceChallenge, error)
}

// Role is a named bundle of permissions (spec.md §3 "Role/Group").
type Role struct {
	ID          string
	DisplayName string
	Description string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleRepository persists roles.
type RoleRepository interface {
	Store(ctx context.Context, role Role) error
	FindByID(ctx context.Context, id string) (*Role, error)
	FindAll(ctx context.Context) ([]Role, error)
	Delete(ctx context.Context, id string) error
}

// Group mirrors Role but is the encryption-at-rest example record
// (spec.md §4.12 mentions "sensitive records (e.g., groups)").
type Group struct {
	ID          string
	DisplayName string
	Description string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GroupRepository persists groups, typically behind the encryption helper.
type GroupRepository interface {
	Store(ctx context.Context, id string, encrypted []byte) error
	FindByID(ctx context.Context, id string) ([]byte, error)
	FindAll(ctx context.Context) (map[string][]byte, error)
	Delete(ctx context.Context, id string) error
}

// TranslationConfigRecord is a stored claims-translation provider binding.
type TranslationConfigRecord struct {
	Provider string
	Settings map[string]string
}

// TranslationConfigRepository persists per-provider claims translation config.
type TranslationConfigRepository interface {
	FindByProvider(ctx context.Context, provider string) (*TranslationConfigRecord, error)
	FindAll(ctx context.Context) ([]TranslationConfigRecord, error)
}
