// Package config holds the configuration surface the auth core recognizes.
// It mirrors the host-application convention of a root Config struct with
// nested per-concern sub-structs, loadable via go-zero's conf package
// (conf.MustLoad / conf.Load) from YAML, env, or flags.
package config

import "time"

// Config is the root configuration tree for the auth core. The embedding
// gateway process loads this (typically alongside its own rest.RestConf)
// and passes the relevant sub-structs to each component's constructor.
type Config struct {
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Revocation   RevocationConfig
	KeyRotation  KeyRotationConfig
	Jwks         JwksConfig
	Pkce         PkceConfig
	Issuance     IssuanceConfig
	Bootstrap    BootstrapConfig
	Encryption   EncryptionConfig
	Translation  TranslationConfig
	Providers    []ProviderConfig
}

// AuthConfig gates the auth pipeline globally.
type AuthConfig struct {
	Enabled bool `json:",default=true"`
	// DangerousNoop disables all token verification. Forbidden when Production
	// is true; checked at startup by the host, not per-request.
	DangerousNoop bool `json:",default=false"`
	Production    bool `json:",default=true"`
}

// ProviderConfig describes one external identity provider (spec.md §3
// "Token provider config"). Immutable once loaded.
type ProviderConfig struct {
	ID                 string            `json:",env=PROVIDER_ID"`
	Issuer             string            `json:",env=PROVIDER_ISSUER"`
	JwksURI            string            `json:",env=PROVIDER_JWKS_URI"`
	DiscoveryURI       string            `json:",optional"`
	Audiences          []string          `json:",optional"`
	KeyRefreshInterval time.Duration     `json:",default=15m"`
	ClaimsMapping      map[string]string `json:",optional"`
}

// RateLimitConfig drives the auth rate-limit / lockout service (spec.md §4.6).
type RateLimitConfig struct {
	Enabled                      bool          `json:",default=true"`
	MaxFailedAttempts            int           `json:",default=5"`
	FailedAttemptWindow          time.Duration `json:",default=15m"`
	LockoutDuration              time.Duration `json:",default=15m"`
	MaxLockoutDuration           time.Duration `json:",default=24h"`
	ProgressiveLockoutMultiplier float64       `json:",default=1.5"`
	TrackByIP                    bool          `json:",default=true"`
	TrackByIdentifier            bool          `json:",default=true"`
}

// RevocationConfig drives the multi-tier revocation subsystem (spec.md §4.5).
type RevocationConfig struct {
	Enabled             bool          `json:",default=true"`
	CheckThreshold       time.Duration `json:",default=5s"`
	CheckUserRevocation  bool          `json:",default=true"`
	BloomFilter          BloomFilterConfig
	Cache                RevocationCacheConfig
	PubSub               PubSubConfig
}

type BloomFilterConfig struct {
	Enabled                 bool          `json:",default=true"`
	ExpectedInsertions      uint          `json:",default=1000000"`
	FalsePositiveProbability float64      `json:",default=0.001"`
	RebuildInterval         time.Duration `json:",default=1h"`
}

type RevocationCacheConfig struct {
	Enabled bool          `json:",default=true"`
	MaxSize int           `json:",default=100000"`
	TTL     time.Duration `json:",default=10m"`
}

type PubSubConfig struct {
	Enabled bool   `json:",default=false"`
	Channel string `json:",default=aussie:revocations"`
}

// KeyRotationConfig drives the signing key lifecycle scheduler (spec.md §4.3).
type KeyRotationConfig struct {
	Enabled              bool          `json:",default=true"`
	KeySize              int           `json:",default=2048"`
	GracePeriod          time.Duration `json:",default=5m"`
	DeprecationPeriod    time.Duration `json:",default=24h"`
	RetentionPeriod      time.Duration `json:",default=168h"`
	CacheRefreshInterval time.Duration `json:",default=1m"`
}

// JwksConfig drives the JWKS cache (spec.md §4.1).
type JwksConfig struct {
	MaxCacheEntries int           `json:",default=64"`
	CacheTTL        time.Duration `json:",default=15m"`
	FetchTimeout    time.Duration `json:",default=5s"`
}

// PkceConfig drives the PKCE challenge store (spec.md §4.8).
type PkceConfig struct {
	Enabled      bool          `json:",default=true"`
	Required     bool          `json:",default=false"`
	ChallengeTTL time.Duration `json:",default=10m"`
	Storage      struct {
		Provider string `json:",default=memory"`
	}
}

// IssuanceConfig drives re-signing of validated identities (spec.md §4.10).
type IssuanceConfig struct {
	Enabled          bool          `json:",default=true"`
	Issuer           string        `json:",default=aussie-gateway"`
	KeyID            string        `json:",optional"`
	TokenTTL         time.Duration `json:",default=5m"`
	MaxTokenTTL      time.Duration `json:",default=1h"`
	ForwardedClaims  []string      `json:",optional"`
	DefaultAudience  string        `json:",optional"`
	RequireAudience  bool          `json:",default=false"`
}

// BootstrapConfig drives the one-time admin API key seeding flow (spec.md §4.7).
type BootstrapConfig struct {
	Enabled      bool          `json:",default=false"`
	RecoveryMode bool          `json:",default=false"`
	Key          string        `json:",optional"`
	TTL          time.Duration `json:",default=24h"`
}

// EncryptionConfig drives the encryption-at-rest helper (spec.md §4.12).
type EncryptionConfig struct {
	Enabled bool   `json:",default=true"`
	Key     string `json:",optional"` // base64-encoded 256-bit key
	KeyID   string `json:",optional"`
}

// TranslationConfig drives claims translation (spec.md §4.9).
type TranslationConfig struct {
	Enabled  bool   `json:",default=true"`
	Provider string `json:",optional"`
	Cache    struct {
		TTLSeconds int `json:",default=300"`
		MaxSize    int `json:",default=10000"`
	}
}
