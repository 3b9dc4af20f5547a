// Package signingkey manages the lifecycle of the internal JWS signing keys
// used to re-sign validated external identities (spec.md §4.3). Keys move
// PENDING -> ACTIVE -> DEPRECATED -> RETIRED; verification accepts ACTIVE and
// DEPRECATED keys, signing uses only the single ACTIVE key.
//
// Key generation and PEM encode/decode follow the asymmetric-key handling
// gourdiantoken-master uses for its own RS256/PS256/ES256 key pairs, adapted
// here to RSA-only (the auth core always signs with RS256).
package signingkey

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/config"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

// newKeyID mints a sortable, human-recognizable key identifier:
// k-<year>-q<quarter>-<8 random hex chars>.
func newKeyID(now time.Time) string {
	quarter := (int(now.Month())-1)/3 + 1
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("k-%d-q%d-%s", now.Year(), quarter, hex.EncodeToString(buf[:]))
}

// Snapshot is an immutable view of the verification key set plus the
// currently active signing key, published atomically so request handlers
// never observe a torn update (spec.md §5 "atomic snapshot publication").
type Snapshot struct {
	Active        *repository.SigningKeyRecord
	Verification  []repository.SigningKeyRecord
	GeneratedAt   time.Time
}

// Manager owns the signing key lifecycle: generation, activation,
// deprecation, retirement, and the published Snapshot.
type Manager struct {
	repo repository.SigningKeyRepository
	cfg  config.KeyRotationConfig

	snapshot atomic.Pointer[Snapshot]
}

func New(repo repository.SigningKeyRepository, cfg config.KeyRotationConfig) *Manager {
	return &Manager{repo: repo, cfg: cfg}
}

// Current returns the latest published Snapshot, refreshing from the
// repository on first use.
func (m *Manager) Current(ctx context.Context) (*Snapshot, error) {
	if snap := m.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return m.Refresh(ctx)
}

// Refresh reloads the signing key set from the repository and republishes
// the Snapshot atomically.
func (m *Manager) Refresh(ctx context.Context) (*Snapshot, error) {
	active, err := m.repo.FindActive(ctx)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "load active signing key", err)
	}
	if active == nil {
		return nil, autherr.New(autherr.StateViolation, "no active signing key")
	}

	verification, err := m.repo.FindAllForVerification(ctx)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "load verification keys", err)
	}

	snap := &Snapshot{Active: active, Verification: verification, GeneratedAt: time.Now()}
	m.snapshot.Store(snap)
	return snap, nil
}

// GenerateKey creates a new RSA key pair in PENDING status, per
// KeyRotationConfig.KeySize. It does not activate the key: activation is a
// separate, explicit step so a fresh key can propagate to every verifying
// instance's cache before anything signs with it (the "grace period" in
// spec.md §4.3).
func (m *Manager) GenerateKey(ctx context.Context) (*repository.SigningKeyRecord, error) {
	keySize := m.cfg.KeySize
	if keySize == 0 {
		keySize = 2048
	}

	priv, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "generate rsa key", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "marshal private key", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "marshal public key", err)
	}

	now := time.Now()
	rec := repository.SigningKeyRecord{
		KeyID:         newKeyID(now),
		PrivateKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
		PublicKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		Algorithm:     "RS256",
		Status:        repository.KeyPending,
		CreatedAt:     now,
	}

	if err := m.repo.Store(ctx, rec); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "store signing key", err)
	}
	logx.Infof("signing key %s generated PENDING", rec.KeyID)
	return &rec, nil
}

// Activate transitions a PENDING key to ACTIVE and demotes the prior ACTIVE
// key (if any) to DEPRECATED. This is the only moment a key becomes eligible
// for signing.
func (m *Manager) Activate(ctx context.Context, keyID string) error {
	rec, err := m.repo.FindByID(ctx, keyID)
	if err != nil {
		return autherr.Wrap(autherr.Transient, "find signing key", err)
	}
	if rec == nil {
		return autherr.New(autherr.NotFound, "signing key not found: "+keyID)
	}
	if rec.Status != repository.KeyPending {
		return autherr.New(autherr.StateViolation, "key not in PENDING status: "+keyID)
	}

	now := time.Now()
	if prior, err := m.repo.FindActive(ctx); err != nil {
		return autherr.Wrap(autherr.Transient, "find current active key", err)
	} else if prior != nil {
		if err := m.repo.UpdateStatus(ctx, prior.KeyID, repository.KeyDeprecated, now); err != nil {
			return autherr.Wrap(autherr.Transient, "deprecate prior active key", err)
		}
	}

	if err := m.repo.UpdateStatus(ctx, keyID, repository.KeyActive, now); err != nil {
		return autherr.Wrap(autherr.Transient, "activate signing key", err)
	}
	logx.Infof("signing key %s ACTIVE", keyID)
	_, err = m.Refresh(ctx)
	return err
}

// Retire transitions a DEPRECATED key to RETIRED, after which verification
// no longer considers it (spec.md §4.3). ProcessLifecycle calls it for keys
// past their deprecation period.
func (m *Manager) Retire(ctx context.Context, keyID string) error {
	if err := m.repo.UpdateStatus(ctx, keyID, repository.KeyRetired, time.Now()); err != nil {
		return autherr.Wrap(autherr.Transient, "retire signing key", err)
	}
	logx.Infof("signing key %s RETIRED", keyID)
	_, err := m.Refresh(ctx)
	return err
}

// ProcessLifecycle advances every key past its configured window. Three
// independent steps run in parallel, matching spec.md §4.3: (a) promote the
// most-recently-created PENDING key past its grace period to ACTIVE, (b)
// retire DEPRECATED keys past their deprecation period, (c) delete RETIRED
// keys past their retention period. Failures in any step are logged and
// swallowed so one step never blocks another.
func (m *Manager) ProcessLifecycle(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := m.promotePending(ctx); err != nil {
			logx.Errorf("promote pending signing key: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.retireDeprecated(ctx); err != nil {
			logx.Errorf("retire deprecated signing keys: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.deleteRetired(ctx); err != nil {
			logx.Errorf("delete retired signing keys: %v", err)
		}
	}()

	wg.Wait()
	return nil
}

func (m *Manager) promotePending(ctx context.Context) error {
	pending, err := m.repo.FindByStatus(ctx, repository.KeyPending)
	if err != nil {
		return autherr.Wrap(autherr.Transient, "list pending keys", err)
	}
	if len(pending) == 0 {
		return nil
	}

	now := time.Now()
	var candidate *repository.SigningKeyRecord
	for i := range pending {
		rec := pending[i]
		if now.Sub(rec.CreatedAt) < m.cfg.GracePeriod {
			continue
		}
		if candidate == nil || rec.CreatedAt.After(candidate.CreatedAt) {
			candidate = &rec
		}
	}
	if candidate == nil {
		return nil
	}
	return m.Activate(ctx, candidate.KeyID)
}

func (m *Manager) retireDeprecated(ctx context.Context) error {
	now := time.Now()
	deprecated, err := m.repo.FindByStatus(ctx, repository.KeyDeprecated)
	if err != nil {
		return autherr.Wrap(autherr.Transient, "list deprecated keys", err)
	}
	for _, rec := range deprecated {
		if rec.DeprecatedAt != nil && now.Sub(*rec.DeprecatedAt) >= m.cfg.DeprecationPeriod {
			if err := m.Retire(ctx, rec.KeyID); err != nil {
				logx.Errorf("retire key %s: %v", rec.KeyID, err)
			}
		}
	}
	return nil
}

func (m *Manager) deleteRetired(ctx context.Context) error {
	now := time.Now()
	retired, err := m.repo.FindByStatus(ctx, repository.KeyRetired)
	if err != nil {
		return autherr.Wrap(autherr.Transient, "list retired keys", err)
	}
	for _, rec := range retired {
		if rec.RetiredAt != nil && now.Sub(*rec.RetiredAt) >= m.cfg.RetentionPeriod {
			if err := m.repo.Delete(ctx, rec.KeyID); err != nil {
				logx.Errorf("delete retired key %s: %v", rec.KeyID, err)
			}
		}
	}
	return nil
}

// Rotate generates and registers a new PENDING key. If GracePeriod is zero
// or negative it activates the key immediately; otherwise it leaves the key
// PENDING for the next ProcessLifecycle tick to promote once the grace
// period elapses (spec.md §4.3 "rotate").
func (m *Manager) Rotate(ctx context.Context) (*repository.SigningKeyRecord, error) {
	rec, err := m.GenerateKey(ctx)
	if err != nil {
		return nil, err
	}

	if m.cfg.GracePeriod <= 0 {
		if err := m.Activate(ctx, rec.KeyID); err != nil {
			return nil, err
		}
		return rec, nil
	}

	// With no ACTIVE key yet there is no snapshot to republish; the new key
	// simply stays PENDING.
	if _, err := m.Refresh(ctx); err != nil && !autherr.Of(err, autherr.StateViolation) {
		return nil, fmt.Errorf("refresh snapshot after generating %s: %w", rec.KeyID, err)
	}
	return rec, nil
}

// TriggerRotation generates, registers, and activates a new key immediately,
// bypassing the grace period, and returns the new active key (spec.md §4.3
// "triggerRotation(reason)"). Unlike the scheduled jobs, its failures are
// surfaced rather than swallowed.
func (m *Manager) TriggerRotation(ctx context.Context, reason string) (*repository.SigningKeyRecord, error) {
	if !m.cfg.Enabled {
		return nil, autherr.New(autherr.StateViolation, "key rotation disabled")
	}

	rec, err := m.GenerateKey(ctx)
	if err != nil {
		return nil, err
	}
	logx.Infof("triggered rotation for %s: %s", rec.KeyID, reason)

	if err := m.Activate(ctx, rec.KeyID); err != nil {
		return nil, err
	}
	return rec, nil
}

// RunScheduler runs ProcessLifecycle on CacheRefreshInterval ticks until ctx
// is cancelled, mirroring the periodic cleanup goroutines gourdiantoken-master
// launches for rotated/revoked token bookkeeping.
func (m *Manager) RunScheduler(ctx context.Context) {
	interval := m.cfg.CacheRefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ProcessLifecycle(ctx); err != nil {
				logx.Errorf("signing key lifecycle tick: %v", err)
			}
		}
	}
}
