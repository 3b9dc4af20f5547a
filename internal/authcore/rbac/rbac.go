// Package rbac implements role/group mapping and claims translation
// (spec.md §4.9): services that expand role/group ids into effective
// permissions behind a TTL snapshot cache, plus a claims translation
// provider registry that converts raw IdP claims into {roles, permissions,
// extra}, cached by token identity.
package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/cryptoutil"
	"github.com/aussie-gateway/auth-core/internal/authcore/registry"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

// RoleService expands role ids into permissions behind a TTL snapshot.
type RoleService struct {
	repo repository.RoleRepository
	ttl  time.Duration

	mu        sync.Mutex
	snapshot  map[string]repository.Role
	expiresAt time.Time
}

func NewRoleService(repo repository.RoleRepository, ttl time.Duration) *RoleService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RoleService{repo: repo, ttl: ttl}
}

func (s *RoleService) Store(ctx context.Context, role repository.Role) error {
	if err := s.repo.Store(ctx, role); err != nil {
		return autherr.Wrap(autherr.Transient, "store role", err)
	}
	s.invalidate()
	return nil
}

func (s *RoleService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return autherr.Wrap(autherr.Transient, "delete role", err)
	}
	s.invalidate()
	return nil
}

func (s *RoleService) FindByID(ctx context.Context, id string) (*repository.Role, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *RoleService) FindAll(ctx context.Context) ([]repository.Role, error) {
	return s.repo.FindAll(ctx)
}

func (s *RoleService) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
}

// currentSnapshot publishes the current role map, refreshing it under the
// same lock that guards the expiry timestamp so a reader never pairs a
// stale snapshot with a fresh expiry (spec.md §5).
func (s *RoleService) currentSnapshot(ctx context.Context) (map[string]repository.Role, error) {
	s.mu.Lock()
	if s.snapshot != nil && time.Now().Before(s.expiresAt) {
		snap := s.snapshot
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	roles, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "load all roles", err)
	}

	snap := make(map[string]repository.Role, len(roles))
	for _, r := range roles {
		snap[r.ID] = r
	}

	s.mu.Lock()
	s.snapshot = snap
	s.expiresAt = time.Now().Add(s.ttl)
	s.mu.Unlock()

	return snap, nil
}

// Expand returns the union of permissions across the given role ids.
func (s *RoleService) Expand(ctx context.Context, ids []string) ([]string, error) {
	snap, err := s.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return unionPermissions(snap, ids), nil
}

// GroupService mirrors RoleService for groups, but the repository stores
// each record encrypted (spec.md §4.12): Store/snapshot pass records
// through a cryptoutil.Box and the NUL-separated Group field codec.
type GroupService struct {
	repo repository.GroupRepository
	box  *cryptoutil.Box
	ttl  time.Duration

	mu        sync.Mutex
	snapshot  map[string]repository.Group
	expiresAt time.Time
}

func NewGroupService(repo repository.GroupRepository, box *cryptoutil.Box, ttl time.Duration) *GroupService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GroupService{repo: repo, box: box, ttl: ttl}
}

func encodeGroup(g repository.Group) ([]byte, error) {
	serialized, err := cryptoutil.SerializeGroupFields(
		g.ID, g.DisplayName, g.Description, strings.Join(g.Permissions, ","),
		g.CreatedAt.UTC().Format(time.RFC3339Nano), g.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, autherr.Wrap(autherr.ValidationFailure, "serialize group", err)
	}
	return []byte(serialized), nil
}

func decodeGroup(box *cryptoutil.Box, encrypted []byte) (repository.Group, error) {
	plaintext, err := box.Decrypt(encrypted)
	if err != nil {
		return repository.Group{}, autherr.Wrap(autherr.ValidationFailure, "decrypt group", err)
	}

	fields := cryptoutil.DeserializeGroupFields(string(plaintext))
	if len(fields) != 6 {
		return repository.Group{}, autherr.New(autherr.ValidationFailure, "malformed group record")
	}

	var perms []string
	if fields[3] != "" {
		perms = strings.Split(fields[3], ",")
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, fields[4])
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields[5])

	return repository.Group{
		ID:          fields[0],
		DisplayName: fields[1],
		Description: fields[2],
		Permissions: perms,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *GroupService) Store(ctx context.Context, group repository.Group) error {
	plaintext, err := encodeGroup(group)
	if err != nil {
		return err
	}
	encrypted, err := s.box.Encrypt(plaintext)
	if err != nil {
		return autherr.Wrap(autherr.Transient, "encrypt group", err)
	}
	if err := s.repo.Store(ctx, group.ID, encrypted); err != nil {
		return autherr.Wrap(autherr.Transient, "store group", err)
	}
	s.invalidate()
	return nil
}

func (s *GroupService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return autherr.Wrap(autherr.Transient, "delete group", err)
	}
	s.invalidate()
	return nil
}

func (s *GroupService) FindByID(ctx context.Context, id string) (*repository.Group, error) {
	encrypted, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find group", err)
	}
	if encrypted == nil {
		return nil, nil
	}
	group, err := decodeGroup(s.box, encrypted)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *GroupService) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
}

func (s *GroupService) currentSnapshot(ctx context.Context) (map[string]repository.Group, error) {
	s.mu.Lock()
	if s.snapshot != nil && time.Now().Before(s.expiresAt) {
		snap := s.snapshot
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	all, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "load all groups", err)
	}

	snap := make(map[string]repository.Group, len(all))
	for id, encrypted := range all {
		group, err := decodeGroup(s.box, encrypted)
		if err != nil {
			logx.Errorf("decode group %s: %v", id, err)
			continue
		}
		snap[id] = group
	}

	s.mu.Lock()
	s.snapshot = snap
	s.expiresAt = time.Now().Add(s.ttl)
	s.mu.Unlock()

	return snap, nil
}

// Expand returns the union of permissions across the given group ids.
func (s *GroupService) Expand(ctx context.Context, ids []string) ([]string, error) {
	snap, err := s.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, id := range ids {
		group, ok := snap[id]
		if !ok {
			continue
		}
		for _, p := range group.Permissions {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func unionPermissions(snap map[string]repository.Role, ids []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range ids {
		role, ok := snap[id]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// EffectivePermissions computes expand(roles) ∪ direct-permissions for a
// principal (spec.md §4.9).
func EffectivePermissions(expanded []string, direct []string) []string {
	seen := make(map[string]struct{}, len(expanded)+len(direct))
	var out []string
	for _, p := range append(append([]string{}, expanded...), direct...) {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// TranslatedClaims is the normalized result of a claims translation provider.
type TranslatedClaims struct {
	Roles       []string
	Permissions []string
	Extra       map[string]interface{}
}

// TranslationProvider converts raw IdP claims into TranslatedClaims.
type TranslationProvider interface {
	Name() string
	Priority() int
	IsAvailable() bool
	Translate(ctx context.Context, rawClaims map[string]interface{}) (TranslatedClaims, error)
}

// Translator selects a provider (configured-by-name first, else
// highest-priority available) and caches results by token identity.
type Translator struct {
	providers      *registry.Registry[TranslationProvider]
	configuredName string
	cache          *lru.LRU[string, TranslatedClaims]
}

// NewTranslator builds a Translator. maxSize/ttl bound the result cache;
// configuredName selects a specific provider by name when available.
func NewTranslator(configuredName string, maxSize int, ttl time.Duration, providers ...TranslationProvider) *Translator {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Translator{
		providers:      registry.New(providers...),
		configuredName: configuredName,
		cache:          lru.NewLRU[string, TranslatedClaims](maxSize, nil, ttl),
	}
}

// CacheKey builds the token-identity cache key: jti when present, else
// issuer:subject:iat (spec.md §4.9).
func CacheKey(jti, issuer, subject string, iat time.Time) string {
	if jti != "" {
		return jti
	}
	return issuer + ":" + subject + ":" + iat.UTC().Format(time.RFC3339Nano)
}

// Translate runs the selected provider, memoizing by cacheKey.
func (t *Translator) Translate(ctx context.Context, cacheKey string, rawClaims map[string]interface{}) (TranslatedClaims, error) {
	if cached, ok := t.cache.Get(cacheKey); ok {
		return cached, nil
	}

	provider, ok := t.providers.Select(t.configuredName)
	if !ok {
		return TranslatedClaims{}, autherr.New(autherr.StateViolation, "no claims translation provider available")
	}

	result, err := provider.Translate(ctx, rawClaims)
	if err != nil {
		return TranslatedClaims{}, autherr.Wrap(autherr.Transient, "translate claims", err)
	}

	t.cache.Add(cacheKey, result)
	return result, nil
}
