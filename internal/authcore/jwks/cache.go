// Package jwks implements the JWKS cache described in spec.md §4.1: a
// bounded, write-TTL cache of remote JSON Web Key Sets with thundering-herd
// protection (at most one in-flight fetch per URI) and stale-on-failure
// fallback.
//
// Key parsing uses lestrrat-go/jwx/v2's jwk package, the JWKS library
// kadirpekel-hector already depends on for exactly this purpose.
package jwks

import (
	"context"
	"crypto"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
)

// entry is one cached JWKS document.
type entry struct {
	keySet    jwk.Set
	expiresAt time.Time
}

// inflight is a memoized future: concurrent callers share one fetch result
// and the handle is removed from the table on completion (success or
// failure), matching spec.md §5's "concurrent compute-if-absent map plus a
// memoized future".
type inflight struct {
	done   chan struct{}
	result jwk.Set
	err    error
}

// Fetcher abstracts the remote JWKS transport for testability.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (jwk.Set, error)
}

// HTTPFetcher fetches JWKS documents over HTTPS with a bounded timeout.
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: http.DefaultClient, Timeout: timeout}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (jwk.Set, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	set, err := jwk.Fetch(fetchCtx, uri, jwk.WithHTTPClient(f.Client))
	if err != nil {
		return nil, autherr.Wrap(autherr.JwksFetchError, "fetch jwks: "+uri, err)
	}
	return set, nil
}

// MetricsSink receives JWKS fetch-failure observations. GetKeySet calls
// ObserveJwksTimeout when a fetch fails with a JwksFetchError and a stale
// entry is served instead; timeouts are not told apart from other fetch
// failures, and nothing is observed when no stale entry exists. The host
// wires this to its own metrics plumbing (out of scope for the core, spec.md §1).
type MetricsSink interface {
	ObserveJwksTimeout(uri string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveJwksTimeout(string) {}

// Cache is the bounded, TTL-based, coalescing JWKS cache.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	maxSize int
	metrics MetricsSink

	mu      sync.RWMutex
	entries map[string]entry

	inflightMu sync.Mutex
	inflights  map[string]*inflight
}

// Option configures a Cache at construction.
type Option func(*Cache)

func WithMetrics(m MetricsSink) Option {
	return func(c *Cache) { c.metrics = m }
}

// New builds a JWKS Cache. maxSize bounds the number of distinct URIs
// cached; ttl is the per-entry freshness window.
func New(fetcher Fetcher, maxSize int, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		fetcher:   fetcher,
		ttl:       ttl,
		maxSize:   maxSize,
		metrics:   noopMetrics{},
		entries:   make(map[string]entry),
		inflights: make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKeySet returns the cached (or freshly fetched) key set for uri.
func (c *Cache) GetKeySet(ctx context.Context, uri string) (jwk.Set, error) {
	c.mu.RLock()
	e, ok := c.entries[uri]
	c.mu.RUnlock()

	if ok && time.Now().Before(e.expiresAt) {
		return e.keySet, nil
	}

	set, err := c.fetchCoalesced(ctx, uri)
	if err != nil {
		if ok {
			// Stale fallback: spec.md §4.1 and §5 "JWKS fetches... fall
			// back to it" when a stale entry exists.
			if autherr.Of(err, autherr.JwksFetchError) {
				c.metrics.ObserveJwksTimeout(uri)
			}
			logx.Errorf("jwks fetch failed for %s, serving stale cache: %v", uri, err)
			return e.keySet, nil
		}
		return nil, err
	}

	c.store(uri, set)
	return set, nil
}

// GetKey resolves a single key by kid. With no kid, it returns the sole key
// if the set has exactly one, otherwise nothing (spec.md §4.1).
func (c *Cache) GetKey(ctx context.Context, uri string, kid string) (jwk.Key, bool, error) {
	set, err := c.GetKeySet(ctx, uri)
	if err != nil {
		return nil, false, err
	}

	if kid == "" {
		if set.Len() == 1 {
			key, ok := set.Key(0)
			return key, ok, nil
		}
		return nil, false, nil
	}

	key, ok := set.LookupKeyID(kid)
	return key, ok, nil
}

// Refresh forces a re-fetch of uri, bypassing the cached TTL.
func (c *Cache) Refresh(ctx context.Context, uri string) error {
	set, err := c.fetchCoalesced(ctx, uri)
	if err != nil {
		return err
	}
	c.store(uri, set)
	return nil
}

// Invalidate removes uri from the cache entirely.
func (c *Cache) Invalidate(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uri)
}

func (c *Cache) store(uri string, set jwk.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[uri]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[uri] = entry{keySet: set, expiresAt: time.Now().Add(c.ttl)}
}

// evictOldestLocked drops one arbitrary entry to make room. Called with
// c.mu held for writing. A production-grade bound would track recency;
// the auth core only needs the size cap to hold, not LRU-perfect ordering.
func (c *Cache) evictOldestLocked() {
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

// fetchCoalesced ensures at most one in-flight fetch per URI; concurrent
// callers during a miss share its result (spec.md §4.1, §5).
func (c *Cache) fetchCoalesced(ctx context.Context, uri string) (jwk.Set, error) {
	c.inflightMu.Lock()
	if f, ok := c.inflights[uri]; ok {
		c.inflightMu.Unlock()
		<-f.done
		return f.result, f.err
	}

	f := &inflight{done: make(chan struct{})}
	c.inflights[uri] = f
	c.inflightMu.Unlock()

	f.result, f.err = c.fetcher.Fetch(ctx, uri)

	c.inflightMu.Lock()
	delete(c.inflights, uri)
	c.inflightMu.Unlock()
	close(f.done)

	return f.result, f.err
}

// RawPublicKey materializes a crypto.PublicKey from a jwk.Key, used by the
// token validator to hand golang-jwt a verification key.
func RawPublicKey(key jwk.Key) (crypto.PublicKey, error) {
	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, err
	}
	pub, _ := raw.(crypto.PublicKey)
	return pub, nil
}
