package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
)

// countingFetcher returns a fresh empty key set and counts invocations,
// optionally blocking until release is closed to exercise coalescing, and
// optionally failing.
type countingFetcher struct {
	calls   int64
	release chan struct{}
	failWith error
}

func (f *countingFetcher) Fetch(ctx context.Context, uri string) (jwk.Set, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	return jwk.NewSet(), nil
}

func rsaJWK(t *testing.T) jwk.Key {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	key, err := jwk.FromRaw(priv.Public())
	require.NoError(t, err)
	return key
}

func TestGetKeySet_CachesWithinTTL(t *testing.T) {
	fetcher := &countingFetcher{}
	c := New(fetcher, 10, time.Minute)

	_, err := c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.NoError(t, err)
	_, err = c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetcher.calls))
}

func TestGetKeySet_RefetchesAfterTTLExpires(t *testing.T) {
	fetcher := &countingFetcher{}
	c := New(fetcher, 10, time.Millisecond)

	_, err := c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&fetcher.calls))
}

func TestGetKeySet_CoalescesConcurrentFetches(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	c := New(fetcher, 10, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetKeySet(context.Background(), "https://issuer/jwks.json")
			assert.NoError(t, err)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&fetcher.calls))
}

func TestGetKeySet_FallsBackToStaleOnFetchFailure(t *testing.T) {
	fetcher := &countingFetcher{}
	c := New(fetcher, 10, time.Millisecond)

	_, err := c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	fetcher.failWith = autherr.New(autherr.JwksFetchError, "network down")

	set, err := c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.NoError(t, err, "a stale entry must mask the fetch failure")
	assert.NotNil(t, set)
}

func TestGetKeySet_PropagatesErrorWithNoStaleEntry(t *testing.T) {
	fetcher := &countingFetcher{failWith: errors.New("boom")}
	c := New(fetcher, 10, time.Minute)

	_, err := c.GetKeySet(context.Background(), "https://issuer/jwks.json")
	require.Error(t, err)
}

func TestStore_EvictsWhenAtCapacity(t *testing.T) {
	fetcher := &countingFetcher{}
	c := New(fetcher, 1, time.Minute)

	_, err := c.GetKeySet(context.Background(), "uri-a")
	require.NoError(t, err)
	_, err = c.GetKeySet(context.Background(), "uri-b")
	require.NoError(t, err)

	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	assert.Equal(t, 1, size)
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	fetcher := &countingFetcher{}
	c := New(fetcher, 10, time.Minute)

	_, err := c.GetKeySet(context.Background(), "uri-a")
	require.NoError(t, err)
	c.Invalidate("uri-a")

	_, err = c.GetKeySet(context.Background(), "uri-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&fetcher.calls))
}

func TestGetKey_ReturnsSoleKeyWhenNoKidRequested(t *testing.T) {
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(rsaJWK(t)))

	fetcher := &singleSetFetcher{set: set}
	c := New(fetcher, 10, time.Minute)

	key, found, err := c.GetKey(context.Background(), "uri", "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, key)
}

func TestGetKey_NoKidWithMultipleKeysReturnsNothing(t *testing.T) {
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(rsaJWK(t)))
	require.NoError(t, set.AddKey(rsaJWK(t)))

	fetcher := &singleSetFetcher{set: set}
	c := New(fetcher, 10, time.Minute)

	_, found, err := c.GetKey(context.Background(), "uri", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRawPublicKey_ExtractsCryptoPublicKey(t *testing.T) {
	key := rsaJWK(t)
	pub, err := RawPublicKey(key)
	require.NoError(t, err)
	_, ok := pub.(*rsa.PublicKey)
	assert.True(t, ok)
}

type singleSetFetcher struct {
	set jwk.Set
}

func (f *singleSetFetcher) Fetch(ctx context.Context, uri string) (jwk.Set, error) {
	return f.set, nil
}
