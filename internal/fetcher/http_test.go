package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furnishly/catalog-cli/internal/resilience"
)

func newTestFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(HTTPOptions{
		Timeout:   5 * time.Second,
		HostRate:  1000,
		HostBurst: 1000,
	})
	require.NoError(t, err)
	f.retry.InitialBackoff = time.Millisecond
	return f
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "catalog-cli")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Fetch(context.Background(), srv.URL+"/products/p1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.Contains(t, string(page.Body), "ok")
	assert.Equal(t, srv.URL+"/products/p1", page.URL)
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, string(page.Body), "finally")
}

func TestFetch_NotFoundDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, err.Error(), "http 404")
}

func TestFetch_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_CircuitOpensForFailingHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(HTTPOptions{
		HostRate:  1000,
		HostBurst: 1000,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     time.Hour,
		},
	})
	require.NoError(t, err)
	f.retry.InitialBackoff = time.Millisecond

	// First fetch burns through its attempts and trips the breaker.
	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	// The next fetch is rejected without touching the host.
	_, err = f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestFetch_InvalidURL(t *testing.T) {
	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), "://bad")
	require.Error(t, err)
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("slow"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
}

func TestNextClient_RotatesProxies(t *testing.T) {
	f, err := NewHTTPFetcher(HTTPOptions{
		Proxies:       []string{"http://proxy-a:8080", "http://proxy-b:8080"},
		ProxyUsername: "user",
		ProxyPassword: "pass",
	})
	require.NoError(t, err)
	require.Len(t, f.clients, 2)

	first := f.nextClient()
	second := f.nextClient()
	third := f.nextClient()
	assert.NotSame(t, first, second)
	assert.Same(t, first, third)
}

func TestLimiterFor_OnePerHost(t *testing.T) {
	f := newTestFetcher(t)

	a := f.limiterFor("vendor-a.com")
	b := f.limiterFor("vendor-b.com")
	assert.NotSame(t, a, b)
	assert.Same(t, a, f.limiterFor("vendor-a.com"))
}
