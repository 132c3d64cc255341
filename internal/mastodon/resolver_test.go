package mastodon

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	r := NewResolver(slog.Default())
	r.probeScheme = "http"
	return r
}

func hostOf(t *testing.T, server *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(server.URL, "http://")
}

func TestResolver_RedirectDiscovery(t *testing.T) {
	var probes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
		require.Equal(t, "/api/v1/streaming", r.URL.Path)
		w.Header().Set("Location", "https://stream.example.social/api/v1/streaming")
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	r := newTestResolver()
	host := hostOf(t, server)

	base := r.Resolve(context.Background(), host)
	assert.Equal(t, "wss://stream.example.social/api/v1/streaming", base)

	// Second resolve is served from the cache with no network call.
	again := r.Resolve(context.Background(), host)
	assert.Equal(t, base, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&probes))
}

func TestResolver_NonRedirectFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := newTestResolver()
	host := hostOf(t, server)

	base := r.Resolve(context.Background(), host)
	assert.Equal(t, "wss://"+host+"/api/v1/streaming", base)
}

func TestResolver_ProbeFailureFallsBackAndCaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound) // redirect with no Location header
	}))
	host := hostOf(t, server)
	server.Close() // network error on probe

	r := newTestResolver()

	base := r.Resolve(context.Background(), host)
	assert.Equal(t, "wss://"+host+"/api/v1/streaming", base)

	// The fallback is cached too: a single upstream outage must not re-probe
	// on every new session.
	again := r.Resolve(context.Background(), host)
	assert.Equal(t, base, again)
}

func TestResolver_RedirectWithoutLocationFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer server.Close()

	r := newTestResolver()
	host := hostOf(t, server)

	base := r.Resolve(context.Background(), host)
	assert.Equal(t, "wss://"+host+"/api/v1/streaming", base)
}

func TestResolver_ConcurrentResolveSingleAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "https://stream.example.social/api/v1/streaming")
		w.WriteHeader(http.StatusFound)
	}))
	defer server.Close()

	r := newTestResolver()
	host := hostOf(t, server)

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), host)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, results[0], got)
	}
}
