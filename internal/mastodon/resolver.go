package mastodon

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"fediwall/internal/observability"
)

const streamingPath = "/api/v1/streaming"

// Resolver discovers the real streaming base URL for an instance and caches
// it per host for the process lifetime. Some instances serve streaming from a
// dedicated host advertised via redirect; the probe follows that hint once and
// never re-probes.
type Resolver struct {
	mu         sync.Mutex
	cache      map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	// probeScheme is "https" outside tests.
	probeScheme string
}

// NewResolver creates a Resolver. The probe client never follows redirects;
// the redirect itself is the signal.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		cache: make(map[string]string),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:      logger,
		probeScheme: "https",
	}
}

// Resolve returns the wss streaming base for the instance, e.g.
// "wss://streaming.example.social/api/v1/streaming". Probe failures are never
// propagated: any non-redirect outcome (including network errors and
// timeouts) falls back to the same-host default, and the fallback is cached
// too. A failed probe and a non-redirecting one are indistinguishable here.
func (r *Resolver) Resolve(ctx context.Context, instanceHost string) string {
	r.mu.Lock()
	if base, ok := r.cache[instanceHost]; ok {
		r.mu.Unlock()
		return base
	}
	r.mu.Unlock()

	base := r.probe(ctx, instanceHost)

	r.mu.Lock()
	// A concurrent Resolve may have raced us here; first write wins so every
	// caller sees one stable answer.
	if cached, ok := r.cache[instanceHost]; ok {
		base = cached
	} else {
		r.cache[instanceHost] = base
	}
	r.mu.Unlock()

	return base
}

func (r *Resolver) probe(ctx context.Context, instanceHost string) string {
	fallback := "wss://" + instanceHost + streamingPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.probeScheme+"://"+instanceHost+streamingPath, nil)
	if err != nil {
		observability.ResolverProbes.WithLabelValues("error").Inc()
		return fallback
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		observability.ResolverProbes.WithLabelValues("error").Inc()
		r.logger.Warn("streaming discovery probe failed, using same-host base",
			"instance", instanceHost, "error", err)
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			if u, err := url.Parse(loc); err == nil && u.Host != "" {
				observability.ResolverProbes.WithLabelValues("redirect").Inc()
				base := "wss://" + u.Host + streamingPath
				r.logger.Info("streaming base discovered via redirect",
					"instance", instanceHost, "base", base)
				return base
			}
		}
	}

	observability.ResolverProbes.WithLabelValues("fallback").Inc()
	return fallback
}
