// Package snapshot serves the one-shot catch-up query: a bounded page of the
// upstream public timeline, normalized and filtered with the same semantics
// as the live relay path.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"fediwall/internal/cache"
	"fediwall/internal/mastodon"
	"fediwall/internal/models"
	"fediwall/internal/normalize"
	"fediwall/internal/observability"
)

// Sort orders for snapshot results.
const (
	SortNewest = "newest"
	SortMostRT = "most_rt"
)

// Query is one snapshot request.
type Query struct {
	Criteria models.Criteria
	Limit    int
	Since    time.Time
	Sort     string
}

// timelineFetcher is the slice of the upstream client the service uses.
type timelineFetcher interface {
	PublicTimeline(ctx context.Context, limit int, local bool) ([]mastodon.Status, error)
}

// Service answers snapshot queries. Stateless per call; an optional Redis
// client adds a short-TTL response micro-cache in front of the upstream.
type Service struct {
	client      timelineFetcher
	normalizer  *normalize.Normalizer
	bannedWords []string
	redis       *redis.Client
	cacheTTL    time.Duration
}

// NewService creates a snapshot Service. redisClient may be nil; cacheTTL <= 0
// disables the micro-cache even when Redis is present.
func NewService(client timelineFetcher, normalizer *normalize.Normalizer, bannedWords []string, redisClient *redis.Client, cacheTTL time.Duration) *Service {
	return &Service{
		client:      client,
		normalizer:  normalizer,
		bannedWords: bannedWords,
		redis:       redisClient,
		cacheTTL:    cacheTTL,
	}
}

// Run executes the query. Filter semantics are shared with the live path via
// Criteria.Matches, so catch-up and live classification never diverge. On
// upstream failure the caller gets a retrievable error, never partial
// results.
func (s *Service) Run(ctx context.Context, q Query) ([]models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "snapshot.query")
	defer span.End()
	span.AddAttributes(
		attribute.Int("snapshot.limit", q.Limit),
		attribute.Bool("snapshot.local", q.Criteria.Local),
	)

	if q.Limit <= 0 || q.Limit > mastodon.TimelinePageCap {
		q.Limit = mastodon.TimelinePageCap
	}

	cacheKey := s.cacheKey(q)
	if s.cacheTTL > 0 {
		var cached []models.Post
		if found, err := cache.GetJSON(ctx, s.redis, cacheKey, &cached); err == nil && found {
			observability.SnapshotRequests.WithLabelValues("cached").Inc()
			return cached, nil
		}
	}

	statuses, err := s.client.PublicTimeline(ctx, q.Limit, q.Criteria.Local)
	if err != nil {
		observability.SnapshotRequests.WithLabelValues("error").Inc()
		span.SetError(err)
		return nil, models.NewUpstreamError(err)
	}

	items := make([]models.Post, 0, len(statuses))
	for i := range statuses {
		raw := &statuses[i]

		if !q.Since.IsZero() {
			created, err := time.Parse(time.RFC3339, raw.CreatedAt)
			if err != nil || created.Before(q.Since) {
				continue
			}
		}

		post := s.normalizer.Normalize(raw)
		if !q.Criteria.Matches(&post, raw.Language, s.bannedWords) {
			continue
		}
		items = append(items, post)
	}

	sortPosts(items, q.Sort)

	if s.cacheTTL > 0 {
		_ = cache.SetJSON(ctx, s.redis, cacheKey, items, s.cacheTTL)
	}

	observability.SnapshotRequests.WithLabelValues("ok").Inc()
	return items, nil
}

// sortPosts orders results in place; an unrecognized or empty sort keeps
// upstream order.
func sortPosts(items []models.Post, order string) {
	switch order {
	case SortNewest:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].CreatedAt > items[j].CreatedAt
		})
	case SortMostRT:
		sort.SliceStable(items, func(i, j int) bool {
			var ri, rj int
			if items[i].Metrics != nil {
				ri = items[i].Metrics.Reposts
			}
			if items[j].Metrics != nil {
				rj = items[j].Metrics.Reposts
			}
			return ri > rj
		})
	}
}

// cacheKey flattens the full normalized query so distinct filter sets never
// share a cache entry.
func (s *Service) cacheKey(q Query) string {
	return fmt.Sprintf("snapshot:%d:%s:%s:%s:%t:%s:%d",
		q.Limit, q.Criteria.Query, q.Criteria.Lang,
		strings.Join(q.Criteria.Tags, ","), q.Criteria.Local,
		q.Sort, q.Since.Unix())
}
