package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// TimelinePageCap is the hard upper bound the upstream API accepts for a
	// single timeline page.
	TimelinePageCap = 80

	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// Client is a bearer-token REST client for a single instance.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

// NewClient returns a Client for https://<instanceHost>. The access token is
// optional; public timelines work without one.
func NewClient(instanceHost, accessToken string) *Client {
	return &Client{
		baseURL:     "https://" + instanceHost,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(5), 10),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// BaseURL returns the instance REST base, e.g. "https://mastodon.social".
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) auth(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	req.Header.Set("Accept", "application/json")
}

// PublicTimeline fetches one page of the public timeline. limit is clamped to
// the upstream page cap; local restricts to locally-originated statuses.
func (c *Client) PublicTimeline(ctx context.Context, limit int, local bool) ([]Status, error) {
	if limit <= 0 || limit > TimelinePageCap {
		limit = TimelinePageCap
	}

	u, err := url.Parse(c.baseURL + "/api/v1/timelines/public")
	if err != nil {
		return nil, fmt.Errorf("build timeline url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if local {
		q.Set("local", "true")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("timeline fetch: upstream status %d", resp.StatusCode)
	}

	var statuses []Status
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, fmt.Errorf("decode timeline page: %w", err)
	}
	return statuses, nil
}

// doWithRetry retries transient upstream failures (429 and 5xx) with simple
// exponential backoff. The request body is nil for all relay calls, so the
// request can be re-sent as-is.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("upstream request failed after %d attempts: %w", c.maxAttempts, lastErr)
}
