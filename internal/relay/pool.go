// Package relay implements the streaming core: an upstream connection pool
// keyed by logical stream identity, and fanout sessions that deliver
// filtered, normalized posts to downstream websocket clients.
package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"

	"fediwall/internal/models"
	"fediwall/internal/normalize"
	"fediwall/internal/observability"
)

const (
	// Max sessions sharing one upstream connection.
	maxSessionsPerKey = 512
	// Max total downstream sessions.
	maxTotalSessions = 10000
)

var (
	// ErrSessionLimit is returned when a connection cap is hit.
	ErrSessionLimit = errors.New("session limit reached")

	errUpstreamClosed = errors.New("upstream connection closed during attach")
)

// EndpointResolver resolves an instance host to its streaming base URL.
// *mastodon.Resolver is the production implementation.
type EndpointResolver interface {
	Resolve(ctx context.Context, instanceHost string) string
}

// DialFunc opens an upstream websocket. Production uses gorilla's dialer;
// tests inject fakes.
type DialFunc func(ctx context.Context, urlStr string, header http.Header) (streamConn, *http.Response, error)

func gorillaDial(ctx context.Context, urlStr string, header http.Header) (streamConn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, urlStr, header)
	if conn == nil {
		return nil, resp, err
	}
	return conn, resp, err
}

// Pool owns one upstream connection per distinct logical stream key. It is an
// explicit registry passed to the components that need it, not a process-wide
// global. All downstream sessions requesting an equivalent or coarser view of
// the same key share a single upstream socket.
type Pool struct {
	instanceHost string
	accessToken  string
	bannedWords  []string

	resolver   EndpointResolver
	normalizer *normalize.Normalizer
	dial       DialFunc
	logger     *observability.StreamLogger

	mu            sync.Mutex
	conns         map[models.StreamKey]*Upstream
	totalSessions int
}

// NewPool creates a Pool for one instance. bannedWords is the global
// suppression list applied to every session on every connection.
func NewPool(instanceHost, accessToken string, bannedWords []string, resolver EndpointResolver, normalizer *normalize.Normalizer) *Pool {
	return &Pool{
		instanceHost: instanceHost,
		accessToken:  accessToken,
		bannedWords:  bannedWords,
		resolver:     resolver,
		normalizer:   normalizer,
		dial:         gorillaDial,
		logger:       observability.NewStreamLogger("pool"),
		conns:        make(map[models.StreamKey]*Upstream),
	}
}

// Acquire returns the open (or currently connecting) upstream connection for
// the key, dialing a new one when none exists. Concurrent calls for the same
// cold key resolve to exactly one upstream socket: the first caller registers
// a Connecting entry under the pool lock and dials outside it; later callers
// see that entry and share it.
func (p *Pool) Acquire(ctx context.Context, key models.StreamKey) (*Upstream, error) {
	p.mu.Lock()
	if up, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return up, nil
	}
	up := newUpstream(p, key)
	p.conns[key] = up
	p.mu.Unlock()

	if err := up.connect(ctx); err != nil {
		return nil, err
	}
	return up, nil
}

// Attach turns a downstream connection into a live fanout session: derive
// the logical key, acquire the shared upstream, register for delivery.
func (p *Pool) Attach(ctx context.Context, criteria models.Criteria, conn *fiberws.Conn) (*Session, error) {
	up, err := p.Acquire(ctx, criteria.StreamKey())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.totalSessions >= maxTotalSessions {
		p.mu.Unlock()
		return nil, ErrSessionLimit
	}
	p.totalSessions++
	p.mu.Unlock()

	s := newSession(criteria, conn)
	if attachErr := up.attach(s); attachErr != nil {
		if !errors.Is(attachErr, errUpstreamClosed) {
			p.releaseSlot()
			return nil, attachErr
		}
		// The upstream died between Acquire and attach; one retry against a
		// fresh connection, then give up and let the client reconnect.
		up, err = p.Acquire(ctx, criteria.StreamKey())
		if err == nil {
			err = up.attach(s)
		}
		if err != nil {
			p.releaseSlot()
			return nil, err
		}
	}

	observability.SessionsActive.Inc()
	return s, nil
}

// streamURL builds the full streaming URL for a key: resolved base, stream
// and tag parameters, and the access credential when configured.
func (p *Pool) streamURL(ctx context.Context, key models.StreamKey) string {
	base := p.resolver.Resolve(ctx, p.instanceHost)

	q := url.Values{}
	q.Set("stream", key.UpstreamStream())
	if key.Tag != "" {
		q.Set("tag", key.Tag)
	}
	if p.accessToken != "" {
		q.Set("access_token", p.accessToken)
	}
	return base + "?" + q.Encode()
}

// remove drops a closed connection from the registry so the next Acquire for
// its key dials fresh. Idempotent; only the exact instance is removed, so a
// replacement connection already registered under the key is untouched.
func (p *Pool) remove(key models.StreamKey, up *Upstream, orphanedSessions int) {
	p.mu.Lock()
	if p.conns[key] == up {
		delete(p.conns, key)
	}
	p.totalSessions -= orphanedSessions
	p.mu.Unlock()

	if orphanedSessions > 0 {
		observability.SessionsActive.Sub(float64(orphanedSessions))
	}
}

func (p *Pool) sessionDetached() {
	p.releaseSlot()
	observability.SessionsActive.Dec()
}

// releaseSlot gives back a reserved session slot without touching the active
// sessions gauge, which only counts fully attached sessions.
func (p *Pool) releaseSlot() {
	p.mu.Lock()
	p.totalSessions--
	p.mu.Unlock()
}

// Stats reports current pool occupancy for health reporting.
func (p *Pool) Stats() (connections, sessions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns), p.totalSessions
}

// Shutdown closes every upstream connection. Sessions are released as a side
// effect; their downstream sockets are closed by the server layer.
func (p *Pool) Shutdown(_ context.Context) error {
	p.mu.Lock()
	conns := make([]*Upstream, 0, len(p.conns))
	for _, up := range p.conns {
		conns = append(conns, up)
	}
	p.mu.Unlock()

	for _, up := range conns {
		up.close("shutdown")
	}
	return nil
}
