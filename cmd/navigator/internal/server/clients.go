package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/edge"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
)

// SessionCookieName carries the opaque local-mode session token.
const SessionCookieName = "navigator.session"

const tokenLength = 32

// SessionFactory builds a fresh, unstarted session for one client.
type SessionFactory func() (SessionService, error)

// ClientSessionsOptions configures NewClientSessions.
type ClientSessionsOptions struct {
	Mode identity.Mode
	New  SessionFactory

	// TTL expires a client session that long after it was established.
	// Zero keeps entries until they are evicted by size or logged out.
	TTL time.Duration
	// MaxClients caps the number of live sessions; the least recently used
	// one is dropped first. Zero means 1024.
	MaxClients int

	Logger *slog.Logger
}

// ClientSessions binds every HTTP client to its own session.
//
// Local mode identifies a client by the opaque token in SessionCookieName,
// issued on a successful login. Edge mode identifies a client by the cookies
// the edge proxy set on it: sessions are resolved against the identity
// endpoint with those cookies and kept under their fingerprint. A request
// that maps to no live session gets a fresh one that lives for the request.
type ClientSessions struct {
	mode    identity.Mode
	factory SessionFactory
	cache   *expirable.LRU[string, SessionService]
	logger  *slog.Logger
}

// NewClientSessions returns an empty registry.
func NewClientSessions(opts ClientSessionsOptions) (*ClientSessions, error) {
	if opts.New == nil {
		return nil, fmt.Errorf("client sessions: a session factory is required")
	}
	switch opts.Mode {
	case identity.ModeEdge, identity.ModeLocal:
	default:
		return nil, fmt.Errorf("client sessions: unknown mode %q", opts.Mode)
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	onEvict := func(_ string, s SessionService) { s.Close() }
	return &ClientSessions{
		mode:    opts.Mode,
		factory: opts.New,
		cache:   expirable.NewLRU[string, SessionService](opts.MaxClients, onEvict, opts.TTL),
		logger:  opts.Logger,
	}, nil
}

// Mode returns the authentication mode every client session runs in.
func (c *ClientSessions) Mode() identity.Mode {
	return c.mode
}

// Len reports the number of live client sessions.
func (c *ClientSessions) Len() int {
	return c.cache.Len()
}

type clientSessionKey struct{}

// clientSession is the session bound to one request. An empty key marks a
// session that is not held by the registry.
type clientSession struct {
	service SessionService
	key     string
}

func (cs *clientSession) bound() bool {
	return cs.key != ""
}

func currentSession(r *http.Request) *clientSession {
	cs, _ := r.Context().Value(clientSessionKey{}).(*clientSession)
	return cs
}

// Middleware resolves the caller's session and binds it to the request.
func (c *ClientSessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs, err := c.lookup(r)
		if err != nil {
			c.logger.ErrorContext(r.Context(), "failed to create client session", "error", err)
			writeError(w, http.StatusInternalServerError, "session unavailable")
			return
		}
		defer func() {
			if !cs.bound() {
				cs.service.Close()
			}
		}()
		ctx := context.WithValue(r.Context(), clientSessionKey{}, cs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *ClientSessions) lookup(r *http.Request) (*clientSession, error) {
	if c.mode == identity.ModeEdge {
		return c.lookupEdge(r)
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		key := hashToken(cookie.Value)
		if s, ok := c.cache.Get(key); ok {
			return &clientSession{service: s, key: key}, nil
		}
	}
	s, err := c.start(r.Context())
	if err != nil {
		return nil, err
	}
	return &clientSession{service: s}, nil
}

func (c *ClientSessions) lookupEdge(r *http.Request) (*clientSession, error) {
	key := edgeFingerprint(r.Cookies())
	if key != "" {
		if s, ok := c.cache.Get(key); ok {
			return &clientSession{service: s, key: key}, nil
		}
	}
	return c.resolveEdge(r, key)
}

// resolveEdge asks the edge identity endpoint with the request's cookies. The
// session is kept only when it came up authenticated.
func (c *ClientSessions) resolveEdge(r *http.Request, key string) (*clientSession, error) {
	s, err := c.start(edge.ContextWithCookies(r.Context(), r.Cookies()))
	if err != nil {
		return nil, err
	}
	if key == "" || !s.Snapshot().IsAuthenticated {
		return &clientSession{service: s}, nil
	}
	c.cache.Add(key, s)
	return &clientSession{service: s, key: key}, nil
}

func (c *ClientSessions) start(ctx context.Context) (SessionService, error) {
	s, err := c.factory()
	if err != nil {
		return nil, err
	}
	s.Start(ctx)
	return s, nil
}

// loginLocal signs in on a fresh session and, on success, issues a new token
// for it. The caller's previous session, if any, is dropped.
func (c *ClientSessions) loginLocal(ctx context.Context, cs *clientSession, email, password string) (SessionService, string, bool, error) {
	s, err := c.start(ctx)
	if err != nil {
		return nil, "", false, err
	}
	if !s.Login(ctx, email, password) {
		s.Close()
		return nil, "", false, nil
	}
	token, key, err := generateToken()
	if err != nil {
		s.Close()
		return nil, "", false, err
	}
	c.cache.Add(key, s)
	c.forget(cs)
	return s, token, true, nil
}

// reloadEdge drops the caller's session and resolves a new one.
func (c *ClientSessions) reloadEdge(r *http.Request, cs *clientSession) (*clientSession, error) {
	c.forget(cs)
	return c.resolveEdge(r, edgeFingerprint(r.Cookies()))
}

// forget removes the session from the registry, closing it.
func (c *ClientSessions) forget(cs *clientSession) {
	if cs == nil || !cs.bound() {
		return
	}
	c.cache.Remove(cs.key)
	cs.key = ""
}

// Revalidate refreshes every live session each interval until ctx is done.
// Sessions that end up signed out are dropped.
func (c *ClientSessions) Revalidate(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RefreshAll(ctx)
		}
	}
}

// RefreshAll re-syncs every live session with the directory once.
func (c *ClientSessions) RefreshAll(ctx context.Context) {
	for _, key := range c.cache.Keys() {
		s, ok := c.cache.Peek(key)
		if !ok {
			continue
		}
		if snap := s.Refresh(ctx); !snap.IsAuthenticated {
			c.logger.InfoContext(ctx, "dropping signed out client session")
			c.cache.Remove(key)
		}
	}
}

// Close drops every live session.
func (c *ClientSessions) Close() {
	c.cache.Purge()
}

func (c *ClientSessions) setCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *ClientSessions) clearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateToken returns a random hex token and the SHA256 hex hash it is
// looked up by.
func generateToken() (string, string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "local:" + hex.EncodeToString(sum[:])
}

// edgeFingerprint hashes the request cookies, ignoring our own. Empty when
// the request carries none.
func edgeFingerprint(cookies []*http.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == SessionCookieName {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	if len(pairs) == 0 {
		return ""
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "; ")))
	return "edge:" + hex.EncodeToString(sum[:])
}
