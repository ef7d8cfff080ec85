// Package edge asks the edge proxy whether the current request carries an
// authenticated identity.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/storage"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/telemetry"
)

// Probe outcomes, recorded as metrics and span attributes.
const (
	OutcomeIdentity  = "identity"
	OutcomeAbsent    = "absent"
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
)

// maxPayloadBytes bounds the identity document read from the edge.
const maxPayloadBytes = 1 << 20

// Config describes the edge identity endpoint.
type Config struct {
	IdentityURL string
	Timeout     time.Duration
	// Cookies are attached to every probe request.
	Cookies map[string]string
}

// Prober is the capability the session manager needs from the edge.
type Prober interface {
	Probe(ctx context.Context) (*identity.Identity, error)
}

// Probe calls the edge identity endpoint and normalizes its answer.
type Probe struct {
	cfg     Config
	roles   *identity.RoleResolver
	cache   storage.Slot
	client  *http.Client
	logger  *slog.Logger
	metrics *telemetry.AuthMetrics
	now     func() time.Time
}

var _ Prober = (*Probe)(nil)

// Option configures a Probe.
type Option func(*Probe)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Probe) { p.client = c }
}

// WithLogger sets the probe logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Probe) { p.now = now }
}

// WithMetrics overrides the process-wide instruments.
func WithMetrics(m *telemetry.AuthMetrics) Option {
	return func(p *Probe) { p.metrics = m }
}

// NewProbe returns a probe. cache is the session-scoped recovery slot and may be nil.
func NewProbe(cfg Config, roles *identity.RoleResolver, cache storage.Slot, opts ...Option) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if roles == nil {
		roles = identity.NewRoleResolver(identity.DefaultRoleRules())
	}
	p := &Probe{
		cfg:     cfg,
		roles:   roles,
		cache:   cache,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:  logging.Discard(),
		metrics: telemetry.Metrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the identity asserted by the edge proxy.
//
// A non-2xx answer or a payload without an email is absence: (nil, nil).
// Transport and decoding failures fall back to the last cached identity; the
// error is returned only when no cached identity exists.
func (p *Probe) Probe(ctx context.Context) (*identity.Identity, error) {
	ctx, span := telemetry.StartSpan(ctx, "navigator/edge", "edge.Probe",
		attribute.String(telemetry.AttrAuthMode, string(identity.ModeEdge)),
	)
	defer span.End()

	id, err := p.fetch(ctx)
	switch {
	case err != nil:
		p.logger.WarnContext(ctx, "edge identity probe failed", "error", err)
		if cached := p.recover(); cached != nil {
			p.finish(ctx, span, OutcomeRecovered)
			return cached, nil
		}
		telemetry.RecordError(span, err)
		p.finish(ctx, span, OutcomeFailed)
		return nil, err
	case id == nil:
		p.finish(ctx, span, OutcomeAbsent)
		return nil, nil
	}

	if p.cache != nil {
		if err := storage.SaveJSON(p.cache, id); err != nil {
			p.logger.WarnContext(ctx, "failed to cache edge identity", "error", err)
		}
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrUserEmail, id.Email),
		attribute.String(telemetry.AttrUserRole, string(id.Role)),
	)
	p.finish(ctx, span, OutcomeIdentity)
	return id, nil
}

func (p *Probe) finish(ctx context.Context, span trace.Span, outcome string) {
	span.SetAttributes(attribute.String(telemetry.AttrProbeOutcome, outcome))
	p.metrics.RecordProbe(ctx, outcome)
	p.logger.DebugContext(ctx, "edge identity probe", "outcome", outcome)
}

func (p *Probe) fetch(ctx context.Context) (*identity.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for name, value := range p.cfg.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	for _, c := range cookiesFromContext(ctx) {
		req.AddCookie(c)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadBytes))
		return nil, nil
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayloadBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode identity payload: %w", err)
	}
	payload, err := DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identity payload: %w", err)
	}
	return p.normalize(payload), nil
}

// normalize builds an Identity from payload; nil when no email is present.
func (p *Probe) normalize(payload Payload) *identity.Identity {
	email := identity.NormalizeEmail(First(payload, EmailChain))
	if email == "" {
		return nil
	}
	return &identity.Identity{
		SubjectID:   First(payload, SubjectChain),
		Email:       email,
		DisplayName: First(payload, NameChain),
		Role:        p.roles.Resolve(email),
		Provider:    identity.ProviderEdge,
		Country:     payload.Country,
		CreatedAt:   p.now().UTC(),
	}
}

func (p *Probe) recover() *identity.Identity {
	if p.cache == nil {
		return nil
	}
	var id identity.Identity
	if err := storage.LoadJSON(p.cache, &id); err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			_ = p.cache.Clear()
		}
		return nil
	}
	if id.Email == "" {
		return nil
	}
	return &id
}

type cookiesKey struct{}

// ContextWithCookies attaches browser cookies that the probe forwards to the
// edge identity endpoint.
func ContextWithCookies(ctx context.Context, cookies []*http.Cookie) context.Context {
	return context.WithValue(ctx, cookiesKey{}, cookies)
}

func cookiesFromContext(ctx context.Context) []*http.Cookie {
	cookies, _ := ctx.Value(cookiesKey{}).([]*http.Cookie)
	return cookies
}
