// Package session owns one client's authentication state: it decides who
// the user is at startup, handles local login and logout, and publishes the
// result to consumers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/directory"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/edge"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/storage"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/telemetry"
)

// Directory reconciles identities with the user directory.
type Directory interface {
	Sync(ctx context.Context, in directory.SyncInput) (*models.DirectoryUser, error)
}

// Authenticator checks local credentials.
type Authenticator interface {
	Verify(email, password string) (*identity.Identity, error)
}

// Options configures a Manager.
type Options struct {
	Mode identity.Mode

	// Probe is consulted at startup in edge mode.
	Probe edge.Prober
	// EdgeCache is the probe's recovery slot, cleared on logout.
	EdgeCache storage.Slot

	// Directory may be nil, in which case identities are published as asserted.
	Directory Directory

	// Credentials validates local logins.
	Credentials Authenticator

	// Persistent holds the restorable local session record.
	Persistent storage.Slot

	// Navigator performs reloads and redirects in edge mode.
	Navigator Navigator
	LogoutURL string

	// LoginDelay is waited before every local credential check.
	LoginDelay time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.AuthMetrics
}

// Manager is the single owned session container.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	gen      uint64 // bumped on every publish
	state    State
	user     *identity.Identity
	platform *models.DirectoryUser
	subs     map[int]chan Snapshot
	nextSub  int
	closed   bool
}

// NewManager returns a Manager in the loading state.
func NewManager(opts Options) (*Manager, error) {
	switch opts.Mode {
	case identity.ModeEdge:
		if opts.Probe == nil {
			return nil, fmt.Errorf("session: edge mode requires a probe")
		}
	case identity.ModeLocal:
	default:
		return nil, fmt.Errorf("session: unknown mode %q", opts.Mode)
	}
	if opts.Persistent == nil {
		return nil, fmt.Errorf("session: persistent slot is required")
	}
	if opts.Navigator == nil {
		opts.Navigator = NopNavigator{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Metrics()
	}
	return &Manager{
		opts:  opts,
		state: StateLoading,
		subs:  make(map[int]chan Snapshot),
	}, nil
}

// Mode returns the authentication mode fixed at construction.
func (m *Manager) Mode() identity.Mode {
	return m.opts.Mode
}

// Start resolves the identity and publishes exactly one terminal state.
// Calling it again re-runs resolution, e.g. after the edge session changed.
func (m *Manager) Start(ctx context.Context) Snapshot {
	ctx, span := telemetry.StartSpan(ctx, "navigator/session", "session.Start",
		attribute.String(telemetry.AttrAuthMode, string(m.opts.Mode)),
	)
	defer span.End()

	user, platform := m.resolve(ctx)
	if user == nil {
		return m.publish(ctx, StateUnauthenticated, nil, nil)
	}
	return m.publish(ctx, StateAuthenticated, user, platform)
}

func (m *Manager) resolve(ctx context.Context) (*identity.Identity, *models.DirectoryUser) {
	if m.opts.Mode == identity.ModeEdge {
		id, err := m.opts.Probe.Probe(ctx)
		if err != nil {
			m.opts.Logger.WarnContext(ctx, "edge identity unavailable", "error", err)
		}
		if id != nil {
			user, platform, ok := m.enrich(ctx, id, false)
			if ok {
				return user, platform
			}
			return nil, nil
		}
	}
	return m.restore(ctx)
}

// restore loads the persisted local record. Corrupt records are deleted.
func (m *Manager) restore(ctx context.Context) (*identity.Identity, *models.DirectoryUser) {
	var id identity.Identity
	err := storage.LoadJSON(m.opts.Persistent, &id)
	switch {
	case errors.Is(err, storage.ErrEmpty):
		return nil, nil
	case err == nil && identity.NormalizeEmail(id.Email) == "":
		err = fmt.Errorf("%w: record has no email", storage.ErrCorrupt)
	}
	if err != nil {
		m.opts.Logger.WarnContext(ctx, "discarding persisted session", "error", err)
		m.clearPersistent(ctx)
		return nil, nil
	}

	id.Provider = identity.ProviderLocal
	user, platform, ok := m.enrich(ctx, &id, false)
	if !ok {
		m.clearPersistent(ctx)
		return nil, nil
	}
	return user, platform
}

// enrich syncs id with the directory and copies the directory role and name
// onto it. ok is false when the directory user is deactivated. A failed sync
// falls back to the asserted identity. refresh marks a re-read of an
// established session rather than a login.
func (m *Manager) enrich(ctx context.Context, id *identity.Identity, refresh bool) (*identity.Identity, *models.DirectoryUser, bool) {
	user := id.Clone()
	if m.opts.Directory == nil {
		return user, nil, true
	}

	in := directory.InputFromIdentity(id)
	in.Refresh = refresh
	du, err := m.opts.Directory.Sync(ctx, in)
	if err != nil || du == nil {
		m.opts.Logger.WarnContext(ctx, "publishing identity without directory enrichment",
			"email", id.Email, "error", err)
		return user, nil, true
	}
	if !du.Active() {
		m.opts.Logger.InfoContext(ctx, "directory user is not active", "email", du.Email, "status", du.Status)
		return nil, nil, false
	}

	user.Role = du.Role
	if du.Name != "" {
		user.DisplayName = du.Name
	}
	if du.LastLoginAt != nil {
		t := *du.LastLoginAt
		user.LastLogin = &t
	}
	return user, du, true
}

// Login checks local credentials. In edge mode it asks the navigator to
// reload so the edge proxy can challenge the user, and returns false.
func (m *Manager) Login(ctx context.Context, email, password string) bool {
	if m.opts.Mode == identity.ModeEdge {
		navigatorFrom(ctx, m.opts.Navigator).Reload()
		return false
	}

	ctx, span := telemetry.StartSpan(ctx, "navigator/session", "session.Login",
		attribute.String(telemetry.AttrUserEmail, identity.NormalizeEmail(email)),
	)
	defer span.End()

	if m.opts.LoginDelay > 0 {
		timer := time.NewTimer(m.opts.LoginDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	if m.opts.Credentials == nil {
		m.opts.Metrics.RecordLogin(ctx, false)
		return false
	}
	id, err := m.opts.Credentials.Verify(email, password)
	if err != nil {
		m.opts.Metrics.RecordLogin(ctx, false)
		m.opts.Logger.InfoContext(ctx, "local login rejected", "email", identity.NormalizeEmail(email))
		return false
	}

	user, platform, ok := m.enrich(ctx, id, false)
	if !ok {
		m.opts.Metrics.RecordLogin(ctx, false)
		return false
	}
	if err := storage.SaveJSON(m.opts.Persistent, user); err != nil {
		m.opts.Logger.WarnContext(ctx, "failed to persist session", "error", err)
	}

	m.opts.Metrics.RecordLogin(ctx, true)
	m.publish(ctx, StateAuthenticated, user, platform)
	return true
}

// Logout ends the session. Edge mode navigates to the edge logout URL; local
// mode drops the persisted record and becomes unauthenticated immediately.
func (m *Manager) Logout(ctx context.Context) {
	if m.opts.EdgeCache != nil {
		if err := m.opts.EdgeCache.Clear(); err != nil {
			m.opts.Logger.WarnContext(ctx, "failed to clear edge cache", "error", err)
		}
	}
	if m.opts.Mode == identity.ModeEdge {
		navigatorFrom(ctx, m.opts.Navigator).Redirect(m.opts.LogoutURL)
		return
	}
	m.mu.Lock()
	m.clearPersistent(ctx)
	snap := m.setLocked(StateUnauthenticated, nil, nil)
	m.mu.Unlock()
	m.observe(ctx, snap)
}

// Refresh re-syncs the current user with the directory and updates the role
// and name in place. A user deactivated since login is signed out. The result
// is dropped when the session changed while the directory was consulted.
func (m *Manager) Refresh(ctx context.Context) Snapshot {
	m.mu.RLock()
	current := m.user.Clone()
	state := m.state
	gen := m.gen
	m.mu.RUnlock()

	if state != StateAuthenticated || current == nil {
		return m.Snapshot()
	}

	user, platform, ok := m.enrich(ctx, current, true)
	if ok && platform == nil {
		// Directory unavailable: keep what we have.
		return m.Snapshot()
	}

	m.mu.Lock()
	if m.gen != gen {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.opts.Logger.DebugContext(ctx, "session changed during refresh, discarding result", "email", current.Email)
		return snap
	}

	local := current.Provider == identity.ProviderLocal
	var snap Snapshot
	if !ok {
		if local {
			m.clearPersistent(ctx)
		}
		snap = m.setLocked(StateUnauthenticated, nil, nil)
	} else {
		if user.Role != current.Role {
			m.opts.Logger.InfoContext(ctx, "session role changed", "email", user.Email, "from", current.Role, "to", user.Role)
		}
		if local {
			if err := storage.SaveJSON(m.opts.Persistent, user); err != nil {
				m.opts.Logger.WarnContext(ctx, "failed to persist session", "error", err)
			}
		}
		snap = m.setLocked(StateAuthenticated, user, platform)
	}
	m.mu.Unlock()

	m.observe(ctx, snap)
	return snap
}

// Revalidate calls Refresh every interval until ctx is done.
func (m *Manager) Revalidate(ctx context.Context, interval time.Duration) {
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
			m.Refresh(ctx)
		}
	}
}

// HasRole reports whether the session is authenticated with one of roles.
func (m *Manager) HasRole(roles ...identity.Role) bool {
	return m.Snapshot().HasRole(roles...)
}

// Snapshot returns the current published state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		User:            m.user.Clone(),
		IsAuthenticated: m.state == StateAuthenticated,
		IsLoading:       m.state == StateLoading,
		AuthMode:        m.opts.Mode,
		PlatformUser:    platformUserFrom(m.platform),
		State:           m.state,
	}
}

// Subscribe returns a channel receiving every published snapshot. Slow
// receivers only see the latest one. cancel stops delivery.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Close tears the session down and closes every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) publish(ctx context.Context, state State, user *identity.Identity, platform *models.DirectoryUser) Snapshot {
	m.mu.Lock()
	snap := m.setLocked(state, user, platform)
	m.mu.Unlock()

	m.observe(ctx, snap)
	return snap
}

// setLocked replaces the session state and notifies subscribers. m.mu must
// be held for writing.
func (m *Manager) setLocked(state State, user *identity.Identity, platform *models.DirectoryUser) Snapshot {
	m.gen++
	m.state = state
	m.user = user
	m.platform = platform
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	return snap
}

func (m *Manager) observe(ctx context.Context, snap Snapshot) {
	m.opts.Metrics.RecordState(ctx, string(snap.State), string(m.opts.Mode))
	attrs := []any{"state", snap.State, "mode", m.opts.Mode}
	if snap.User != nil {
		attrs = append(attrs, "email", snap.User.Email, "role", snap.User.Role)
	}
	m.opts.Logger.InfoContext(ctx, "session published", attrs...)
}

func (m *Manager) clearPersistent(ctx context.Context) {
	if err := m.opts.Persistent.Clear(); err != nil {
		m.opts.Logger.WarnContext(ctx, "failed to clear persisted session", "error", err)
	}
}
