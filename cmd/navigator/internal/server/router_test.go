package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/credentials"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/bunx"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/directory"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/migrations"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/repository"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/session"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/storage"
)

type fixture struct {
	server    *httptest.Server
	clients   *ClientSessions
	directory *directory.Synchronizer
}

// newClients builds a registry whose sessions share opts but each keep their
// own persisted record.
func newClients(t *testing.T, opts session.Options) *ClientSessions {
	t.Helper()
	clients, err := NewClientSessions(ClientSessionsOptions{
		Mode: opts.Mode,
		New: func() (SessionService, error) {
			o := opts
			o.Persistent = storage.NewMemorySlot("session", 0)
			return session.NewManager(o)
		},
	})
	require.NoError(t, err)
	t.Cleanup(clients.Close)
	return clients
}

func newLocalFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(ctx, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })
	_, err = migrations.Apply(ctx, db)
	require.NoError(t, err)

	dir := directory.New(directory.Dependencies{
		Users:    repository.NewBunUserRepository(db),
		Activity: repository.NewBunActivityLogRepository(db),
	})
	table, err := credentials.NewDemoTable(credentials.DemoAccounts)
	require.NoError(t, err)

	clients := newClients(t, session.Options{
		Mode:        identity.ModeLocal,
		Directory:   dir,
		Credentials: table,
	})

	router, err := NewRouter(RouterOptions{Sessions: clients, Directory: dir, LoginRate: 100, LoginBurst: 100})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, clients: clients, directory: dir}
}

// client returns an HTTP client with its own cookie jar.
func (f *fixture) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (f *fixture) do(t *testing.T, c *http.Client, method, path string, body any, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) login(t *testing.T, c *http.Client, email, password string) {
	t.Helper()
	resp := f.do(t, c, http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSessionEndpoints_LocalMode(t *testing.T) {
	f := newLocalFixture(t)
	c := f.client(t)

	resp := f.do(t, c, http.MethodGet, "/api/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[session.Snapshot](t, resp)
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, identity.ModeLocal, snap.AuthMode)

	resp = f.do(t, c, http.MethodPost, "/api/auth/login", loginRequest{Email: "admin@bvg.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	failed := decode[loginResponse](t, resp)
	assert.False(t, failed.OK)
	assert.Equal(t, "invalid email or password", failed.Error)
	assert.Nil(t, sessionCookie(resp))

	resp = f.do(t, c, http.MethodPost, "/api/auth/login", loginRequest{Email: "admin@bvg.com", Password: "admin123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	ok := decode[loginResponse](t, resp)
	assert.True(t, ok.OK)
	require.NotNil(t, ok.Session)
	assert.Equal(t, identity.RoleAdmin, ok.Session.User.Role)
	require.NotNil(t, ok.Session.PlatformUser)
	assert.Equal(t, "admin@bvg.com", ok.Session.PlatformUser.Email)
	assert.Equal(t, 1, f.clients.Len())

	resp = f.do(t, c, http.MethodGet, "/api/auth/session", nil)
	assert.True(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	resp = f.do(t, c, http.MethodGet, "/api/auth/has-role?roles=ops,admin", nil)
	assert.True(t, decode[hasRoleResponse](t, resp).Allowed)
	resp = f.do(t, c, http.MethodGet, "/api/auth/has-role?roles=read", nil)
	assert.False(t, decode[hasRoleResponse](t, resp).Allowed)
	resp = f.do(t, c, http.MethodGet, "/api/auth/has-role?roles=root", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/auth/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	resp = f.do(t, c, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.clients.Len())

	resp = f.do(t, c, http.MethodGet, "/api/auth/session", nil)
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	resp = f.do(t, c, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessions_AreBoundPerClient(t *testing.T) {
	f := newLocalFixture(t)
	admin, other := f.client(t), f.client(t)

	f.login(t, admin, "admin@bvg.com", "admin123")

	resp := f.do(t, other, http.MethodGet, "/api/auth/session", nil)
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	resp = f.do(t, other, http.MethodGet, "/api/auth/has-role?roles=admin", nil)
	assert.False(t, decode[hasRoleResponse](t, resp).Allowed)

	resp = f.do(t, other, http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, other, http.MethodPost, "/api/admin/users", createUserRequest{Email: "x@bvg.com", Role: "admin"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, other, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, other, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, other, http.MethodPost, "/api/auth/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	// None of the above touched the admin's session.
	resp = f.do(t, admin, http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.login(t, other, "viewer@bvg.com", "viewer123")
	resp = f.do(t, other, http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, other, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, admin, http.MethodGet, "/api/auth/session", nil)
	snap := decode[session.Snapshot](t, resp)
	require.True(t, snap.IsAuthenticated)
	assert.Equal(t, "admin@bvg.com", snap.User.Email)
}

func TestLogin_RotatesSessionToken(t *testing.T) {
	f := newLocalFixture(t)
	c := f.client(t)

	resp := f.do(t, c, http.MethodPost, "/api/auth/login", loginRequest{Email: "admin@bvg.com", Password: "admin123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := sessionCookie(resp)
	require.NotNil(t, first)

	resp = f.do(t, c, http.MethodPost, "/api/auth/login", loginRequest{Email: "ops@bvg.com", Password: "ops123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := sessionCookie(resp)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, 1, f.clients.Len())

	// The replaced token no longer maps to a session.
	resp = f.do(t, http.DefaultClient, http.MethodGet, "/api/auth/session", nil, &http.Cookie{Name: SessionCookieName, Value: first.Value})
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	resp = f.do(t, http.DefaultClient, http.MethodGet, "/api/auth/session", nil, &http.Cookie{Name: SessionCookieName, Value: "forged"})
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)

	resp = f.do(t, c, http.MethodGet, "/api/auth/session", nil)
	snap := decode[session.Snapshot](t, resp)
	require.True(t, snap.IsAuthenticated)
	assert.Equal(t, "ops@bvg.com", snap.User.Email)
}

func TestLogin_FailureKeepsExistingSession(t *testing.T) {
	f := newLocalFixture(t)
	c := f.client(t)
	f.login(t, c, "admin@bvg.com", "admin123")

	resp := f.do(t, c, http.MethodPost, "/api/auth/login", loginRequest{Email: "admin@bvg.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, c, http.MethodGet, "/api/auth/session", nil)
	assert.True(t, decode[session.Snapshot](t, resp).IsAuthenticated)
}

func TestLogin_BadBody(t *testing.T) {
	f := newLocalFixture(t)
	resp := f.do(t, f.client(t), http.MethodPost, "/api/auth/login", map[string]any{"email": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutes(t *testing.T) {
	f := newLocalFixture(t)
	c := f.client(t)

	resp := f.do(t, c, http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// admin@bvg.com is the first user, so it bootstraps as admin.
	f.login(t, c, "admin@bvg.com", "admin123")

	resp = f.do(t, c, http.MethodPost, "/api/admin/users", createUserRequest{Email: "Nuevo@BVG.com", Role: "read"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[userResponse](t, resp)
	assert.Equal(t, "nuevo@bvg.com", created.Email)
	require.NotNil(t, created.CreatedBy)
	assert.Equal(t, "admin@bvg.com", *created.CreatedBy)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users", createUserRequest{Email: "nuevo@bvg.com", Role: "read"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users", createUserRequest{Email: "x@bvg.com", Role: "root"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users/nuevo@bvg.com/role", setRoleRequest{Role: "ops"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, identity.RoleOps, decode[userResponse](t, resp).Role)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users/nuevo@bvg.com/name", renameRequest{Name: "Nuevo Operador"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users/nuevo@bvg.com/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "inactive", string(decode[userResponse](t, resp).Status))

	resp = f.do(t, c, http.MethodPost, "/api/admin/users/nuevo@bvg.com/reactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users/admin@bvg.com/deactivate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/admin/users/ghost@bvg.com/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, c, http.MethodGet, "/api/admin/users/nuevo@bvg.com/activity?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]activityResponse](t, resp)
	require.Len(t, entries, 2)
	assert.Equal(t, "reactivated", string(entries[0].Action))

	resp = f.do(t, c, http.MethodGet, "/api/admin/users/nuevo@bvg.com/activity?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, c, http.MethodGet, "/api/admin/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]userResponse](t, resp), 2)
}

func TestAdminRoutes_ForbiddenForNonAdmins(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	c := f.client(t)

	_, err := f.directory.Sync(ctx, directory.SyncInput{Email: "root@bvg.com", Provider: identity.ProviderLocal})
	require.NoError(t, err)
	f.login(t, c, "ops@bvg.com", "ops123")

	resp := f.do(t, c, http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, c, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientSessions_RefreshAllDropsDeactivatedUsers(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	admin, ops := f.client(t), f.client(t)

	f.login(t, admin, "admin@bvg.com", "admin123")
	f.login(t, ops, "ops@bvg.com", "ops123")
	require.Equal(t, 2, f.clients.Len())

	_, err := f.directory.Deactivate(ctx, "admin@bvg.com", "ops@bvg.com")
	require.NoError(t, err)

	f.clients.RefreshAll(ctx)
	assert.Equal(t, 1, f.clients.Len())

	resp := f.do(t, ops, http.MethodGet, "/api/auth/session", nil)
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)
	resp = f.do(t, admin, http.MethodGet, "/api/auth/session", nil)
	assert.True(t, decode[session.Snapshot](t, resp).IsAuthenticated)
}

func TestEdgeMode_SessionsFollowEdgeCookies(t *testing.T) {
	var identityCalls atomic.Int32
	edgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identityCalls.Add(1)
		c, err := r.Cookie("CF_Authorization")
		if err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"email":"` + c.Value + `"}`))
	}))
	t.Cleanup(edgeSrv.Close)

	clients := newClients(t, session.Options{
		Mode:      identity.ModeEdge,
		Probe:     newEdgeProbe(edgeSrv.URL),
		LogoutURL: edgeSrv.URL + "/cdn-cgi/access/logout",
	})
	router, err := NewRouter(RouterOptions{Sessions: clients})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	f := &fixture{server: srv, clients: clients}

	ops := &http.Cookie{Name: "CF_Authorization", Value: "ops@bvg.com"}
	reader := &http.Cookie{Name: "CF_Authorization", Value: "someone@bvg.com"}
	anon := http.DefaultClient

	resp := f.do(t, anon, http.MethodPost, "/api/auth/login", loginRequest{Email: "a@bvg.com", Password: "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lr := decode[loginResponse](t, resp)
	assert.False(t, lr.OK)
	assert.True(t, lr.Reload)

	resp = f.do(t, anon, http.MethodPost, "/api/auth/reload", nil, ops)
	snap := decode[session.Snapshot](t, resp)
	require.True(t, snap.IsAuthenticated)
	assert.Equal(t, identity.RoleOps, snap.User.Role)
	assert.Equal(t, 1, clients.Len())

	// A known client is served without asking the edge again.
	before := identityCalls.Load()
	resp = f.do(t, anon, http.MethodGet, "/api/auth/session", nil, ops)
	assert.Equal(t, "ops@bvg.com", decode[session.Snapshot](t, resp).User.Email)
	assert.Equal(t, before, identityCalls.Load())

	resp = f.do(t, anon, http.MethodGet, "/api/auth/session", nil, reader)
	snap = decode[session.Snapshot](t, resp)
	require.True(t, snap.IsAuthenticated)
	assert.Equal(t, "someone@bvg.com", snap.User.Email)
	assert.Equal(t, identity.RoleRead, snap.User.Role)

	resp = f.do(t, anon, http.MethodGet, "/api/auth/session", nil)
	assert.False(t, decode[session.Snapshot](t, resp).IsAuthenticated)
	resp = f.do(t, anon, http.MethodPost, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = f.do(t, anon, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, anon, http.MethodPost, "/api/auth/logout", nil, ops)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, edgeSrv.URL+"/cdn-cgi/access/logout", decode[logoutResponse](t, resp).Redirect)
	assert.Equal(t, 1, clients.Len())
}

func TestLoginRateLimit(t *testing.T) {
	clients := newClients(t, session.Options{Mode: identity.ModeLocal})
	router, err := NewRouter(RouterOptions{Sessions: clients, LoginRate: 0.001, LoginBurst: 1})
	require.NoError(t, err)

	login := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"a@b.c","password":"x"}`))
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, login().Code)
	limited := login()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
}

func TestHealthz(t *testing.T) {
	router, err := NewRouter(RouterOptions{Sessions: newClients(t, session.Options{Mode: identity.ModeLocal})})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRouteEnforcer(t *testing.T) {
	e, err := NewRouteEnforcer()
	require.NoError(t, err)

	tests := []struct {
		role, path, method string
		want               bool
	}{
		{"admin", "/api/admin/users", "GET", true},
		{"admin", "/api/admin/users/a@b.c/role", "POST", true},
		{"ops", "/api/admin/users", "GET", false},
		{"read", "/api/admin/users", "GET", false},
		{"read", "/api/auth/refresh", "POST", true},
		{"ops", "/api/auth/refresh", "POST", true},
		{"admin", "/api/auth/refresh", "POST", true},
		{"read", "/api/auth/refresh", "DELETE", false},
	}
	for _, tt := range tests {
		got, err := e.Enforce(tt.role, tt.path, tt.method)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s %s", tt.role, tt.method, tt.path)
	}
}
