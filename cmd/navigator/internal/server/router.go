// Package server exposes the session and directory administration over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/session"
)

// SessionService is the session capability the handlers consume.
type SessionService interface {
	Start(ctx context.Context) session.Snapshot
	Login(ctx context.Context, email, password string) bool
	Logout(ctx context.Context)
	Refresh(ctx context.Context) session.Snapshot
	Snapshot() session.Snapshot
	Mode() identity.Mode
	Close()
}

// DirectoryAdmin is the directory capability behind /api/admin.
type DirectoryAdmin interface {
	List(ctx context.Context) ([]models.DirectoryUser, error)
	Get(ctx context.Context, email string) (*models.DirectoryUser, error)
	CreateUser(ctx context.Context, actor, email, name string, role identity.Role) (*models.DirectoryUser, error)
	SetRole(ctx context.Context, actor, email string, role identity.Role) (*models.DirectoryUser, error)
	Rename(ctx context.Context, actor, email, name string) (*models.DirectoryUser, error)
	Deactivate(ctx context.Context, actor, email string) (*models.DirectoryUser, error)
	Reactivate(ctx context.Context, actor, email string) (*models.DirectoryUser, error)
	Activity(ctx context.Context, email string, limit int) ([]models.ActivityLogEntry, error)
}

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	Sessions  *ClientSessions
	Directory DirectoryAdmin // nil disables /api/admin
	Enforcer  casbin.IEnforcer
	Logger    *slog.Logger

	CORSOptions *cors.Options
	Middleware  []func(http.Handler) http.Handler

	// LoginRate and LoginBurst limit login attempts per client IP.
	// A zero LoginRate means 1 attempt per second with burst 5.
	LoginRate  rate.Limit
	LoginBurst int

	HealthHandler http.HandlerFunc
}

// DefaultCORSOptions returns the development CORS policy for the dashboard.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the session handlers mounted.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("router: client sessions are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Enforcer == nil {
		enforcer, err := NewRouteEnforcer()
		if err != nil {
			return nil, err
		}
		opts.Enforcer = enforcer
	}
	if opts.LoginRate == 0 {
		opts.LoginRate = 1
		opts.LoginBurst = 5
	}

	r := chi.NewRouter()

	r.Use(otelhttp.NewMiddleware("navigator"))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	h := &handlers{clients: opts.Sessions, directory: opts.Directory, logger: opts.Logger}
	gate := requireRole(opts.Enforcer)
	limiter := NewRateLimiter(opts.LoginRate, opts.LoginBurst)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(opts.Sessions.Middleware)
		r.Get("/session", h.session)
		r.With(limiter.Middleware).Post("/login", h.login)
		r.With(gate).Post("/logout", h.logout)
		r.Post("/reload", h.reload)
		r.Get("/has-role", h.hasRole)
		r.With(gate).Post("/refresh", h.refresh)
	})

	if opts.Directory != nil {
		r.Route("/api/admin/users", func(r chi.Router) {
			r.Use(opts.Sessions.Middleware)
			r.Use(gate)
			r.Get("/", h.listUsers)
			r.Post("/", h.createUser)
			r.Post("/{email}/role", h.setRole)
			r.Post("/{email}/name", h.rename)
			r.Post("/{email}/deactivate", h.deactivate)
			r.Post("/{email}/reactivate", h.reactivate)
			r.Get("/{email}/activity", h.activity)
		})
	} else {
		opts.Logger.Warn("directory not configured, skipping /api/admin routes")
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)

	return r, nil
}

// NewH2CHandler wraps the router with an h2c server for HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	return h2c.NewHandler(router, &http2.Server{}), nil
}
