// Package cmdutil wires configuration into the services CLI commands use.
package cmdutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/config"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/credentials"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/bunx"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/directory"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/edge"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/migrations"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/repository"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/session"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/storage"
)

// SessionFileName is the persisted local session record under the state dir.
const SessionFileName = "session.json"

// DirectoryBundle bundles the synchronizer with its database connection.
type DirectoryBundle struct {
	Directory *directory.Synchronizer
	DB        *bun.DB
}

// Close releases the underlying database connection.
func (b *DirectoryBundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	_ = bunx.Close(b.DB)
}

// NewDirectoryBundle opens the directory database and builds the synchronizer.
// With migrate set, pending migrations are applied first.
func NewDirectoryBundle(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*DirectoryBundle, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if migrate {
		group, err := migrations.Apply(ctx, db)
		if err != nil {
			_ = bunx.Close(db)
			return nil, err
		}
		if group.ID != 0 {
			logger.Info("applied migrations", "group", group.ID)
		}
	}

	rules, err := RoleRules(cfg)
	if err != nil {
		_ = bunx.Close(db)
		return nil, err
	}

	dir := directory.New(directory.Dependencies{
		Users:    repository.NewBunUserRepository(db),
		Activity: repository.NewBunActivityLogRepository(db),
		Roles:    identity.NewRoleResolver(rules),
		Logger:   logger.With("component", "directory"),
		Timeout:  cfg.Directory.Timeout,
	})
	return &DirectoryBundle{Directory: dir, DB: db}, nil
}

// RoleRules converts the configured role rules. Without an exact table the
// shipped one is used.
func RoleRules(cfg *config.Config) (identity.RoleRules, error) {
	rules := identity.DefaultRoleRules()
	if len(cfg.Roles.Exact) > 0 {
		rules.Exact = make(map[string]identity.Role, len(cfg.Roles.Exact))
		for email, name := range cfg.Roles.Exact {
			role, err := identity.ParseRole(name)
			if err != nil {
				return identity.RoleRules{}, fmt.Errorf("roles.exact[%s]: %w", email, err)
			}
			rules.Exact[email] = role
		}
	}
	rules.AdminDomains = cfg.Roles.AdminDomains
	rules.OpsPrefixes = cfg.Roles.OpsPrefixes
	return rules, nil
}

// CredentialTable builds the local credential table, falling back to the
// demo accounts when none are configured.
func CredentialTable(cfg *config.Config) (*credentials.Table, error) {
	if len(cfg.Local.Accounts) == 0 {
		return credentials.NewDemoTable(credentials.DemoAccounts)
	}
	accounts := make([]credentials.Account, 0, len(cfg.Local.Accounts))
	for _, a := range cfg.Local.Accounts {
		role, err := identity.ParseRole(a.Role)
		if err != nil {
			return nil, fmt.Errorf("local account %s: %w", a.Email, err)
		}
		accounts = append(accounts, credentials.Account{
			Email:        a.Email,
			Name:         a.Name,
			Role:         role,
			PasswordHash: a.PasswordHash,
		})
	}
	return credentials.NewTable(accounts)
}

// App is the fully wired session stack.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Mode      identity.Mode
	Directory *DirectoryBundle
	Session   *session.Manager
	EdgeCache *storage.MemorySlot

	sessionOpts session.Options
	newProbe    func(cache storage.Slot) edge.Prober
}

// AppOptions tunes NewApp.
type AppOptions struct {
	Migrate   bool
	Navigator session.Navigator
}

// NewApp selects the mode and builds the probe, directory, and session
// manager. The session is not started.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts AppOptions) (*App, error) {
	mode := identity.SelectMode(cfg.ModeHost(), cfg.ForceLocal)
	logger.Info("authentication mode selected", "mode", mode, "host", cfg.ModeHost(), "force_local", cfg.ForceLocal)

	bundle, err := NewDirectoryBundle(ctx, cfg, logger, opts.Migrate)
	if err != nil {
		return nil, err
	}

	table, err := CredentialTable(cfg)
	if err != nil {
		bundle.Close()
		return nil, err
	}

	persistent, err := storage.NewFileSlot(cfg.StateDir, SessionFileName)
	if err != nil {
		bundle.Close()
		return nil, err
	}
	edgeCache := storage.NewMemorySlot("edge-identity", cfg.Session.CacheTTL)

	rules, err := RoleRules(cfg)
	if err != nil {
		bundle.Close()
		return nil, err
	}

	sessionOpts := session.Options{
		Mode:        mode,
		EdgeCache:   edgeCache,
		Directory:   bundle.Directory,
		Credentials: table,
		Persistent:  persistent,
		Navigator:   opts.Navigator,
		LogoutURL:   cfg.Edge.LogoutURL(),
		LoginDelay:  cfg.Session.LoginDelay,
		Logger:      logger.With("component", "session"),
	}
	newProbe := func(cache storage.Slot) edge.Prober {
		return edge.NewProbe(edge.Config{
			IdentityURL: cfg.Edge.IdentityURL(),
			Timeout:     cfg.Edge.Timeout,
			Cookies:     cfg.Edge.Cookies,
		}, identity.NewRoleResolver(rules), cache, edge.WithLogger(logger.With("component", "edge")))
	}
	if mode == identity.ModeEdge {
		sessionOpts.Probe = newProbe(edgeCache)
	}

	manager, err := session.NewManager(sessionOpts)
	if err != nil {
		bundle.Close()
		return nil, err
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		Mode:        mode,
		Directory:   bundle,
		Session:     manager,
		EdgeCache:   edgeCache,
		sessionOpts: sessionOpts,
		newProbe:    newProbe,
	}, nil
}

// NewClientSession builds an unstarted session for one HTTP client. Its
// record lives in memory for session.client_ttl and it has its own edge
// recovery cache, so nothing is shared with other clients or the CLI session.
func (a *App) NewClientSession() (*session.Manager, error) {
	opts := a.sessionOpts
	opts.Persistent = storage.NewMemorySlot("session", a.Config.Session.ClientTTL)
	opts.EdgeCache = storage.NewMemorySlot("edge-identity", a.Config.Session.CacheTTL)
	opts.Navigator = nil
	if a.Mode == identity.ModeEdge {
		opts.Probe = a.newProbe(opts.EdgeCache)
	}
	return session.NewManager(opts)
}

// Close tears down the session and releases the database.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Session != nil {
		a.Session.Close()
	}
	a.Directory.Close()
}
