package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable (NAVIGATOR_DATABASE_URL, ...).
const EnvPrefix = "NAVIGATOR"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN) for the user directory
	DatabaseURL string

	// Maximum database connection pool size (PostgreSQL only)
	MaxDBConnections int

	// Server bind address (host:port)
	ServerAddr string

	// PublicURL is the URL the dashboard is served from. Its host feeds the
	// mode selector unless Hostname is set.
	PublicURL string

	// Hostname overrides the host used for mode selection
	Hostname string

	// ForceLocal forces local login mode regardless of hostname
	ForceLocal bool

	// StateDir holds client-side persistent storage (local session record)
	StateDir string

	Log           LogConfig
	Edge          EdgeConfig
	Directory     DirectoryConfig
	Session       SessionConfig
	Roles         RolesConfig
	Local         LocalConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// EdgeConfig describes the edge proxy identity endpoints.
type EdgeConfig struct {
	// BaseURL is the origin the edge proxy serves; defaults to PublicURL
	BaseURL      string
	IdentityPath string
	LogoutPath   string
	Timeout      time.Duration
	// Cookies are attached to every identity probe, configured as
	// "Name=value" pairs so names keep their case (e.g. CF_Authorization)
	Cookies map[string]string
}

// IdentityURL returns the absolute identity endpoint URL.
func (e EdgeConfig) IdentityURL() string {
	return strings.TrimRight(e.BaseURL, "/") + e.IdentityPath
}

// LogoutURL returns the absolute edge logout URL.
func (e EdgeConfig) LogoutURL() string {
	return strings.TrimRight(e.BaseURL, "/") + e.LogoutPath
}

// DirectoryConfig controls calls to the user directory.
type DirectoryConfig struct {
	Timeout time.Duration
}

// SessionConfig controls the session state machine.
type SessionConfig struct {
	// CacheTTL bounds the session-scoped edge identity recovery cache
	CacheTTL time.Duration
	// LoginDelay simulates round-trip latency for local logins
	LoginDelay time.Duration
	// RevalidateInterval re-syncs the live session with the directory in
	// `serve`; zero disables it
	RevalidateInterval time.Duration
	// ClientTTL expires idle per-client sessions held by `serve`
	ClientTTL time.Duration
	// MaxClients caps the per-client sessions held by `serve`
	MaxClients int
}

// RolesConfig feeds the role resolver.
type RolesConfig struct {
	Exact        map[string]string
	AdminDomains []string
	OpsPrefixes  []string
}

// LocalConfig holds the local credential table. Empty means demo accounts.
type LocalConfig struct {
	Accounts []AccountConfig
}

// AccountConfig is one configured local account.
type AccountConfig struct {
	Email        string `mapstructure:"email"`
	Name         string `mapstructure:"name"`
	Role         string `mapstructure:"role"`
	PasswordHash string `mapstructure:"password_hash"`
}

// CORSConfig lists origins allowed to call the session API.
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds OpenTelemetry exporter settings.
type ObservabilityConfig struct {
	OTLPEndpoint   string
	OTLPInsecure   bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:navigator.db?cache=shared")
	v.SetDefault("max_db_connections", 10)
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("public_url", "")
	v.SetDefault("hostname", "")
	v.SetDefault("force_local", false)
	v.SetDefault("state_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("edge.base_url", "")
	v.SetDefault("edge.identity_path", "/cdn-cgi/access/get-identity")
	v.SetDefault("edge.logout_path", "/cdn-cgi/access/logout")
	v.SetDefault("edge.timeout", 5*time.Second)

	v.SetDefault("directory.timeout", 5*time.Second)

	v.SetDefault("session.cache_ttl", 12*time.Hour)
	v.SetDefault("session.login_delay", 800*time.Millisecond)
	v.SetDefault("session.revalidate_interval", time.Duration(0))
	v.SetDefault("session.client_ttl", 12*time.Hour)
	v.SetDefault("session.max_clients", 1024)

	v.SetDefault("roles.admin_domains", []string{"admin.bvg.com"})
	v.SetDefault("roles.ops_prefixes", []string{"ops", "operador"})

	v.SetDefault("cors.allowed_origins", []string{
		"http://localhost:5173",
		"http://127.0.0.1:5173",
	})

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "navigator")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
}

// Load reads configuration from the global viper instance: config file (if
// one was set), NAVIGATOR_ environment variables and bound flags.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		MaxDBConnections: v.GetInt("max_db_connections"),
		ServerAddr:       v.GetString("server_addr"),
		PublicURL:        v.GetString("public_url"),
		Hostname:         v.GetString("hostname"),
		ForceLocal:       v.GetBool("force_local"),
		StateDir:         v.GetString("state_dir"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Edge: EdgeConfig{
			BaseURL:      v.GetString("edge.base_url"),
			IdentityPath: v.GetString("edge.identity_path"),
			LogoutPath:   v.GetString("edge.logout_path"),
			Timeout:      v.GetDuration("edge.timeout"),
		},
		Directory: DirectoryConfig{
			Timeout: v.GetDuration("directory.timeout"),
		},
		Session: SessionConfig{
			CacheTTL:           v.GetDuration("session.cache_ttl"),
			LoginDelay:         v.GetDuration("session.login_delay"),
			RevalidateInterval: v.GetDuration("session.revalidate_interval"),
			ClientTTL:          v.GetDuration("session.client_ttl"),
			MaxClients:         v.GetInt("session.max_clients"),
		},
		Roles: RolesConfig{
			Exact:        v.GetStringMapString("roles.exact"),
			AdminDomains: v.GetStringSlice("roles.admin_domains"),
			OpsPrefixes:  v.GetStringSlice("roles.ops_prefixes"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetStringSlice("cors.allowed_origins"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   v.GetString("observability.otlp_endpoint"),
			OTLPInsecure:   v.GetBool("observability.otlp_insecure"),
			ServiceName:    v.GetString("observability.service_name"),
			ServiceVersion: v.GetString("observability.service_version"),
			Environment:    v.GetString("observability.environment"),
		},
	}

	if err := v.UnmarshalKey("local.accounts", &cfg.Local.Accounts); err != nil {
		return nil, fmt.Errorf("invalid local.accounts: %w", err)
	}

	cookies, err := parseCookies(v.GetStringSlice("edge.cookies"))
	if err != nil {
		return nil, err
	}
	cfg.Edge.Cookies = cookies

	if cfg.Edge.BaseURL == "" {
		cfg.Edge.BaseURL = cfg.PublicURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.PublicURL != "" {
		if _, err := url.Parse(c.PublicURL); err != nil {
			return fmt.Errorf("invalid public_url: %w", err)
		}
	}
	if !strings.HasPrefix(c.Edge.IdentityPath, "/") {
		return fmt.Errorf("edge.identity_path must start with '/'")
	}
	if !strings.HasPrefix(c.Edge.LogoutPath, "/") {
		return fmt.Errorf("edge.logout_path must start with '/'")
	}
	if c.Edge.Timeout <= 0 {
		return fmt.Errorf("edge.timeout must be positive")
	}
	if c.Directory.Timeout <= 0 {
		return fmt.Errorf("directory.timeout must be positive")
	}
	if c.Session.LoginDelay < 0 {
		return fmt.Errorf("session.login_delay cannot be negative")
	}
	if c.Session.MaxClients <= 0 {
		return fmt.Errorf("session.max_clients must be positive")
	}
	return nil
}

// ModeHost returns the hostname fed to the mode selector: the explicit
// Hostname, otherwise the host of PublicURL. Empty when neither is set.
func (c *Config) ModeHost() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	if c.PublicURL == "" {
		return ""
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func parseCookies(pairs []string) (map[string]string, error) {
	cookies := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid edge.cookies entry %q (want Name=value)", pair)
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies, nil
}
