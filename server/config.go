package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded session defaults.
const (
	DefaultSessionTTL = 60 * time.Minute
	DefaultListenAddr = "127.0.0.1:8000"
	DefaultPublicURL  = "http://127.0.0.1:8000"
	// Google's issuer; the original deployment target for this service.
	DefaultIssuer = "https://accounts.google.com"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Sessions SessionConfig  `yaml:"sessions"`
	Users    UserConfig     `yaml:"users"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for production serving.
type TLSConfig struct {
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cache_dir"`
}

// ProviderConfig holds the external OpenID Connect provider credentials.
type ProviderConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// SessionConfig controls the local session tokens. Durations are expressed
// as Go duration strings ("60m", "1h").
type SessionConfig struct {
	Secret      string `yaml:"secret"`
	TTLRaw      string `yaml:"ttl"`
	LoginTTLRaw string `yaml:"login_ttl"`

	// Resolved from the raw strings during LoadConfig; tests may set these
	// directly.
	TTL      time.Duration `yaml:"-"`
	LoginTTL time.Duration `yaml:"-"`
}

// UserConfig controls directory behaviour.
type UserConfig struct {
	UpdatePolicy UpdatePolicy `yaml:"update_policy"`
}

// LoadConfig reads the YAML config file, merges environment overrides, and
// validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Sessions.TTL = parseDuration(cfg.Sessions.TTLRaw, DefaultSessionTTL)
	cfg.Sessions.LoginTTL = parseDuration(cfg.Sessions.LoginTTLRaw, DefaultLoginTTL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the development-mode defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       DefaultPublicURL,
			DevListenAddr:   DefaultListenAddr,
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
		},
		Provider: ProviderConfig{
			Issuer: DefaultIssuer,
		},
		Sessions: SessionConfig{
			TTL:      DefaultSessionTTL,
			LoginTTL: DefaultLoginTTL,
		},
		Users: UserConfig{
			UpdatePolicy: UpdateReplace,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHD_SERVER_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"AUTHD_SERVER_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"AUTHD_SERVER_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"AUTHD_SERVER_COOKIE_DOMAIN":   func(v string) { cfg.Server.CookieDomain = v },
		"AUTHD_PROVIDER_ISSUER":        func(v string) { cfg.Provider.Issuer = v },
		"AUTHD_PROVIDER_CLIENT_ID":     func(v string) { cfg.Provider.ClientID = v },
		"AUTHD_PROVIDER_CLIENT_SECRET": func(v string) { cfg.Provider.ClientSecret = v },
		"AUTHD_PROVIDER_REDIRECT_URL":  func(v string) { cfg.Provider.RedirectURL = v },
		"AUTHD_SESSION_SECRET":         func(v string) { cfg.Sessions.Secret = v },
		"AUTHD_SESSION_TTL":            func(v string) { cfg.Sessions.TTLRaw = v },
		// Honoured for parity with the original deployment environment.
		"GOOGLE_CLIENT_ID":     func(v string) { cfg.Provider.ClientID = v },
		"GOOGLE_CLIENT_SECRET": func(v string) { cfg.Provider.ClientSecret = v },
		"GOOGLE_REDIRECT_URI":  func(v string) { cfg.Provider.RedirectURL = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

// RedirectURL returns the callback URL the provider should send the browser
// back to, derived from public_url unless configured explicitly.
func (c Config) RedirectURL() string {
	if c.Provider.RedirectURL != "" {
		return c.Provider.RedirectURL
	}
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/auth/callback"
}

// Validate performs sanity checks and refuses to start on missing required
// values. Development mode is lenient about provider credentials and the
// session secret because both are substituted at startup.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if c.Sessions.TTLRaw != "" {
		if _, err := time.ParseDuration(c.Sessions.TTLRaw); err != nil {
			return fmt.Errorf("sessions.ttl invalid: %w", err)
		}
	}
	if c.Sessions.LoginTTLRaw != "" {
		if _, err := time.ParseDuration(c.Sessions.LoginTTLRaw); err != nil {
			return fmt.Errorf("sessions.login_ttl invalid: %w", err)
		}
	}

	switch c.Users.UpdatePolicy {
	case "", UpdateReplace, UpdateMerge:
	default:
		return fmt.Errorf("users.update_policy must be %q or %q, got: %s", UpdateReplace, UpdateMerge, c.Users.UpdatePolicy)
	}

	if c.Server.DevMode {
		return nil
	}

	if c.Provider.Issuer == "" {
		return errors.New("provider.issuer is required")
	}
	if c.Provider.ClientID == "" {
		return errors.New("provider.client_id is required")
	}
	if c.Provider.ClientSecret == "" {
		return errors.New("provider.client_secret is required")
	}
	if c.Sessions.Secret == "" {
		return errors.New("sessions.secret is required")
	}
	if len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}
	return nil
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
