package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `server:
  public_url: http://localhost:8000
  dev_mode: true
provider:
  issuer: https://accounts.google.com
  client_id: from-file
sessions:
  ttl: 30m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AUTHD_SERVER_PUBLIC_URL", "https://auth.example.com")
	t.Setenv("AUTHD_PROVIDER_CLIENT_ID", "from-env")
	t.Setenv("AUTHD_SESSION_SECRET", "env-secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.PublicURL != "https://auth.example.com" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.Provider.ClientID != "from-env" {
		t.Fatalf("ClientID override mismatch, got %q", cfg.Provider.ClientID)
	}
	if cfg.Sessions.Secret != "env-secret" {
		t.Fatalf("Secret override mismatch")
	}
	if cfg.Sessions.TTL != 30*time.Minute {
		t.Fatalf("TTL not parsed, got %v", cfg.Sessions.TTL)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `server:
  public_url: http://localhost:8000
  not_a_real_key: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown config key")
	}
}

func TestValidateDevModeIsLenient(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dev defaults should validate, got %v", err)
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Server.DevMode = false
		cfg.Server.PublicURL = "https://auth.example.com"
		cfg.Server.TLS.Domains = []string{"auth.example.com"}
		cfg.Provider = ProviderConfig{
			Issuer:       "https://accounts.google.com",
			ClientID:     "client",
			ClientSecret: "secret",
		}
		cfg.Sessions.Secret = "s3cret"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("complete prod config should validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing_client_id", func(c *Config) { c.Provider.ClientID = "" }},
		{"missing_client_secret", func(c *Config) { c.Provider.ClientSecret = "" }},
		{"missing_issuer", func(c *Config) { c.Provider.Issuer = "" }},
		{"missing_session_secret", func(c *Config) { c.Sessions.Secret = "" }},
		{"missing_tls_domains", func(c *Config) { c.Server.TLS.Domains = nil }},
		{"missing_public_url", func(c *Config) { c.Server.PublicURL = "" }},
		{"bad_public_url", func(c *Config) { c.Server.PublicURL = "auth.example.com" }},
		{"bad_ttl", func(c *Config) { c.Sessions.TTLRaw = "soon" }},
		{"bad_update_policy", func(c *Config) { c.Users.UpdatePolicy = "append" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRedirectURLDerivedFromPublicURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://auth.example.com/"
	if got := cfg.RedirectURL(); got != "https://auth.example.com/auth/callback" {
		t.Fatalf("unexpected redirect URL %q", got)
	}

	cfg.Provider.RedirectURL = "https://other.example.com/cb"
	if got := cfg.RedirectURL(); got != "https://other.example.com/cb" {
		t.Fatalf("explicit redirect URL not honoured, got %q", got)
	}
}
