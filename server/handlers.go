package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Directory Directory
	Codec     *TokenCodec
	Sessions  *SessionManager
	Flow      *LoginFlow
	States    *LoginStateStore
}

// NewApp wires together the application state from configuration. Provider
// discovery happens here, so startup fails fast when the issuer is
// unreachable or misconfigured.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if cfg.Sessions.Secret == "" {
		if !cfg.Server.DevMode {
			return nil, errors.New("sessions.secret is required")
		}
		cfg.Sessions.Secret = randomSecret()
		logger.Warn("generated ephemeral session secret; sessions will not survive restarts")
	}

	codec, err := NewTokenCodec(cfg)
	if err != nil {
		return nil, err
	}

	directory := NewInMemoryDirectory(cfg.Users.UpdatePolicy)
	sessions := NewSessionManager(cfg, codec, directory, logger)
	states := NewLoginStateStore(cfg.Sessions.LoginTTL)

	provider, err := NewOIDCProvider(ctx, cfg.Provider, cfg.RedirectURL(), logger)
	if err != nil {
		return nil, fmt.Errorf("init provider: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Directory: directory,
		Codec:     codec,
		Sessions:  sessions,
		Flow:      NewLoginFlow(provider, states, logger),
		States:    states,
	}, nil
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	redirect, err := a.Flow.BeginLogin()
	if err != nil {
		a.Logger.Error("begin login", "error", err)
		writeError(w, http.StatusInternalServerError, "login unavailable")
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		// Provider-side denial. Log the detail, never echo it back.
		a.Logger.Warn("provider returned error", "error", errCode)
		writeError(w, http.StatusBadRequest, "login failed")
		return
	}

	identity, err := a.Flow.CompleteLogin(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		a.Logger.Warn("complete login", "error", err)
		switch {
		case errors.Is(err, ErrStateMismatch):
			writeError(w, http.StatusBadRequest, "invalid login callback")
		case errors.Is(err, ErrMissingProfileClaims):
			writeError(w, http.StatusBadRequest, "login failed")
		case errors.Is(err, ErrExchangeFailed):
			// The authorization code is single use; the whole login must be
			// re-initiated rather than retried with the same code.
			writeError(w, http.StatusBadGateway, "login failed")
		default:
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	if err := a.Directory.Upsert(userFromIdentity(identity)); err != nil {
		a.Logger.Error("upsert user", "error", err, "sub", identity.Subject)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if err := a.Sessions.Issue(w, identity.Subject); err != nil {
		a.Logger.Error("issue session", "error", err, "sub", identity.Subject)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	a.Logger.Info("login complete", "sub", identity.Subject)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Deletes the client-held cookie only. An already-issued token stays
	// valid until expiry; see the protected-replay test for the documented
	// revocation gap.
	a.Sessions.Clear(w)
	writeJSON(w, map[string]any{
		"message":       "logged out",
		"authenticated": false,
	})
}

func (a *App) handleUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, principal.User)
}

func (a *App) handleProtected(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, map[string]any{
		"message":            "access granted",
		"user_email":         principal.User.Email,
		"session_issued_at":  principal.IssuedAt.UTC().Format(time.RFC3339),
		"session_expires_at": principal.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>authd</title></head>
<body>
<h1>authd</h1>
{{if .Authenticated}}
<p>Signed in as <strong>{{.User.Name}}</strong> ({{.User.Email}})</p>
{{if .User.Picture}}<img src="{{.User.Picture}}" alt="profile" width="50" height="50">{{end}}
<p><a href="/auth/logout">Sign out</a></p>
{{else}}
<p>Not signed in</p>
<p><a href="/auth/login">Sign in</a></p>
{{end}}
<ul>
<li><code>GET /api/user</code></li>
<li><code>GET /api/protected</code></li>
<li><code>GET /health</code></li>
</ul>
</body>
</html>
`))

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Authenticated bool
		User          User
	}{}
	if principal, err := a.Sessions.Resolve(r); err == nil {
		data.Authenticated = true
		data.User = principal.User
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTemplate.Execute(w, data); err != nil {
		a.Logger.Error("render home", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("authd-fallback-secret"))
	}
	return hex.EncodeToString(buf)
}
