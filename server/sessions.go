package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

const sessionCookieName = "authd_session"

// ErrUnauthenticated is what the session layer reports for any failure mode:
// absent cookie, malformed/forged/expired token, or an orphaned subject. The
// specific cause is logged, never surfaced, so the cookie cannot be used as
// an oracle against the verifier.
var ErrUnauthenticated = errors.New("unauthenticated")

// SessionManager binds the token codec and the user directory to the
// transport-level credential carrier (the cookie).
type SessionManager struct {
	codec     *TokenCodec
	directory Directory
	logger    *slog.Logger
	secure    bool
	domain    string
}

// NewSessionManager constructs the session layer honouring config.
func NewSessionManager(cfg Config, codec *TokenCodec, directory Directory, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		codec:     codec,
		directory: directory,
		logger:    logger,
		secure:    !cfg.Server.DevMode,
		domain:    cfg.Server.CookieDomain,
	}
}

// Issue mints a session token for the subject and sets the cookie. The
// cookie lifetime matches the token lifetime; SameSite is Lax so the
// provider redirect back to /auth/callback still carries it.
func (sm *SessionManager) Issue(w http.ResponseWriter, subject string) error {
	token, err := sm.codec.Issue(subject)
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   sm.domain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.codec.TTL().Seconds()),
	})
	return nil
}

// Clear instructs the client to discard the cookie. The token itself stays
// valid until its natural expiry; stateless sessions have no revocation.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.domain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Resolve extracts and verifies the request's session token and resolves its
// subject against the directory. Every failure mode collapses to
// ErrUnauthenticated.
func (sm *SessionManager) Resolve(r *http.Request) (Principal, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return Principal{}, ErrUnauthenticated
	}

	claims, err := sm.codec.Verify(cookie.Value)
	if err != nil {
		sm.logger.Debug("session token rejected", "error", err)
		return Principal{}, ErrUnauthenticated
	}

	user, err := sm.directory.Lookup(claims.Subject)
	if err != nil {
		// Orphaned token: the record vanished after issuance.
		sm.logger.Debug("session subject not in directory", "sub", claims.Subject)
		return Principal{}, ErrUnauthenticated
	}

	p := Principal{User: user}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
