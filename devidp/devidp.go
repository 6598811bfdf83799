// Package devidp is a minimal in-process OpenID Connect provider used in
// development mode and in tests. It speaks just enough of the protocol for
// the authorization-code flow: discovery, JWKS, an authorize endpoint that
// approves a fixed user without any login UI, and a token endpoint that
// returns an RS256-signed ID token.
package devidp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v3"
)

// User is the identity the provider asserts for every login.
type User struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// DefaultUser mirrors the local development identity.
var DefaultUser = User{
	Subject:       "dev-user",
	Email:         "dev@example.com",
	EmailVerified: true,
	Name:          "Dev User",
}

type issuedCode struct {
	clientID string
	nonce    string
	user     User
	expires  time.Time
}

// Provider is an http.Handler implementing the dev IdP. The issuer is
// derived from each request's host, so the same instance works behind any
// listener, including httptest servers.
type Provider struct {
	mu     sync.Mutex
	user   User
	codes  map[string]issuedCode
	key    *rsa.PrivateKey
	kid    string
	signer jose.Signer
	router chi.Router

	// FailExchange makes the token endpoint reject every code. Test hook.
	FailExchange bool
}

// New generates a signing key and constructs the provider.
func New() (*Provider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	kid := randomID()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid),
	)
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}

	p := &Provider{
		user:   DefaultUser,
		codes:  make(map[string]issuedCode),
		key:    key,
		kid:    kid,
		signer: signer,
	}

	r := chi.NewRouter()
	r.Get("/.well-known/openid-configuration", p.handleDiscovery)
	r.Get("/jwks.json", p.handleJWKS)
	r.Get("/authorize", p.handleAuthorize)
	r.Post("/token", p.handleToken)
	p.router = r

	return p, nil
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

// SetUser replaces the identity asserted on subsequent logins.
func (p *Provider) SetUser(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = u
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	issuer := issuerFromRequest(r)
	writeJSON(w, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"jwks_uri":                              issuer + "/jwks.json",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "email", "profile"},
	})
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	jwk := jose.JSONWebKey{Key: p.key, KeyID: p.kid, Algorithm: string(jose.RS256), Use: "sig"}
	writeJSON(w, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk.Public()}})
}

// handleAuthorize approves the configured user immediately and redirects
// back with a fresh single-use code. There is no consent screen.
func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		http.Error(w, "redirect_uri required", http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomID()
	p.mu.Lock()
	p.codes[code] = issuedCode{
		clientID: q.Get("client_id"),
		nonce:    q.Get("nonce"),
		user:     p.user,
		expires:  time.Now().Add(5 * time.Minute),
	}
	p.mu.Unlock()

	values := redirect.Query()
	values.Set("code", code)
	if state := q.Get("state"); state != "" {
		values.Set("state", state)
	}
	redirect.RawQuery = values.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}

	code := r.FormValue("code")
	p.mu.Lock()
	issued, ok := p.codes[code]
	delete(p.codes, code)
	fail := p.FailExchange
	p.mu.Unlock()

	if fail || !ok || time.Now().After(issued.expires) {
		tokenError(w, "invalid_grant")
		return
	}

	now := time.Now()
	claims := map[string]any{
		"iss":            issuerFromRequest(r),
		"sub":            issued.user.Subject,
		"aud":            issued.clientID,
		"iat":            now.Unix(),
		"exp":            now.Add(5 * time.Minute).Unix(),
		"email":          issued.user.Email,
		"email_verified": issued.user.EmailVerified,
		"name":           issued.user.Name,
	}
	if issued.user.Picture != "" {
		claims["picture"] = issued.user.Picture
	}
	if issued.nonce != "" {
		claims["nonce"] = issued.nonce
	}

	idToken, err := p.signIDToken(claims)
	if err != nil {
		http.Error(w, "signing failure", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"access_token": randomID(),
		"token_type":   "Bearer",
		"expires_in":   300,
		"id_token":     idToken,
	})
}

func (p *Provider) signIDToken(claims map[string]any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig, err := p.signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return sig.CompactSerialize()
}

func issuerFromRequest(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func tokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func randomID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallbackid"
	}
	return hex.EncodeToString(buf)
}
