package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// IdentityProvider is the minimal behaviour required from the external IdP.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, expectedNonce string) (Identity, error)
}

// OIDCProvider performs the authorization-code flow against one upstream
// OpenID Connect provider discovered from its issuer URL.
type OIDCProvider struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	logger      *slog.Logger
}

// NewOIDCProvider initializes the provider via discovery.
func NewOIDCProvider(ctx context.Context, cfg ProviderConfig, redirectURL string, logger *slog.Logger) (*OIDCProvider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("provider issuer required")
	}

	op, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     op.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	verifier := op.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return &OIDCProvider{
		oauthConfig: oauthCfg,
		verifier:    verifier,
		logger:      logger,
	}, nil
}

// AuthCodeURL constructs the authorization request URL.
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

// Exchange redeems the authorization code and returns the verified identity
// assertion. The code is single use upstream; callers must not retry with it.
func (p *OIDCProvider) Exchange(ctx context.Context, code, expectedNonce string) (Identity, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, fmt.Errorf("%w: id_token missing in response", ErrMissingProfileClaims)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: verify id_token: %v", ErrExchangeFailed, err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: parse claims: %v", ErrMissingProfileClaims, err)
	}

	if expectedNonce != "" {
		if nonce, ok := claims["nonce"].(string); !ok || nonce != expectedNonce {
			return Identity{}, fmt.Errorf("%w: nonce mismatch", ErrExchangeFailed)
		}
	}

	if idToken.Subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrMissingProfileClaims)
	}

	id := Identity{
		Subject: idToken.Subject,
		Claims:  claims,
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		id.EmailVerified = verified
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	} else if preferred, ok := claims["preferred_username"].(string); ok {
		id.Name = preferred
	}
	if picture, ok := claims["picture"].(string); ok {
		id.Picture = picture
	}

	return id, nil
}

// LoginFlow drives one authorization-code round trip: BeginLogin hands out
// the redirect target, CompleteLogin correlates the callback against the
// pending state and performs the exchange. No directory state is touched
// while the network call is in flight.
type LoginFlow struct {
	provider IdentityProvider
	states   *LoginStateStore
	logger   *slog.Logger
}

// NewLoginFlow wires a provider to the pending-state store.
func NewLoginFlow(provider IdentityProvider, states *LoginStateStore, logger *slog.Logger) *LoginFlow {
	return &LoginFlow{provider: provider, states: states, logger: logger}
}

// BeginLogin registers a fresh attempt and returns the provider redirect URL.
func (f *LoginFlow) BeginLogin() (string, error) {
	attempt, err := f.states.Begin()
	if err != nil {
		return "", err
	}
	return f.provider.AuthCodeURL(attempt.State, attempt.Nonce), nil
}

// CompleteLogin validates the echoed state and redeems the code. The state
// check runs first: an unknown state fails with ErrStateMismatch regardless
// of whether the code would have been accepted upstream.
func (f *LoginFlow) CompleteLogin(ctx context.Context, code, state string) (Identity, error) {
	attempt, err := f.states.Consume(state)
	if err != nil {
		return Identity{}, err
	}
	if code == "" {
		return Identity{}, fmt.Errorf("%w: missing code", ErrExchangeFailed)
	}
	return f.provider.Exchange(ctx, code, attempt.Nonce)
}
