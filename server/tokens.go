package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims carried by a session token: the provider
// subject identifier plus the issue/expiry timestamps. Nothing else — the
// token is a reference into the directory, not a profile snapshot.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// TokenCodec mints and verifies the signed session tokens referenced by the
// browser cookie. Tokens are HS256 JWTs under a single process-wide secret;
// the HMAC comparison inside the library is constant time.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenCodec constructs a codec. The secret must be non-empty; ttl falls
// back to the 60 minute default when zero.
func NewTokenCodec(cfg Config) (*TokenCodec, error) {
	if cfg.Sessions.Secret == "" {
		return nil, errors.New("session secret required")
	}
	ttl := cfg.Sessions.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenCodec{
		secret: []byte(cfg.Sessions.Secret),
		ttl:    ttl,
		issuer: cfg.Server.PublicURL,
		now:    time.Now,
	}, nil
}

// TTL reports the configured token lifetime.
func (tc *TokenCodec) TTL() time.Duration {
	return tc.ttl
}

// Issue mints a session token for a subject with iat = now and
// exp = now + ttl.
func (tc *TokenCodec) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("issue token: empty subject")
	}
	now := tc.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tc.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token. Failures are classified as
// ErrMalformedToken, ErrBadSignature, or ErrTokenExpired. No clock skew is
// tolerated.
func (tc *TokenCodec) Verify(token string) (SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tc.now),
		jwt.WithExpirationRequired(),
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		return tc.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return SessionClaims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return SessionClaims{}, ErrMalformedToken
	}
	if claims.Subject == "" {
		return SessionClaims{}, fmt.Errorf("%w: empty subject", ErrMalformedToken)
	}
	return *claims, nil
}
