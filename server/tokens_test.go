package server

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Sessions.Secret = "test-secret"
	codec, err := NewTokenCodec(cfg)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	return codec
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	issuedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return issuedAt }

	token, err := codec.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %q", claims.Subject)
	}
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("expected 60m lifetime, got %v", got)
	}
	if !claims.IssuedAt.Time.Equal(issuedAt) {
		t.Fatalf("unexpected iat: %v", claims.IssuedAt.Time)
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	codec := newTestCodec(t)
	if _, err := codec.Issue(""); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	codec := newTestCodec(t)
	issuedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return issuedAt }

	token, err := codec.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	// One second before expiry the token is still valid.
	codec.now = func() time.Time { return issuedAt.Add(time.Hour - time.Second) }
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("expected token valid before expiry, got %v", err)
	}

	// Past expiry it fails with the expiry error specifically.
	codec.now = func() time.Time { return issuedAt.Add(time.Hour + time.Second) }
	_, err = codec.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	codec := newTestCodec(t)
	token, err := codec.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWT, got %d segments", len(parts))
	}
	parts[2] = flipChar(parts[2])
	_, err = codec.Verify(strings.Join(parts, "."))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyTamperedPayloadNeverValid(t *testing.T) {
	codec := newTestCodec(t)
	token, err := codec.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	parts := strings.Split(token, ".")
	for i := 0; i < len(parts[1]); i++ {
		tampered := parts[1][:i] + string(flipByte(parts[1][i])) + parts[1][i+1:]
		mangled := parts[0] + "." + tampered + "." + parts[2]
		if mangled == token {
			continue
		}
		if _, err := codec.Verify(mangled); err == nil {
			t.Fatalf("tampered payload at offset %d verified as valid", i)
		}
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	codec := newTestCodec(t)
	token, err := codec.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Sessions.Secret = "a-different-secret"
	other, err := NewTokenCodec(cfg)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	codec := newTestCodec(t)
	for _, token := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := codec.Verify(token); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("token %q: expected ErrMalformedToken, got %v", token, err)
		}
	}
}

func TestNewTokenCodecRequiresSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions.Secret = ""
	if _, err := NewTokenCodec(cfg); err == nil {
		t.Fatalf("expected error when secret missing")
	}
}

func flipChar(s string) string {
	if s == "" {
		return "A"
	}
	return string(flipByte(s[0])) + s[1:]
}

func flipByte(b byte) byte {
	if b == 'A' {
		return 'B'
	}
	return 'A'
}
