package server

import "time"

// Identity consolidates the verified claims returned by the provider after a
// successful code exchange. It lives only for the duration of one login.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Claims        map[string]any
}

// User is the directory record keyed by the provider subject identifier.
type User struct {
	Subject       string    `json:"sub"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	Name          string    `json:"name,omitempty"`
	Picture       string    `json:"picture,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Principal is what the auth gate attaches to the request context: the
// resolved user plus the token timestamps it was resolved from.
type Principal struct {
	User      User
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// userFromIdentity builds a directory record from a provider assertion.
func userFromIdentity(id Identity) User {
	return User{
		Subject:       id.Subject,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Name:          id.Name,
		Picture:       id.Picture,
	}
}
