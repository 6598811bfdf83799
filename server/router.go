package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/", a.handleHome)
	r.Get("/health", a.handleHealth)

	r.Get("/auth/login", a.handleLogin)
	r.Get("/auth/callback", a.handleCallback)
	r.Get("/auth/logout", a.handleLogout)

	r.Group(func(pr chi.Router) {
		pr.Use(RequireSession(a.Sessions))
		pr.Get("/api/user", a.handleUser)
		pr.Get("/api/protected", a.handleProtected)
	})

	return r
}
