package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	authHandler := handlers.NewAuthHandler(
		s.deps.Enroller,
		s.deps.Authenticator,
		s.deps.Identities,
		s.sessionManager,
	)

	// Health check (no auth required)
	s.router.Get("/health", handlers.HealthCheck)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.sessionManager))
			r.Get("/user", authHandler.User)
		})
	})

	s.router.Post("/logout", authHandler.Logout)
}
