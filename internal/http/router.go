package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/auth"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/http/handlers"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/middleware"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(authHandler *handlers.AuthHandler, activationHandler *handlers.ActivationHandler, sessions *auth.SessionService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/request_verification", authHandler.HandleRequestVerification)
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)
	})

	// Activation endpoints are callable without prior authentication.
	r.Route("/activation", func(r chi.Router) {
		r.Post("/validate", activationHandler.HandleValidate)
		r.Post("/redeem", activationHandler.HandleRedeem)
	})

	// Protected routes (require a live session).
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(sessions))
		r.Get("/me", authHandler.HandleMe)
		r.Post("/auth/change_password", authHandler.HandleChangePassword)
	})

	return r
}
