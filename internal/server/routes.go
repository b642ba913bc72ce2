package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/northcell/conversation-cdc/internal/auth"
)

// SetupRoutes configures the operator API routes. authManager may be nil
// to run the API open (dev setups with auth.enabled=false).
func SetupRoutes(h *Handlers, authManager *auth.AuthManager, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// CORS allows credentials so the auth cookie travels with dashboard
	// requests; origins must therefore be explicit, never "*".
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Auth routes (no auth required)
	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	r.Route("/api", func(r chi.Router) {
		if authManager != nil {
			r.Use(authManager.RequireAuth)
		}

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/configs", h.ListAlertConfigs)
			r.Post("/configs", h.CreateAlertConfig)
			r.Put("/configs/{id}", h.UpdateAlertConfig)
			r.Delete("/configs/{id}", h.DeleteAlertConfig)
			r.Get("/history", h.AlertHistory)
			r.Post("/{historyID}/acknowledge", h.AcknowledgeAlert)
			r.Post("/{historyID}/resolve", h.ResolveAlert)
		})

		r.Route("/ml", func(r chi.Router) {
			r.Get("/recommendations", h.ListRecommendations)
			r.Get("/history", h.EvaluationHistory)
			r.Post("/approve", h.ApproveRecommendation)
			r.Post("/apply-to-ml", h.ApplyToML)
			r.Post("/reject", h.RejectRecommendation)
			r.Post("/feedback", h.SubmitFeedback)
		})
	})

	return r
}
