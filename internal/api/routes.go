package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the back-office API router.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Supplier invoice import (preview + apply) and its audit trail
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", h.HandleImport)
			r.Get("/", h.HandleListImports)
			r.Get("/{checksum}/operations", h.HandleImportOperations)
		})

		// Sale-price reconciliation
		r.Post("/prices", h.HandleApplyPrices)

		// Exchange rate
		r.Route("/currency", func(r chi.Router) {
			r.Get("/rate", h.HandleGetRate)
			r.Post("/manual", h.HandleSetManualRate)
			r.Delete("/manual", h.HandleClearManualRate)
		})

		// Supplier drop-bucket
		r.Route("/inbox", func(r chi.Router) {
			r.Get("/", h.HandleListInbox)
			r.Post("/trigger", h.HandleTriggerInbox)
		})
	})

	return r
}
