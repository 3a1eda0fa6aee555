package router

import (
	"net/http"

	"erp-pricing-api/internal/handler"
	"erp-pricing-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	PricingHandler   *handler.PricingHandler
	OperationHandler *handler.OperationHandler
	ItemHandler      *handler.ItemHandler
	AdminHandler     *handler.AdminHandler
	AuthMiddleware   func(http.Handler) http.Handler
	MetricsHandler   http.Handler
	AllowedOrigins   []string
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key", middleware.ActorHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if h := cfg.PricingHandler; h != nil {
				r.Route("/pricing", func(r chi.Router) {
					r.Get("/template", h.Template)
					r.Post("/uploads", h.Upload)
					r.Get("/uploads", h.ListSessions)
					r.Route("/uploads/{session_id}", func(r chi.Router) {
						r.Get("/", h.GetSession)
						r.Post("/records/{record_id}/approve", h.ApproveRecord)
						r.Post("/records/{record_id}/reject", h.RejectRecord)
						r.Post("/approve-all", h.ApproveAll)
						r.Post("/commit", h.Commit)
					})
				})
			}

			if h := cfg.OperationHandler; h != nil {
				r.Route("/operations", func(r chi.Router) {
					r.Get("/", h.List)
					r.Get("/summary", h.Summary)
					r.Get("/{operation_id}", h.Get)
					r.Post("/{operation_id}/cancel", h.Cancel)
					r.Post("/{operation_id}/retry", h.Retry)
				})
			}

			if h := cfg.ItemHandler; h != nil {
				r.Route("/items/{item_code}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Put("/", h.Upsert)
					r.Get("/history", h.History)
				})
			}

			if cfg.AdminHandler != nil {
				r.Get("/admin/stats", cfg.AdminHandler.GetStats)
			}
		})
	})

	return r
}
