package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	custommiddleware "github.com/adsengine/billing-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса биллинга.
func (h *Handler) SetupRouter(frontendURL string) *chi.Mux {
	r := chi.NewRouter()

	allowedOrigin := frontendURL
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	r.Use(httprate.LimitByIP(100, 15*time.Minute))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/auth", func(r chi.Router) {
			r.With(httprate.LimitByIP(5, 15*time.Minute)).Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/register", h.Register)
				r.Get("/me", h.Me)
			})
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/plans", h.Plans)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/balance", h.Balance)
				r.Post("/add", h.AddCredits)
				r.Get("/history", h.History)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/overview", h.AdminOverview)
			r.Post("/users/create", h.AdminCreateUser)
			r.Post("/credits/add", h.AddCredits)
			r.Delete("/users/{id}", h.AdminDeleteUser)
		})

		r.Route("/reseller", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/clients", h.ResellerClients)
			r.Post("/credits/add", h.AddCredits)
			r.Post("/users/create", h.ResellerCreateUser)
		})

		r.With(h.authMiddleware.Middleware).Get("/campaigns/count", h.CampaignsCount)

		r.Post("/webhooks/lemon", h.LemonWebhook)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
