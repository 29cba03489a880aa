package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/shopcore-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса shopcore.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/paypal/ipn", h.Webhook)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.GetOrders)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Get("/balance", h.GetBalance)
			r.Post("/checkin", h.Checkin)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.AdminOnly)

		r.Get("/ipn", h.ListNotifications)
		r.Post("/ipn/{id}/replay", h.ReplayNotification)

		r.Post("/orders/{id}/complete", h.CompleteOrder)

		r.Post("/users/{id}/ban", h.BanUser)
		r.Post("/users/{id}/unban", h.UnbanUser)
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(h.cronAuth)

		r.Post("/contest", h.RunContest)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
