package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *HTTPHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Get("/sync/status", h.SyncStatus)

	r.Route("/queue-entries", func(r chi.Router) {
		r.Post("/", h.JoinQueue)
		r.Post("/{entryId}/start", h.StartService)
		r.Post("/{entryId}/complete", h.CompleteService)
		r.Post("/{entryId}/cancel", h.CancelEntry)
	})

	r.Get("/shops/{shopId}/queue", h.GetShopQueue)
	r.Get("/customers/{customerId}/queue", h.GetCustomerQueue)

	return r
}
