package handler

import (
	"net/http"

	custommiddleware "github.com/campuschow/payout-system/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса выплат.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/payouts/webhook", h.Webhook)

	r.Route("/api/vendors/{vendorID}", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/balance", h.GetBalance)
		r.Get("/withdrawals", h.GetWithdrawals)
		r.Post("/earnings", h.CreditEarnings)
		r.Put("/profile", h.UpsertProfile)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	return r
}
