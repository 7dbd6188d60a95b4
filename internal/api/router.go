package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/stateset/stablepay/internal/config"
	"github.com/stateset/stablepay/internal/fees"
	"github.com/stateset/stablepay/internal/metrics"
	"github.com/stateset/stablepay/internal/middleware"
	"github.com/stateset/stablepay/internal/services"
)

func NewRouter(cfg config.Config, payments *services.PaymentService, refunds *services.RefundService, recons *services.ReconciliationService, router *fees.Router) http.Handler {
	h := &handlers{payments: payments, refunds: refunds, recons: recons, fees: router}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.RateLimit(cfg.RateRPS), middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", h.createPayment)
		r.Get("/payments/{id}", h.getPayment)
		r.Get("/customers/{id}/payments", h.listCustomerPayments)

		r.Post("/refunds", h.createRefund)

		r.Post("/reconciliations", h.createReconciliation)
		r.Get("/reconciliations/{id}", h.getReconciliation)
		r.Get("/providers/{id}/reconciliations", h.listProviderReconciliations)

		r.Get("/fees/quote", h.quoteFees)
	})

	return r
}
