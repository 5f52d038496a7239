package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokatix/checkout/internal/observability"
	"github.com/lokatix/checkout/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl))

	r.Get("/v1/coupons/{code}", h.GetCoupon)
	r.Get("/v1/users/{id}/points", h.GetPointsBalance)
	r.Post("/v1/users/{id}/points", h.CreditPoints)
	r.Post("/v1/checkout/quote", h.Quote)
	r.With(RequireIdempotencyKey).Post("/v1/transactions", h.CreateTransaction)
	r.Get("/v1/transactions/{id}", h.GetTransaction)
	r.Get("/v1/transactions", h.ListTransactions)
	r.Patch("/v1/transactions/{id}/status", h.UpdateTransactionStatus)
	r.Post("/v1/transactions/{id}/payment-proof", h.UploadPaymentProof)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
