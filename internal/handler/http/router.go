package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/hdpay/internal/auth"
	"github.com/utafrali/hdpay/internal/gateway"
	"github.com/utafrali/hdpay/internal/webhook"
	"github.com/utafrali/hdpay/pkg/health"
	"github.com/utafrali/hdpay/pkg/httputil"
	"github.com/utafrali/hdpay/pkg/middleware"
)

const serviceName = "hdpay-gateway"

// RateLimits holds per-client limits for the public routes (processor
// webhooks and buyer returns) and the operator API. A zero RPS disables a
// limit.
type RateLimits struct {
	Public   middleware.RateLimitConfig
	Operator middleware.RateLimitConfig
}

// NewRouter creates a chi router with all gateway routes registered.
func NewRouter(
	reconciler *webhook.Reconciler,
	gw *gateway.Service,
	tokens middleware.TokenValidator,
	healthHandler *health.Handler,
	limits RateLimits,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	webhookHandler := NewWebhookHandler(reconciler, logger)
	orderHandler := NewOrderHandler(gw, logger)

	// Processor-facing endpoints answer throttled callers in the webhook
	// body format.
	public := limits.Public
	public.Name = "public"
	if public.Rejected == nil {
		public.Rejected = func(w http.ResponseWriter, _ *http.Request) {
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many requests"})
		}
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(public, logger))

		r.Post("/wc-api/hdpay_webhook", webhookHandler.Notify)
		r.Post(gateway.WebhookPath, webhookHandler.Notify)
		r.Post("/api/v1/hdpay/webhook", webhookHandler.Notify)
		r.Get(gateway.ReturnPath, orderHandler.Return)
	})

	// Operator endpoints
	operator := limits.Operator
	operator.Name = "operator"
	r.Route("/api/v1/orders/{id}", func(r chi.Router) {
		r.Use(middleware.RateLimit(operator, logger))
		r.Use(middleware.Auth(tokens))
		r.Use(middleware.RequestLogger(logger))

		r.With(middleware.RequireRole(auth.RoleAdmin, auth.RoleService)).Post("/checkout", orderHandler.Checkout)
		r.With(middleware.RequireRole(auth.RoleAdmin)).Post("/refund", orderHandler.Refund)
	})

	return r
}
