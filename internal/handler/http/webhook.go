package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/utafrali/hdpay/internal/webhook"
	"github.com/utafrali/hdpay/pkg/httputil"
	"github.com/utafrali/hdpay/pkg/logger"
)

const maxWebhookBody = 1 << 20

// WebhookHandler exposes the reconciler over HTTP.
type WebhookHandler struct {
	reconciler *webhook.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a webhook HTTP handler.
func NewWebhookHandler(rec *webhook.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: rec, logger: logger}
}

// Notify handles POST /wc-api/hdpay_webhook. Bodies are the raw
// acknowledgement objects the processor expects, not the API envelope.
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.FromContext(r.Context(), h.logger).WarnContext(r.Context(), "read webhook body",
			slog.String("error", err.Error()))
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid payload"})
		return
	}

	res := h.reconciler.Handle(r.Context(), body, r.Header)
	httputil.WriteJSON(w, res.Status, res.Body)
}
