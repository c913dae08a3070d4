package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/hdpay/internal/gateway"
	"github.com/utafrali/hdpay/pkg/httputil"
	"github.com/utafrali/hdpay/pkg/validator"
)

// OrderHandler serves the gateway's order-facing endpoints.
type OrderHandler struct {
	gateway *gateway.Service
	logger  *slog.Logger
}

// NewOrderHandler creates an order HTTP handler.
func NewOrderHandler(gw *gateway.Service, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{gateway: gw, logger: logger}
}

// --- Request DTOs ---

// RefundRequest is the JSON body of a refund call. Amount is in major units.
type RefundRequest struct {
	Amount string `json:"amount" validate:"required,decimal_gt0,money"`
	Reason string `json:"reason" validate:"max=500"`
}

// --- Handlers ---

// Checkout handles POST /api/v1/orders/{id}/checkout
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	res, err := h.gateway.ProcessPayment(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, res)
}

// Refund handles POST /api/v1/orders/{id}/refund
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := parseOrderID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req RefundRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	refund, err := h.gateway.ProcessRefund(r.Context(), id, decimal.RequireFromString(req.Amount), strings.TrimSpace(req.Reason))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, refund)
}

// Return handles GET /wc-api/hdpay_return?order_id=&order_key= by
// redirecting the buyer to the thank-you page or the shop home.
func (h *OrderHandler) Return(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, _ := strconv.ParseInt(q.Get("order_id"), 10, 64)

	target := h.gateway.HandleReturn(r.Context(), id, q.Get("order_key"))
	http.Redirect(w, r, target, http.StatusFound)
}

func parseOrderID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "order id must be a positive integer"},
		})
		return 0, false
	}
	return id, true
}
