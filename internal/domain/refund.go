package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultWebhookRefundReason is used when a refund notification carries no reason.
const DefaultWebhookRefundReason = "Refunded via HDPay"

// Refund is a monetary refund recorded against an order.
type Refund struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRefund creates a refund with a generated id.
func NewRefund(orderID int64, amount decimal.Decimal, reason string) *Refund {
	return &Refund{
		ID:        uuid.New(),
		OrderID:   orderID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}
