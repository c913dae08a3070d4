package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusOnHold     = "on-hold"
	OrderStatusPaid       = "paid"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// Metadata keys written by the gateway.
const (
	MetaTransactionID = "_hdpay_transaction_id"
	MetaPaymentID     = "_hdpay_payment_id"
)

// Domain errors returned by Order mutators.
var (
	ErrAlreadyPaid         = errors.New("order is already paid")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrInvalidRefundAmount = errors.New("refund amount must be positive")
	ErrRefundExceedsTotal  = errors.New("refund exceeds remaining refundable amount")
)

// Billing holds the buyer contact fields sent to the processor.
type Billing struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// OrderItem is one order line. Total is the line total, not the unit price.
type OrderItem struct {
	Name     string          `json:"name"`
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// Note is an append-only, timestamped order comment.
type Note struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the order-store record the gateway reconciles against.
// Version is the optimistic-lock token; repositories bump it on every save.
type Order struct {
	ID            int64             `json:"id"`
	Key           string            `json:"-"`
	Status        string            `json:"status"`
	Total         decimal.Decimal   `json:"total"`
	Currency      string            `json:"currency"`
	Billing       Billing           `json:"billing"`
	Items         []OrderItem       `json:"items"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Notes         []Note            `json:"notes,omitempty"`
	RefundedTotal decimal.Decimal   `json:"refunded_total"`
	Version       int64             `json:"version"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`

	savedNotes int
}

// ValidOrderStatuses returns all valid order statuses.
func ValidOrderStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusOnHold,
		OrderStatusPaid,
		OrderStatusProcessing,
		OrderStatusCompleted,
		OrderStatusFailed,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// IsValidOrderStatus checks whether the given status is a valid order status.
func IsValidOrderStatus(status string) bool {
	for _, s := range ValidOrderStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsPaid reports whether the order is in a terminal-success state.
func (o *Order) IsPaid() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusCompleted:
		return true
	}
	return false
}

// Meta returns a metadata value, or "".
func (o *Order) Meta(key string) string {
	return o.Metadata[key]
}

// SetMeta sets a metadata value.
func (o *Order) SetMeta(key, value string) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]string)
	}
	o.Metadata[key] = value
}

// TransactionID returns the stored processor transaction id, or "".
func (o *Order) TransactionID() string {
	return o.Meta(MetaTransactionID)
}

// AddNote appends a note and returns it.
func (o *Order) AddNote(text string) Note {
	n := Note{ID: uuid.New(), Text: text, CreatedAt: time.Now().UTC()}
	o.Notes = append(o.Notes, n)
	return n
}

// PendingNotes returns the notes appended since the order was last persisted.
func (o *Order) PendingNotes() []Note {
	if o.savedNotes > len(o.Notes) {
		return nil
	}
	return o.Notes[o.savedNotes:]
}

// MarkPersisted records that every current note has been stored.
func (o *Order) MarkPersisted() {
	o.savedNotes = len(o.Notes)
}

// TransitionStatus moves the order to status, appending note when non-empty.
func (o *Order) TransitionStatus(status, note string) error {
	if !IsValidOrderStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	o.Status = status
	if note != "" {
		o.AddNote(note)
	}
	return nil
}

// MarkPaid records payment completion. It refuses an already-paid order so
// that completion side effects run at most once.
func (o *Order) MarkPaid(transactionID string) error {
	if o.IsPaid() {
		return ErrAlreadyPaid
	}
	if transactionID != "" {
		o.SetMeta(MetaTransactionID, transactionID)
	}
	now := time.Now().UTC()
	o.Status = OrderStatusPaid
	o.PaidAt = &now
	return nil
}

// RemainingRefundable is the part of the total not yet refunded.
func (o *Order) RemainingRefundable() decimal.Decimal {
	return o.Total.Sub(o.RefundedTotal)
}

// ApplyRefund accounts for a refund against the order. A refund that brings
// the refunded total up to the order total moves the order to refunded.
func (o *Order) ApplyRefund(r *Refund) error {
	if !r.Amount.IsPositive() {
		return ErrInvalidRefundAmount
	}
	if r.Amount.GreaterThan(o.RemainingRefundable()) {
		return fmt.Errorf("%w: requested %s, remaining %s",
			ErrRefundExceedsTotal, r.Amount.StringFixed(2), o.RemainingRefundable().StringFixed(2))
	}

	o.RefundedTotal = o.RefundedTotal.Add(r.Amount)
	r.OrderID = o.ID
	if o.RefundedTotal.Equal(o.Total) {
		o.Status = OrderStatusRefunded
		o.AddNote("Order status changed to refunded.")
	}
	return nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.Notes != nil {
		c.Notes = append([]Note(nil), o.Notes...)
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// MinorUnits converts a major-unit amount to integer minor units,
// truncating toward zero.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Truncate(0).IntPart()
}

// TruncateToMinor drops precision below one minor unit, so the result is
// exactly the amount MinorUnits reports to the processor.
func TruncateToMinor(d decimal.Decimal) decimal.Decimal {
	return FromMinorUnits(decimal.NewFromInt(MinorUnits(d)))
}

// FromMinorUnits converts integer minor units to a major-unit amount.
func FromMinorUnits(minor decimal.Decimal) decimal.Decimal {
	return minor.Shift(-2)
}
