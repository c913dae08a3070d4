package domain

import "github.com/shopspring/decimal"

// Processor event names.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"
)

// EventKind is the handler a notification is dispatched to.
type EventKind int

const (
	EventKindNone EventKind = iota
	EventKindCompleted
	EventKindFailed
	EventKindRefunded
	EventKindGeneric
)

func (k EventKind) String() string {
	switch k {
	case EventKindCompleted:
		return "completed"
	case EventKindFailed:
		return "failed"
	case EventKindRefunded:
		return "refunded"
	case EventKindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Notification is a decoded inbound processor webhook. Absent fields are
// zero values; OrderID and MetadataOrderID are 0 when absent or when
// their leading number truncates to zero.
type Notification struct {
	Event           string
	OrderID         int64
	OrderKey        string
	Status          string
	TransactionID   string
	PaymentID       string
	FailureReason   string
	RefundAmount    decimal.Decimal // minor units
	RefundReason    string
	MetadataOrderID int64
}

// Kind classifies the notification. Unrecognized events fall back to a
// status-driven generic update only when both order_id and status are set.
func (n *Notification) Kind() EventKind {
	switch n.Event {
	case EventPaymentCompleted, EventPaymentSucceeded:
		return EventKindCompleted
	case EventPaymentFailed:
		return EventKindFailed
	case EventPaymentRefunded:
		return EventKindRefunded
	}
	if n.OrderID > 0 && n.Status != "" {
		return EventKindGeneric
	}
	return EventKindNone
}

// RefundMajorAmount converts the refund amount to major units. Fractions
// of a minor unit are dropped.
func (n *Notification) RefundMajorAmount() decimal.Decimal {
	return FromMinorUnits(n.RefundAmount.Truncate(0))
}
