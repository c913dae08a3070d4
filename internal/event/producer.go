package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/utafrali/hdpay/internal/domain"
	pkgkafka "github.com/utafrali/hdpay/pkg/kafka"
	"github.com/utafrali/hdpay/pkg/logger"
)

// Kafka topics for order events raised by the gateway.
const (
	TopicCheckoutCreated = "hdpay.checkout.created"
	TopicOrderPaid       = "hdpay.order.paid"
	TopicOrderFailed     = "hdpay.order.failed"
	TopicOrderRefunded   = "hdpay.order.refunded"
)

// AggregateTypeOrder is the aggregate every event refers to.
const AggregateTypeOrder = "order"

// SourceGateway identifies events originating from this service.
const SourceGateway = "hdpay-gateway"

// CheckoutCreatedData is the payload for hdpay.checkout.created.
type CheckoutCreatedData struct {
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
}

// OrderPaidData is the payload for hdpay.order.paid.
type OrderPaidData struct {
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
}

// OrderFailedData is the payload for hdpay.order.failed.
type OrderFailedData struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// OrderRefundedData is the payload for hdpay.order.refunded.
type OrderRefundedData struct {
	OrderID       int64  `json:"order_id"`
	RefundID      string `json:"refund_id,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
	Status        string `json:"status"`
	RefundedTotal string `json:"refunded_total"`
}

// Publisher is the event surface the gateway and reconciler depend on.
type Publisher interface {
	PublishCheckoutCreated(ctx context.Context, order *domain.Order) error
	PublishOrderPaid(ctx context.Context, order *domain.Order) error
	PublishOrderFailed(ctx context.Context, order *domain.Order, reason string) error
	PublishOrderRefunded(ctx context.Context, order *domain.Order, refund *domain.Refund) error
}

type envelopePublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes order events to Kafka. A nil bus makes every
// publish a no-op, which is how the service runs without Kafka.
type Producer struct {
	bus    envelopePublisher
	logger *slog.Logger
}

// NewProducer creates an event producer. bus may be nil.
func NewProducer(bus *pkgkafka.Producer, logger *slog.Logger) *Producer {
	p := &Producer{logger: logger}
	if bus != nil {
		p.bus = bus
	}
	return p
}

// PublishCheckoutCreated publishes hdpay.checkout.created.
func (p *Producer) PublishCheckoutCreated(ctx context.Context, o *domain.Order) error {
	return p.publish(ctx, TopicCheckoutCreated, o, CheckoutCreatedData{
		OrderID:       o.ID,
		TransactionID: o.TransactionID(),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
	})
}

// PublishOrderPaid publishes hdpay.order.paid.
func (p *Producer) PublishOrderPaid(ctx context.Context, o *domain.Order) error {
	return p.publish(ctx, TopicOrderPaid, o, OrderPaidData{
		OrderID:       o.ID,
		TransactionID: o.TransactionID(),
		PaymentID:     o.Meta(domain.MetaPaymentID),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
	})
}

// PublishOrderFailed publishes hdpay.order.failed.
func (p *Producer) PublishOrderFailed(ctx context.Context, o *domain.Order, reason string) error {
	return p.publish(ctx, TopicOrderFailed, o, OrderFailedData{
		OrderID: o.ID,
		Reason:  reason,
	})
}

// PublishOrderRefunded publishes hdpay.order.refunded. refund is nil for
// status-only refund notifications.
func (p *Producer) PublishOrderRefunded(ctx context.Context, o *domain.Order, refund *domain.Refund) error {
	data := OrderRefundedData{
		OrderID:       o.ID,
		Currency:      o.Currency,
		Status:        o.Status,
		RefundedTotal: o.RefundedTotal.StringFixed(2),
		Amount:        "0.00",
	}
	if refund != nil {
		data.RefundID = refund.ID.String()
		data.Amount = refund.Amount.StringFixed(2)
		data.Reason = refund.Reason
	}
	return p.publish(ctx, TopicOrderRefunded, o, data)
}

func (p *Producer) publish(ctx context.Context, topic string, o *domain.Order, data any) error {
	if p.bus == nil {
		return nil
	}

	evt, err := pkgkafka.NewEvent(topic, pkgkafka.Aggregate{
		Type: AggregateTypeOrder,
		ID:   strconv.FormatInt(o.ID, 10),
	}, SourceGateway, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	if err := p.bus.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.InfoContext(ctx, "order event published",
		slog.String("topic", topic),
		slog.Int64("order_id", o.ID),
		slog.String("event_id", evt.EventID),
	)
	return nil
}
