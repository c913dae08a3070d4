// Package webhook reconciles processor payment notifications onto orders.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/hdpay/internal/domain"
	"github.com/utafrali/hdpay/internal/event"
	"github.com/utafrali/hdpay/internal/hdpay"
	"github.com/utafrali/hdpay/internal/lock"
	"github.com/utafrali/hdpay/internal/repository"
	apperrors "github.com/utafrali/hdpay/pkg/errors"
	"github.com/utafrali/hdpay/pkg/logger"
	"github.com/utafrali/hdpay/pkg/tracing"
)

// Generic notification statuses.
const (
	statusPaid      = "paid"
	statusCompleted = "completed"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusRefunded  = "refunded"
)

// maxApplyAttempts bounds reload-and-reapply rounds after a version conflict.
const maxApplyAttempts = 3

// Result is the acknowledgement returned to the processor.
type Result struct {
	Status int
	Body   map[string]any
}

func success() Result {
	return Result{Status: http.StatusOK, Body: map[string]any{"success": true}}
}

func failure(status int, msg string) Result {
	return Result{Status: status, Body: map[string]any{"error": msg}}
}

// Config holds reconciler settings.
type Config struct {
	// APIKey, when non-empty, must equal the X-HDPay-API-Key header of
	// every notification. When empty notifications are not authenticated.
	APIKey string
}

// Reconciler applies inbound notifications to orders idempotently.
type Reconciler struct {
	repo    repository.OrderRepository
	locker  lock.Locker
	events  event.Publisher
	metrics *Metrics
	apiKey  string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewReconciler creates a reconciler. locker may be lock.Noop{} and metrics
// may be nil.
func NewReconciler(
	repo repository.OrderRepository,
	locker lock.Locker,
	events event.Publisher,
	metrics *Metrics,
	cfg Config,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:    repo,
		locker:  locker,
		events:  events,
		metrics: metrics,
		apiKey:  cfg.APIKey,
		logger:  logger,
		tracer:  tracing.Tracer("hdpay/webhook"),
	}
}

// Handle processes one notification body. Every parsed and authenticated
// notification is acknowledged with 200 unless persisting it failed, in
// which case a 5xx asks the processor to retry.
func (r *Reconciler) Handle(ctx context.Context, raw []byte, headers http.Header) Result {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "webhook.Handle")
	defer span.End()

	log := logger.FromContext(ctx, r.logger)
	log.InfoContext(ctx, "webhook received", slog.String("payload", string(raw)))

	n, err := ParseNotification(raw)
	if err != nil {
		log.WarnContext(ctx, "invalid webhook payload")
		r.metrics.observe(domain.EventKindNone.String(), OutcomeInvalidPayload, started)
		return failure(http.StatusBadRequest, "Invalid payload")
	}

	if !r.authorized(headers) {
		log.WarnContext(ctx, "webhook api key mismatch")
		r.metrics.observe(domain.EventKindNone.String(), OutcomeUnauthorized, started)
		return failure(http.StatusUnauthorized, "Unauthorized")
	}

	kind := n.Kind()
	span.SetAttributes(
		attribute.String("hdpay.event", n.Event),
		attribute.String("hdpay.kind", kind.String()),
	)
	log = log.With(slog.String("event", n.Event), slog.String("kind", kind.String()))

	if kind == domain.EventKindNone {
		log.InfoContext(ctx, "unknown webhook event, nothing to do")
		r.metrics.observe(kind.String(), OutcomeIgnored, started)
		return success()
	}

	outcome, err := r.reconcile(ctx, log, n, kind)
	r.metrics.observe(kind.String(), outcome, started)

	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		log.WarnContext(ctx, "order is busy, asking processor to retry")
		return failure(http.StatusServiceUnavailable, "Service busy")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorContext(ctx, "webhook reconciliation failed",
			slog.String("payload", string(raw)),
			slog.String("error", err.Error()),
		)
		return failure(http.StatusInternalServerError, "Internal error")
	}

	return success()
}

func (r *Reconciler) authorized(headers http.Header) bool {
	if r.apiKey == "" {
		return true
	}
	got := headers.Get(hdpay.HeaderAPIKey)
	return subtle.ConstantTimeCompare([]byte(got), []byte(r.apiKey)) == 1
}

func (r *Reconciler) reconcile(ctx context.Context, log *slog.Logger, n *domain.Notification, kind domain.EventKind) (string, error) {
	id, err := r.resolve(ctx, log, n)
	if err != nil {
		return OutcomeError, err
	}
	if id == 0 {
		log.WarnContext(ctx, "order not found for webhook event",
			slog.Int64("order_id", n.OrderID),
			slog.Int64("metadata_order_id", n.MetadataOrderID),
			slog.String("transaction_id", n.TransactionID),
		)
		return OutcomeUnresolved, nil
	}
	log = log.With(slog.Int64("order_id", id))

	release, err := r.locker.Acquire(ctx, id)
	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		return OutcomeBusy, err
	case err != nil:
		// The version check in the repository still rejects lost updates.
		log.WarnContext(ctx, "order lock unavailable, continuing without it", slog.String("error", err.Error()))
	default:
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WarnContext(ctx, "release order lock", slog.String("error", err.Error()))
			}
		}()
	}

	for attempt := 1; ; attempt++ {
		o, err := r.repo.GetByID(ctx, id)
		if err != nil {
			return OutcomeError, fmt.Errorf("load order %d: %w", id, err)
		}

		outcome, err := r.apply(ctx, log, kind, o, n)
		if errors.Is(err, apperrors.ErrConflict) && attempt < maxApplyAttempts {
			log.InfoContext(ctx, "order changed concurrently, reapplying", slog.Int("attempt", attempt))
			continue
		}
		return outcome, err
	}
}

// resolve finds the target order id, or 0. A matching id with a mismatched
// order_key resolves to nothing.
func (r *Reconciler) resolve(ctx context.Context, log *slog.Logger, n *domain.Notification) (int64, error) {
	if n.OrderID > 0 {
		o, err := r.lookup(ctx, n.OrderID)
		if err != nil {
			return 0, err
		}
		if o != nil {
			if n.OrderKey != "" && subtle.ConstantTimeCompare([]byte(o.Key), []byte(n.OrderKey)) != 1 {
				log.WarnContext(ctx, "order key mismatch", slog.Int64("order_id", o.ID))
				return 0, nil
			}
			return o.ID, nil
		}
	}

	if n.MetadataOrderID > 0 {
		o, err := r.lookup(ctx, n.MetadataOrderID)
		if err != nil {
			return 0, err
		}
		if o != nil {
			return o.ID, nil
		}
	}

	if n.TransactionID != "" {
		orders, err := r.repo.FindByTransactionID(ctx, n.TransactionID, 1)
		if err != nil {
			return 0, fmt.Errorf("find order by transaction %s: %w", n.TransactionID, err)
		}
		if len(orders) > 0 {
			return orders[0].ID, nil
		}
	}

	return 0, nil
}

// lookup returns nil without error when the order does not exist.
func (r *Reconciler) lookup(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := r.repo.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (r *Reconciler) apply(ctx context.Context, log *slog.Logger, kind domain.EventKind, o *domain.Order, n *domain.Notification) (string, error) {
	switch kind {
	case domain.EventKindCompleted:
		return r.applyCompleted(ctx, log, o, n)
	case domain.EventKindFailed:
		return r.applyFailed(ctx, log, o, n)
	case domain.EventKindRefunded:
		return r.applyRefunded(ctx, log, o, n)
	case domain.EventKindGeneric:
		return r.applyGeneric(ctx, log, o, n)
	}
	return OutcomeIgnored, nil
}

func (r *Reconciler) applyCompleted(ctx context.Context, log *slog.Logger, o *domain.Order, n *domain.Notification) (string, error) {
	if o.IsPaid() {
		log.InfoContext(ctx, "order already paid", slog.String("status", o.Status))
		return OutcomeNoop, nil
	}

	if n.TransactionID != "" {
		o.SetMeta(domain.MetaTransactionID, n.TransactionID)
	}
	if n.PaymentID != "" {
		o.SetMeta(domain.MetaPaymentID, n.PaymentID)
	}
	if err := o.MarkPaid(n.TransactionID); err != nil {
		return OutcomeError, fmt.Errorf("mark order %d paid: %w", o.ID, err)
	}

	txNote := n.TransactionID
	if txNote == "" {
		txNote = "N/A"
	}
	o.AddNote(fmt.Sprintf("HDPay payment completed. Transaction ID: %s", txNote))

	if err := r.repo.Save(ctx, o); err != nil {
		return OutcomeError, fmt.Errorf("save paid order %d: %w", o.ID, err)
	}
	log.InfoContext(ctx, "order marked as paid", slog.String("transaction_id", n.TransactionID))

	r.published(ctx, log, event.TopicOrderPaid, r.events.PublishOrderPaid(ctx, o))
	return OutcomeApplied, nil
}

func (r *Reconciler) applyFailed(ctx context.Context, log *slog.Logger, o *domain.Order, n *domain.Notification) (string, error) {
	if err := o.TransitionStatus(domain.OrderStatusFailed, "HDPay payment failed."); err != nil {
		return OutcomeError, err
	}
	if n.FailureReason != "" {
		o.AddNote(fmt.Sprintf("Payment failed: %s", n.FailureReason))
	}

	if err := r.repo.Save(ctx, o); err != nil {
		return OutcomeError, fmt.Errorf("save failed order %d: %w", o.ID, err)
	}
	log.InfoContext(ctx, "order marked as failed", slog.String("failure_reason", n.FailureReason))

	r.published(ctx, log, event.TopicOrderFailed, r.events.PublishOrderFailed(ctx, o, n.FailureReason))
	return OutcomeApplied, nil
}

func (r *Reconciler) applyRefunded(ctx context.Context, log *slog.Logger, o *domain.Order, n *domain.Notification) (string, error) {
	amount := n.RefundMajorAmount()
	if !amount.IsPositive() {
		log.InfoContext(ctx, "refund notification without a positive amount, nothing to do")
		return OutcomeNoop, nil
	}

	reason := n.RefundReason
	if reason == "" {
		reason = domain.DefaultWebhookRefundReason
	}

	ref := domain.NewRefund(o.ID, amount, reason)
	if err := o.ApplyRefund(ref); err != nil {
		if errors.Is(err, domain.ErrRefundExceedsTotal) {
			log.WarnContext(ctx, "refund rejected", slog.String("error", err.Error()))
			return OutcomeRejected, nil
		}
		return OutcomeError, fmt.Errorf("apply refund to order %d: %w", o.ID, err)
	}

	if err := r.repo.CreateRefund(ctx, o, ref); err != nil {
		return OutcomeError, fmt.Errorf("create refund for order %d: %w", o.ID, err)
	}
	log.InfoContext(ctx, "refund created",
		slog.String("refund_id", ref.ID.String()),
		slog.String("amount", amount.StringFixed(2)),
	)

	r.published(ctx, log, event.TopicOrderRefunded, r.events.PublishOrderRefunded(ctx, o, ref))
	return OutcomeApplied, nil
}

func (r *Reconciler) applyGeneric(ctx context.Context, log *slog.Logger, o *domain.Order, n *domain.Notification) (string, error) {
	var changed bool
	var topic string

	switch n.Status {
	case statusPaid, statusCompleted, statusSucceeded:
		if !o.IsPaid() {
			if err := o.MarkPaid(n.TransactionID); err != nil {
				return OutcomeError, fmt.Errorf("mark order %d paid: %w", o.ID, err)
			}
			changed, topic = true, event.TopicOrderPaid
		}
	case statusFailed:
		if err := o.TransitionStatus(domain.OrderStatusFailed, "Payment failed."); err != nil {
			return OutcomeError, err
		}
		changed, topic = true, event.TopicOrderFailed
	case statusRefunded:
		// Status only. No monetary refund is recorded on this path.
		if err := o.TransitionStatus(domain.OrderStatusRefunded, "Payment refunded."); err != nil {
			return OutcomeError, err
		}
		changed, topic = true, event.TopicOrderRefunded
	default:
		log.InfoContext(ctx, "unrecognized generic status", slog.String("status", n.Status))
	}

	if n.TransactionID != "" {
		o.SetMeta(domain.MetaTransactionID, n.TransactionID)
		changed = true
	}
	if !changed {
		return OutcomeNoop, nil
	}

	if err := r.repo.Save(ctx, o); err != nil {
		return OutcomeError, fmt.Errorf("save order %d: %w", o.ID, err)
	}
	log.InfoContext(ctx, "order updated via generic notification",
		slog.String("status", o.Status),
		slog.String("transaction_id", n.TransactionID),
	)

	switch topic {
	case event.TopicOrderPaid:
		r.published(ctx, log, topic, r.events.PublishOrderPaid(ctx, o))
	case event.TopicOrderFailed:
		r.published(ctx, log, topic, r.events.PublishOrderFailed(ctx, o, ""))
	case event.TopicOrderRefunded:
		r.published(ctx, log, topic, r.events.PublishOrderRefunded(ctx, o, nil))
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) published(ctx context.Context, log *slog.Logger, topic string, err error) {
	if err != nil {
		log.WarnContext(ctx, "failed to publish order event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}
