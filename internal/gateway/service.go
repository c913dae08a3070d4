package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/hdpay/internal/domain"
	"github.com/utafrali/hdpay/internal/event"
	"github.com/utafrali/hdpay/internal/hdpay"
	"github.com/utafrali/hdpay/internal/repository"
	apperrors "github.com/utafrali/hdpay/pkg/errors"
	"github.com/utafrali/hdpay/pkg/logger"
)

// Buyer-facing checkout failure text. Processor detail only goes to the log.
const checkoutFailedMessage = "Unable to create payment session. Please try again."

// Paths served by this service and linked from checkout sessions.
const (
	WebhookPath = "/wc-api/hdpay_webhook/"
	ReturnPath  = "/wc-api/hdpay_return"
)

// ProcessorClient is the outbound surface of the payment processor.
type ProcessorClient interface {
	CreateCheckout(ctx context.Context, req hdpay.CheckoutRequest) (*hdpay.CheckoutResponse, error)
	Refund(ctx context.Context, req hdpay.RefundRequest) (map[string]any, error)
}

// Config holds the site-level settings baked into checkout sessions.
type Config struct {
	SiteURL   string
	ProjectID string
	TestMode  bool
}

// RedirectResult is returned to the storefront after a checkout starts.
type RedirectResult struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect"`
}

// Service links orders to processor checkout sessions and refunds.
type Service struct {
	repo   repository.OrderRepository
	client ProcessorClient
	events event.Publisher
	cfg    Config
	logger *slog.Logger
}

// NewService creates a gateway service.
func NewService(
	repo repository.OrderRepository,
	client ProcessorClient,
	events event.Publisher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Service{
		repo:   repo,
		client: client,
		events: events,
		cfg:    cfg,
		logger: logger,
	}
}

// HomeURL is where buyers land when a return link does not check out.
func (s *Service) HomeURL() string {
	return s.cfg.SiteURL
}

// ThankYouURL is the order-received page of an order.
func (s *Service) ThankYouURL(o *domain.Order) string {
	q := url.Values{"key": {o.Key}}
	return fmt.Sprintf("%s/checkout/order-received/%d/?%s", s.cfg.SiteURL, o.ID, q.Encode())
}

// CancelURL cancels the pending order and sends the buyer back to the cart.
func (s *Service) CancelURL(o *domain.Order) string {
	q := url.Values{
		"cancel_order": {"true"},
		"order":        {o.Key},
		"order_id":     {strconv.FormatInt(o.ID, 10)},
	}
	return s.cfg.SiteURL + "/cart/?" + q.Encode()
}

// WebhookURL is the notification endpoint handed to the processor.
func (s *Service) WebhookURL() string {
	return s.cfg.SiteURL + WebhookPath
}

// BuildSessionRequest projects an order onto a create_checkout payload.
func (s *Service) BuildSessionRequest(o *domain.Order) hdpay.CheckoutRequest {
	items := make([]hdpay.Item, 0, len(o.Items))
	descriptions := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, hdpay.Item{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    domain.MinorUnits(it.Total),
			SKU:      it.SKU,
		})
		descriptions = append(descriptions, fmt.Sprintf("%s x %d", it.Name, it.Quantity))
	}

	b := o.Billing
	return hdpay.CheckoutRequest{
		OrderID:  o.ID,
		OrderKey: o.Key,
		Amount:   domain.MinorUnits(o.Total),
		Currency: o.Currency,
		Customer: hdpay.Customer{
			Name:     b.FirstName + " " + b.LastName,
			Email:    b.Email,
			Phone:    b.Phone,
			Address1: b.Address1,
			Address2: b.Address2,
			City:     b.City,
			State:    b.State,
			ZipCode:  b.Postcode,
			Country:  b.Country,
		},
		Items:       items,
		Description: strings.Join(descriptions, ", "),
		SuccessURL:  s.ThankYouURL(o),
		CancelURL:   s.CancelURL(o),
		WebhookURL:  s.WebhookURL(),
		TestMode:    s.cfg.TestMode,
		ProjectID:   s.cfg.ProjectID,
		Metadata: hdpay.CheckoutMetadata{
			OrderID:  o.ID,
			OrderKey: o.Key,
			SiteURL:  s.cfg.SiteURL,
		},
	}
}

// ProcessPayment opens a processor checkout session for the order and moves
// it to pending.
func (s *Service) ProcessPayment(ctx context.Context, orderID int64) (*RedirectResult, error) {
	log := logger.FromContext(ctx, s.logger).With(slog.Int64("order_id", orderID))

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for payment: %w", err)
	}
	if o.IsPaid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("order %d is already paid", o.ID))
	}

	resp, err := s.client.CreateCheckout(ctx, s.BuildSessionRequest(o))
	if err != nil {
		log.ErrorContext(ctx, "create checkout session failed", slog.String("error", err.Error()))
		return nil, apperrors.PaymentFailed(checkoutFailedMessage)
	}
	if resp.CheckoutURL == "" {
		log.ErrorContext(ctx, "checkout session has no checkout_url", slog.Any("response", resp.Raw))
		return nil, apperrors.PaymentFailed(checkoutFailedMessage)
	}

	if resp.TransactionID != "" {
		o.SetMeta(domain.MetaTransactionID, resp.TransactionID)
	}
	if err := o.TransitionStatus(domain.OrderStatusPending, "Awaiting HDPay payment."); err != nil {
		return nil, fmt.Errorf("mark order pending: %w", err)
	}
	if err := s.repo.Save(ctx, o); err != nil {
		return nil, fmt.Errorf("save order after checkout: %w", err)
	}

	log.InfoContext(ctx, "checkout session created", slog.String("transaction_id", resp.TransactionID))

	if err := s.events.PublishCheckoutCreated(ctx, o); err != nil {
		log.WarnContext(ctx, "failed to publish checkout event", slog.String("error", err.Error()))
	}

	return &RedirectResult{Result: "success", Redirect: resp.CheckoutURL}, nil
}

// ProcessRefund refunds amount of the order's processor transaction and
// records the refund against the order.
func (s *Service) ProcessRefund(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*domain.Refund, error) {
	log := logger.FromContext(ctx, s.logger).With(slog.Int64("order_id", orderID))

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for refund: %w", err)
	}

	txID := o.TransactionID()
	if txID == "" {
		return nil, apperrors.InvalidInput("No HDPay transaction ID found.")
	}
	// The processor moves whole minor units; record exactly that.
	amount = domain.TruncateToMinor(amount)
	if !amount.IsPositive() {
		return nil, apperrors.InvalidInput("refund amount must be greater than zero")
	}
	if amount.GreaterThan(o.RemainingRefundable()) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("refund amount exceeds remaining %s", o.RemainingRefundable().StringFixed(2)))
	}

	_, err = s.client.Refund(ctx, hdpay.RefundRequest{
		TransactionID: txID,
		Amount:        domain.MinorUnits(amount),
		Reason:        reason,
	})
	if err != nil {
		log.ErrorContext(ctx, "processor refund failed", slog.String("error", err.Error()))
		var hdErr *hdpay.Error
		if errors.As(err, &hdErr) {
			return nil, apperrors.PaymentFailed(hdErr.Message)
		}
		return nil, apperrors.PaymentFailed("Refund failed.")
	}

	ref := domain.NewRefund(o.ID, amount, reason)
	if err := o.ApplyRefund(ref); err != nil {
		return nil, fmt.Errorf("apply refund: %w", err)
	}
	o.AddNote(fmt.Sprintf("Refunded %s %s via HDPay. Reason: %s", amount.StringFixed(2), o.Currency, reason))

	if err := s.repo.CreateRefund(ctx, o, ref); err != nil {
		log.ErrorContext(ctx, "processor refund issued but not recorded",
			slog.String("transaction_id", txID),
			slog.String("amount", amount.StringFixed(2)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("record refund: %w", err)
	}

	log.InfoContext(ctx, "refund processed",
		slog.String("transaction_id", txID),
		slog.String("amount", amount.StringFixed(2)),
	)

	if err := s.events.PublishOrderRefunded(ctx, o, ref); err != nil {
		log.WarnContext(ctx, "failed to publish refund event", slog.String("error", err.Error()))
	}

	return ref, nil
}

// HandleReturn resolves the redirect target for a buyer coming back from
// the processor. Only a matching id and key lead to the thank-you page.
func (s *Service) HandleReturn(ctx context.Context, orderID int64, key string) string {
	if orderID <= 0 || key == "" {
		return s.HomeURL()
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.FromContext(ctx, s.logger).ErrorContext(ctx, "load order for return failed",
				slog.Int64("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
		return s.HomeURL()
	}
	if subtle.ConstantTimeCompare([]byte(o.Key), []byte(key)) != 1 {
		return s.HomeURL()
	}
	return s.ThankYouURL(o)
}
