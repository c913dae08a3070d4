package hdpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/utafrali/hdpay/pkg/httpclient"
	"github.com/utafrali/hdpay/pkg/logger"
)

// Default processor error texts used when the response carries none.
const (
	defaultCheckoutError = "Unknown error occurred."
	defaultRefundError   = "Refund failed."
	notConfiguredMessage = "HDPay webhook URL is not configured."
)

// Request headers sent on every outbound call.
const (
	HeaderAPIKey  = "X-HDPay-API-Key"
	HeaderProject = "X-HDPay-Project"
)

// Config identifies the processor endpoint and credentials.
type Config struct {
	Endpoint  string
	APIKey    string
	ProjectID string
}

// Client talks to the processor endpoint (an HDPay or n8n webhook).
type Client struct {
	cfg    Config
	http   httpclient.Doer
	logger *slog.Logger
}

// NewClient creates a processor client on top of doer.
func NewClient(cfg Config, doer httpclient.Doer, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, http: doer, logger: logger}
}

// CreateCheckout asks the processor for a hosted checkout session.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	data, err := c.post(ctx, ActionCreateCheckout, checkoutEnvelope{
		Action:    ActionCreateCheckout,
		OrderData: req,
	}, defaultCheckoutError)
	if err != nil {
		return nil, err
	}

	return &CheckoutResponse{
		CheckoutURL:   stringValue(data["checkout_url"]),
		TransactionID: stringValue(data["transaction_id"]),
		Raw:           data,
	}, nil
}

// Refund asks the processor to refund part or all of a transaction.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (map[string]any, error) {
	return c.post(ctx, ActionRefund, refundEnvelope{
		Action:        ActionRefund,
		RefundRequest: req,
	}, defaultRefundError)
}

func (c *Client) post(ctx context.Context, action string, payload any, defaultMsg string) (map[string]any, error) {
	log := logger.FromContext(ctx, c.logger).With(slog.String("action", action))

	if c.cfg.Endpoint == "" {
		log.WarnContext(ctx, "hdpay endpoint not configured")
		return nil, &Error{Kind: KindNotConfigured, Action: action, Message: notConfiguredMessage, Err: ErrNotConfigured}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	req.Header.Set(HeaderProject, c.cfg.ProjectID)

	log.InfoContext(ctx, "hdpay request", slog.Int("bytes", len(body)))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			log.WarnContext(ctx, "hdpay response",
				slog.Int("status", statusErr.StatusCode),
				slog.String("body", string(statusErr.Body)),
			)
			return nil, remoteError(action, statusErr.StatusCode, statusErr.Body, defaultMsg)
		}
		log.ErrorContext(ctx, "hdpay transport error", slog.String("error", err.Error()))
		return nil, &Error{Kind: KindTransport, Action: action, Message: err.Error(), Err: err}
	}

	respBody, err := httpclient.ReadBody(resp)
	if err != nil {
		log.ErrorContext(ctx, "hdpay transport error", slog.String("error", err.Error()))
		return nil, &Error{Kind: KindTransport, Action: action, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	log.InfoContext(ctx, "hdpay response",
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(respBody)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(action, resp.StatusCode, respBody, defaultMsg)
	}

	data := map[string]any{}
	// A 200 with a non-object body decodes to an empty result.
	_ = json.Unmarshal(respBody, &data)
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func remoteError(action string, status int, body []byte, defaultMsg string) *Error {
	msg := httpclient.ErrorMessage(body)
	if msg == "" {
		msg = defaultMsg
	}
	return &Error{Kind: KindRemote, Action: action, StatusCode: status, Message: msg}
}

// stringValue renders JSON strings and numbers as text.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
