package hdpay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/hdpay/pkg/httpclient"
	"github.com/utafrali/hdpay/pkg/logger"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 2 * time.Second
	return NewClient(Config{Endpoint: endpoint, APIKey: "key-1", ProjectID: "proj-1"}, httpclient.New(cfg), logger.Discard())
}

func TestCreateCheckout_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "key-1", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, "proj-1", r.Header.Get(HeaderProject))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{"checkout_url":"https://pay.example.com/s/1","transaction_id":"tx_1"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).CreateCheckout(context.Background(), CheckoutRequest{
		OrderID:  42,
		OrderKey: "wc_order_abc",
		Amount:   1999,
		Currency: "USD",
		Items:    []Item{{Name: "Mug", Quantity: 1, Price: 1999, SKU: "MUG"}},
		TestMode: true,
		Metadata: CheckoutMetadata{OrderID: 42, OrderKey: "wc_order_abc", SiteURL: "https://shop.example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/s/1", resp.CheckoutURL)
	assert.Equal(t, "tx_1", resp.TransactionID)

	assert.Equal(t, ActionCreateCheckout, got["action"])
	orderData := got["order_data"].(map[string]any)
	assert.Equal(t, float64(42), orderData["order_id"])
	assert.Equal(t, float64(1999), orderData["amount"])
	assert.Equal(t, true, orderData["testmode"])
	assert.Contains(t, orderData, "customer")
	assert.Equal(t, "https://shop.example.com", orderData["metadata"].(map[string]any)["site_url"])
}

func TestCreateCheckout_NumericTransactionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"checkout_url":"https://pay.example.com/s/2","transaction_id":98765}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).CreateCheckout(context.Background(), CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, "98765", resp.TransactionID)
}

func TestCreateCheckout_RemoteErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid project"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateCheckout(context.Background(), CheckoutRequest{})

	var hdErr *Error
	require.ErrorAs(t, err, &hdErr)
	assert.Equal(t, KindRemote, hdErr.Kind)
	assert.Equal(t, http.StatusBadRequest, hdErr.StatusCode)
	assert.Equal(t, "Invalid project", hdErr.Message)
}

func TestCreateCheckout_RemoteErrorDefaultMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CreateCheckout(context.Background(), CheckoutRequest{})

	var hdErr *Error
	require.ErrorAs(t, err, &hdErr)
	assert.Equal(t, KindRemote, hdErr.Kind)
	assert.Equal(t, "Unknown error occurred.", hdErr.Message)
}

func TestRefund_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"refunded"}`))
	}))
	defer srv.Close()

	data, err := newTestClient(t, srv.URL).Refund(context.Background(), RefundRequest{
		TransactionID: "tx_1", Amount: 500, Reason: "damaged",
	})
	require.NoError(t, err)
	assert.Equal(t, "refunded", data["status"])

	assert.Equal(t, map[string]any{
		"action":         "refund",
		"transaction_id": "tx_1",
		"amount":         float64(500),
		"reason":         "damaged",
	}, got)
}

func TestRefund_ServerErrorThroughBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	base := httpclient.New(httpclient.Config{Timeout: time.Second, MaxConnsPerHost: 1})
	cb := httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("hdpay-test-refund"), logger.Discard())
	client := NewClient(Config{Endpoint: srv.URL}, cb, logger.Discard())

	_, err := client.Refund(context.Background(), RefundRequest{TransactionID: "tx_1", Amount: 1})

	var hdErr *Error
	require.ErrorAs(t, err, &hdErr)
	assert.Equal(t, KindRemote, hdErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, hdErr.StatusCode)
	assert.Equal(t, "Refund failed.", hdErr.Message)
}

func TestRefund_NonJSONSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	data, err := newTestClient(t, srv.URL).Refund(context.Background(), RefundRequest{TransactionID: "tx_1", Amount: 1})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := newTestClient(t, endpoint).CreateCheckout(context.Background(), CheckoutRequest{})

	var hdErr *Error
	require.ErrorAs(t, err, &hdErr)
	assert.Equal(t, KindTransport, hdErr.Kind)
}

func TestNotConfigured(t *testing.T) {
	client := newTestClient(t, "")

	_, err := client.CreateCheckout(context.Background(), CheckoutRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.Refund(context.Background(), RefundRequest{})
	var hdErr *Error
	require.ErrorAs(t, err, &hdErr)
	assert.Equal(t, KindNotConfigured, hdErr.Kind)
	assert.Equal(t, "HDPay webhook URL is not configured.", hdErr.Message)
}
