package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(retries int) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = retries
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 2 * time.Millisecond
	return cfg
}

func postJSON(t *testing.T, d Doer, url, body string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return d.Do(context.Background(), req)
}

func TestClient_NoRetriesMeansSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := postJSON(t, New(testConfig(0)), srv.URL, `{}`)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrorsWithBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := postJSON(t, New(testConfig(2)), srv.URL, `{"a":1}`)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCircuitBreaker_ServerErrorBecomesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	cb := NewCircuitBreakerClient(New(testConfig(0)), DefaultCircuitBreakerConfig("test-status"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := postJSON(t, cb, srv.URL, `{}`)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "upstream down", statusErr.Message())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultCircuitBreakerConfig("test-open")
	cfg.MinRequests = 2
	cb := NewCircuitBreakerClient(New(testConfig(0)), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 2; i++ {
		_, _ = postJSON(t, cb, srv.URL, `{}`)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := postJSON(t, cb, srv.URL, `{}`)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key", ErrorMessage([]byte(`{"error":"bad key"}`)))
	assert.Equal(t, "nope", ErrorMessage([]byte(`{"error":{"code":"X","message":"nope"}}`)))
	assert.Equal(t, "", ErrorMessage([]byte(`{"status":"ok"}`)))
	assert.Equal(t, "", ErrorMessage([]byte(`not json`)))
}
