package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorString(t *testing.T) {
	withInner := &AppError{Code: "INTERNAL_ERROR", Message: "save failed", Err: fmt.Errorf("db gone")}
	assert.Equal(t, "INTERNAL_ERROR: save failed: db gone", withInner.Error())

	bare := &AppError{Code: "NOT_FOUND", Message: "order not found"}
	assert.Equal(t, "NOT_FOUND: order not found", bare.Error())
}

func TestConstructors_WrapSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      *AppError
		sentinel error
		status   int
	}{
		{"not found", NotFound("order", "42"), ErrNotFound, http.StatusNotFound},
		{"invalid input", InvalidInput("bad"), ErrInvalidInput, http.StatusBadRequest},
		{"unauthorized", Unauthorized("no"), ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden("no"), ErrForbidden, http.StatusForbidden},
		{"conflict", Conflict("stale"), ErrConflict, http.StatusConflict},
		{"unavailable", ServiceUnavailable("busy"), ErrServiceUnavail, http.StatusServiceUnavailable},
		{"payment failed", PaymentFailed("declined"), ErrPaymentFailed, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errors.Is(tc.err, tc.sentinel))
			assert.Equal(t, tc.status, tc.err.Status)
			assert.Equal(t, tc.status, HTTPStatus(tc.err))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("order", "42")
	assert.Equal(t, "order with id 42 not found", err.Message)
}

func TestHTTPStatus_WrappedSentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("get order: %w", ErrNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Wrap(ErrConflict, "save order")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(Wrap(ErrServiceUnavail, "lock")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestInternal_HidesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause)
	assert.Equal(t, "an internal error occurred", err.Message)
	assert.ErrorIs(t, err, cause)
}
