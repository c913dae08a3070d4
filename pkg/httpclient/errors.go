package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

// StatusError is returned when a downstream answers with a server error
// that the circuit breaker counted as a failure. The body is kept so the
// caller can still surface the downstream message.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, string(e.Body))
}

// Message extracts a human-readable message from the body, or "".
func (e *StatusError) Message() string {
	return ErrorMessage(e.Body)
}

// ErrorMessage extracts the downstream error message from a JSON body.
// Both the flat form {"error":"msg"} and the envelope form
// {"error":{"code":"X","message":"msg"}} are understood.
func ErrorMessage(body []byte) string {
	var flat struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &flat) != nil || len(flat.Error) == 0 {
		return ""
	}

	var msg string
	if json.Unmarshal(flat.Error, &msg) == nil {
		return msg
	}

	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(flat.Error, &envelope) == nil {
		return envelope.Message
	}
	return ""
}

// ReadBody reads and closes a response body, bounded to 1 MB.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
