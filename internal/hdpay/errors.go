package hdpay

import "errors"

// ErrNotConfigured is wrapped by every call made without an endpoint.
var ErrNotConfigured = errors.New("hdpay: webhook url is not configured")

// Kind distinguishes why an outbound call failed.
type Kind int

const (
	// KindNotConfigured means no endpoint is set.
	KindNotConfigured Kind = iota + 1
	// KindTransport means the processor could not be reached.
	KindTransport
	// KindRemote means the processor answered with a non-200 status.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindNotConfigured:
		return "not_configured"
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Error is returned by Client calls. Message is the processor-facing text,
// suitable for operators but not for buyers.
type Error struct {
	Kind       Kind
	Action     string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return "hdpay " + e.Action + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}
