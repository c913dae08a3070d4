package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/hdpay/internal/domain"
)

// ErrInvalidPayload is returned for bodies that are neither a non-empty JSON
// object nor a non-empty JSON array.
var ErrInvalidPayload = errors.New("invalid webhook payload")

var (
	maxOrderID = decimal.NewFromInt(math.MaxInt64)

	// leadingNumber is the numeric prefix an id string is read from, so
	// "42abc" is order 42.
	leadingNumber = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]+)?`)
)

// ParseNotification decodes a raw webhook body. Fields of an unexpected
// JSON type are treated as absent rather than failing the whole payload.
// A non-empty array carries no named fields and decodes to an empty
// notification, which the reconciler acknowledges and ignores.
func ParseNotification(raw []byte) (*domain.Notification, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		var list []json.RawMessage
		if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
			return &domain.Notification{}, nil
		}
		return nil, ErrInvalidPayload
	}

	n := &domain.Notification{
		Event:         textField(fields["event"]),
		OrderID:       idField(fields["order_id"]),
		OrderKey:      keyField(fields["order_key"]),
		Status:        textField(fields["status"]),
		TransactionID: textField(fields["transaction_id"]),
		PaymentID:     textField(fields["payment_id"]),
		FailureReason: textField(fields["failure_reason"]),
		RefundAmount:  amountField(fields["refund_amount"]),
		RefundReason:  textField(fields["refund_reason"]),
	}

	var meta map[string]json.RawMessage
	if len(fields["metadata"]) > 0 && json.Unmarshal(fields["metadata"], &meta) == nil {
		n.MetadataOrderID = idField(meta["order_id"])
	}

	return n, nil
}

// scalar returns the textual form of a JSON string or number, and false for
// any other JSON type.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var num json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&num); err != nil {
			return "", false
		}
		return num.String(), true
	}
	return "", false
}

func textField(raw json.RawMessage) string {
	s, _ := scalar(raw)
	return strings.TrimSpace(s)
}

// keyField keeps the order key byte-exact for comparison.
func keyField(raw json.RawMessage) string {
	s, _ := scalar(raw)
	return s
}

// idField reads the leading number of a JSON number or string and keeps its
// truncated absolute value: -5 is 5 and "42abc" is 42. A result of 0, or one
// that overflows int64, means absent.
func idField(raw json.RawMessage) int64 {
	s, ok := scalar(raw)
	if !ok {
		return 0
	}
	m := leadingNumber.FindString(strings.TrimLeft(s, " \t\n\r\v\f"))
	if m == "" {
		return 0
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(m, "+"))
	if err != nil {
		return 0
	}
	d = d.Abs().Truncate(0)
	if d.IsZero() || d.GreaterThan(maxOrderID) {
		return 0
	}
	return d.IntPart()
}

func amountField(raw json.RawMessage) decimal.Decimal {
	d, ok := decimalField(raw)
	if !ok {
		return decimal.Zero
	}
	return d
}

func decimalField(raw json.RawMessage) (decimal.Decimal, bool) {
	s, ok := scalar(raw)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
