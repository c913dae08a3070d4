package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_FillsEnvelope(t *testing.T) {
	evt, err := NewEvent("hdpay.order.refunded", Aggregate{Type: "order", ID: "42"}, "hdpay-gateway",
		map[string]string{"amount": "5.00"})
	require.NoError(t, err)

	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, SchemaVersion, evt.SchemaVersion)
	assert.False(t, evt.OccurredAt.IsZero())
	assert.Equal(t, "42", string(evt.Key()))
	assert.JSONEq(t, `{"amount":"5.00"}`, string(evt.Data))
}

func TestNewEvent_RequiresTypeAndAggregate(t *testing.T) {
	_, err := NewEvent("", Aggregate{Type: "order", ID: "42"}, "hdpay-gateway", nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewEvent("hdpay.order.paid", Aggregate{Type: "order"}, "hdpay-gateway", nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEvent_HeadersOmitEmptyCorrelation(t *testing.T) {
	evt, err := NewEvent("hdpay.order.paid", Aggregate{Type: "order", ID: "1"}, "hdpay-gateway", nil)
	require.NoError(t, err)
	assert.Len(t, evt.Headers(), 3)

	evt.WithCorrelationID("corr-1")
	headers := evt.Headers()
	require.Len(t, headers, 4)
	assert.Equal(t, HeaderCorrelationID, headers[3].Key)
	assert.Equal(t, "corr-1", string(headers[3].Value))
}

func TestDecodeEvent(t *testing.T) {
	evt, err := NewEvent("hdpay.order.failed", Aggregate{Type: "order", ID: "7"}, "hdpay-gateway",
		map[string]string{"reason": "declined"})
	require.NoError(t, err)
	raw, err := evt.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, decoded.EventID)
	assert.Equal(t, "7", decoded.AggregateID)

	_, err = DecodeEvent([]byte(`{"event_type":"hdpay.order.failed"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = DecodeEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
