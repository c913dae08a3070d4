package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// SchemaVersion is stamped on every envelope this service writes.
const SchemaVersion = 1

// Header keys set on every message.
const (
	HeaderEventType     = "event_type"
	HeaderSource        = "source"
	HeaderSchemaVersion = "schema_version"
	HeaderCorrelationID = "correlation_id"
)

// ErrInvalidEvent is returned for envelopes missing a type or aggregate.
var ErrInvalidEvent = errors.New("kafka: invalid event")

// Aggregate names the entity an event is about. Its ID is the message key,
// so events for one aggregate keep their order within a partition.
type Aggregate struct {
	Type string
	ID   string
}

// Event is the envelope written for each domain event.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent builds an envelope for data about agg.
func NewEvent(eventType string, agg Aggregate, source string, data any) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	e := &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: agg.Type,
		AggregateID:   agg.ID,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		Source:        source,
		Data:          payload,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// Validate reports whether the envelope can be routed.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: %s has no aggregate id", ErrInvalidEvent, e.EventType)
	}
	return nil
}

// Key is the partition key.
func (e *Event) Key() []byte {
	return []byte(e.AggregateID)
}

// Headers lets consumers filter messages without decoding the body.
func (e *Event) Headers() []kafka.Header {
	h := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(e.EventType)},
		{Key: HeaderSource, Value: []byte(e.Source)},
		{Key: HeaderSchemaVersion, Value: []byte(strconv.Itoa(e.SchemaVersion))},
	}
	if e.CorrelationID != "" {
		h = append(h, kafka.Header{Key: HeaderCorrelationID, Value: []byte(e.CorrelationID)})
	}
	return h
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses and validates an envelope.
func DecodeEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
