package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
	err      error
}

func NewMessageEnvelopeBuilder(msgType string) *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{Type: msgType},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

// WithPayload marshals v as the message payload.
func (b *MessageEnvelopeBuilder) WithPayload(v interface{}) *MessageEnvelopeBuilder {
	body, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("failed to marshal %s payload: %w", b.envelope.Type, err)
		return b
	}
	b.envelope.Payload = body
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) WithRunID(runID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.RunID = runID
	return b
}

func (b *MessageEnvelopeBuilder) WithCorrelationID(id string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.CorrelationID = id
	return b
}

// Build fills in a fresh ID and the current time when unset.
func (b *MessageEnvelopeBuilder) Build() (*MessageEnvelope, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.envelope.ID == "" {
		b.envelope.ID = uuid.New().String()
	}
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	return b.envelope, nil
}
