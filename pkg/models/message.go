package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types carried on the topics.
const (
	TypeCostLines        = "shipment.cost_lines"
	TypeResolutions      = "shipment.resolutions"
	TypeAgreementUpdated = "agreement.updated"
)

type MessageEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID       string             `json:"trace_id,omitempty"`
	RunID         string             `json:"run_id,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Deduplication *DeduplicationInfo `json:"deduplication,omitempty"`
	// DLQ is set on messages parked in the dead letter topic.
	DLQ *DLQInfo `json:"dlq,omitempty"`
}

type DeduplicationInfo struct {
	Key       string    `json:"key"`
	CheckedAt time.Time `json:"checked_at"`
}

type DLQInfo struct {
	Reason      string    `json:"reason"`
	SourceTopic string    `json:"source_topic"`
	Attempts    int       `json:"attempts,omitempty"`
	ParkedAt    time.Time `json:"parked_at"`
}

// Decode unmarshals the payload into v.
func (msg *MessageEnvelope) Decode(v interface{}) error {
	if len(msg.Payload) == 0 {
		return &ValidationError{Field: "payload", Message: "message payload is empty"}
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload of message %s: %w", msg.Type, msg.ID, err)
	}
	return nil
}
