package broker

import (
	"context"

	"freightaudit/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one message. A returned error is retried with
// backoff; errors marked fatal through retry.NewFatalError go to the DLQ at
// once.
type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error
