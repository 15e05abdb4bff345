package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"freightaudit/internal/config"
	"freightaudit/internal/constants"
	"freightaudit/internal/logger"
	apperrors "freightaudit/pkg/errors"
	"freightaudit/pkg/logging"
	"freightaudit/pkg/metrics"
	"freightaudit/pkg/models"
	"freightaudit/pkg/retry"
	"freightaudit/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: constants.ServiceName}
}

// Publish writes msg keyed by its correlation ID when set, so every message
// about one shipment lands on the same partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := msg.Metadata.CorrelationID
	if key == "" {
		key = msg.ID
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	policy      retry.Policy
	wg          sync.WaitGroup
	mu          sync.Mutex
	readers     []*kafka.Reader
	logger      logger.Logger
	dlq         Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	c := &KafkaConsumer{
		cfg:         cfg,
		policy:      retry.PolicyFromConfig(retry.DefaultPolicy(), cfg.Retry),
		logger:      log,
		serviceName: constants.ServiceName,
	}
	if cfg.DLQTopic != "" {
		c.dlq = NewKafkaProducer(cfg, log)
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is done, handing every message of topic to
// handler. Messages are committed once handled or parked in the DLQ.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.wg.Add(1)
	defer c.wg.Done()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				// reader closed
				return nil
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message", "error", err, "topic", topic)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(constants.KafkaFetchBackoff):
			}
			continue
		}

		metrics.IncKafkaMessagesRead(c.serviceName, topic)
		metrics.ObserveKafkaMessageSize(c.serviceName, topic, "in", len(m.Value))
		if m.HighWaterMark > 0 {
			metrics.SetKafkaConsumerLag(c.serviceName, topic, m.Partition, m.HighWaterMark-m.Offset-1)
		}

		c.handle(consumeCtx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(consumeCtx, "Failed to commit message", "error", err, "topic", topic)
		}
	}
}

type outcome string

const (
	outcomeProcessed outcome = "processed"
	outcomeParked    outcome = "parked"
	outcomeDropped   outcome = "dropped"
)

// handle runs handler on one message with retries and parks it in the DLQ
// when it keeps failing. It never asks for redelivery.
func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc) outcome {
	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to unmarshal message", "error", err, "topic", m.Topic, "offset", m.Offset)
		metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, m.Topic, "malformed").Inc()
		return outcomeDropped
	}

	msgCtx, span := tracing.StartConsumerSpan(ctx, "kafka.consume", m)
	defer span.End()

	if envelope.Metadata.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	}
	msgCtx = logging.WithMessageID(msgCtx, envelope.ID)

	attempts := 0
	err := retry.RetryWithCallback(msgCtx, c.policy, func() (err error) {
		attempts++
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.RecoverPanic(r)
				c.logger.ErrorwCtx(msgCtx, "Panic recovered during message processing", "error", err)
			}
		}()
		return handler(msgCtx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, m.Topic).Inc()
		c.logger.WarnwCtx(msgCtx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err == nil {
		return outcomeProcessed
	}
	tracing.RecordError(span, err)

	reason := "max_retries_exceeded"
	var fatal retry.FatalError
	if errors.As(err, &fatal) && fatal.IsFatal() {
		reason = "fatal"
	}
	c.logger.ErrorwCtx(msgCtx, "Failed to process message", "error", err, "reason", reason, "attempts", attempts)

	if c.dlq == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(msgCtx, "No DLQ configured, dropping message", "topic", m.Topic)
		return outcomeDropped
	}
	if err := c.park(msgCtx, envelope, err, m.Topic, reason, attempts); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ", "error", err)
		return outcomeDropped
	}
	return outcomeParked
}

func (c *KafkaConsumer) park(ctx context.Context, envelope models.MessageEnvelope, cause error, sourceTopic, reason string, attempts int) error {
	envelope.Metadata.DLQ = &models.DLQInfo{
		Reason:      cause.Error(),
		SourceTopic: sourceTopic,
		Attempts:    attempts,
		ParkedAt:    time.Now().UTC(),
	}
	if err := c.dlq.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
	)
	return nil
}

func (c *KafkaConsumer) Close() error {
	var errs []error
	c.mu.Lock()
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.readers = nil
	c.mu.Unlock()

	c.wg.Wait()

	if c.dlq != nil {
		if err := c.dlq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
