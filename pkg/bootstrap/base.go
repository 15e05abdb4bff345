// Package bootstrap holds the wiring shared by the rate-resolver commands:
// broker clients and database connections.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"freightaudit/internal/broker"
	"freightaudit/internal/config"
	"freightaudit/internal/constants"
	"freightaudit/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
	// ConfigConsumer reads agreement updates in its own consumer group so
	// every replica sees every event.
	ConfigConsumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBroker(serviceName string) error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, "", b.Logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	consumer.SetServiceName(serviceName)

	b.Producer = producer
	b.Consumer = consumer

	if b.Config.Broker.Kafka.ConfigUpdateTopic == "" {
		return nil
	}
	configConsumer, err := broker.NewConsumer(b.Config.Broker, constants.ConfigConsumerSuffix, b.Logger)
	if err != nil {
		b.Logger.Warnw("Failed to create config event consumer, agreement reload disabled", "error", err)
		return nil
	}
	configConsumer.SetServiceName(serviceName)
	b.ConfigConsumer = configConsumer
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	closers := []struct {
		name string
		c    interface{ Close() error }
	}{
		{"producer", b.Producer},
		{"consumer", b.Consumer},
		{"config consumer", b.ConfigConsumer},
	}
	for _, cl := range closers {
		if cl.c == nil {
			continue
		}
		if err := cl.c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", cl.name, err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error
	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
