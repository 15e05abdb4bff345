package broker

import (
	"fmt"

	"freightaudit/internal/config"
	"freightaudit/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewConsumer builds a consumer. groupSuffix is appended to the configured
// group ID; pass "" for the shared work group.
func NewConsumer(cfg config.BrokerConfig, groupSuffix string, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "kafka":
		kcfg := cfg.Kafka
		kcfg.GroupID += groupSuffix
		return NewKafkaConsumer(kcfg, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
