package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaFetchBackoff = time.Second
)

const (
	DefaultInputTopic        = "shipment_cost_lines"
	DefaultOutputTopic       = "cost_line_resolutions"
	DefaultConfigUpdateTopic = "agreement_updates"
)

const (
	ServiceName = "rate-resolver"
	// ConfigConsumerSuffix keeps the config update consumer in its own group
	// so every instance sees every update.
	ConfigConsumerSuffix = "-config"
)

const ShutdownTimeout = 5 * time.Second
