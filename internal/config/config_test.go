package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
catalog:
  source: file
  accessorial_source: file
  file_dir: ./agreements
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, "kafka", cfg.Broker.Type)
	assert.Equal(t, 4, cfg.Resolver.Workers)
	assert.Equal(t, "longest", cfg.Resolver.CostTieBreak.Satisfied)
	assert.Equal(t, "shortest", cfg.Resolver.CostTieBreak.Unsatisfied)
	assert.True(t, cfg.Resolver.CELConditions)
	assert.Equal(t, 3, cfg.Catalog.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Catalog.Retry.InitialInterval)
	assert.Equal(t, "sha256", cfg.Dedup.HashAlgorithm)
	assert.Equal(t, []string{"shipment_id", "agreement_id", "lines"}, cfg.Dedup.FieldsToHash)
	assert.Empty(t, cfg.Broker.Kafka.Brokers)
}

func TestLoadConfig_KafkaAndEnvOverride(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DATABASE_POSTGRES_HOST", "db.internal")

	cfg, err := LoadConfig(writeConfig(t, `
broker:
  kafka:
    brokers: ["localhost:9092"]
    group_id: rate-resolver
    input_topic: shipment_cost_lines
database:
  postgres:
    host: localhost
    port: 5432
    user: audit
    dbname: freight
catalog:
  accessorial_source: postgres
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 2.0, cfg.Broker.Kafka.Retry.Multiplier)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: 10, WriteTimeoutSeconds: 10},
			Broker: BrokerConfig{Type: "kafka"},
			Catalog: CatalogConfig{
				Source:            "file",
				AccessorialSource: "file",
				FileDir:           "./agreements",
			},
		}
	}
	require.NoError(t, ValidateStatic(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"kafka without group", func(c *Config) { c.Broker.Kafka.Brokers = []string{"k:9092"} }, "broker.kafka.group_id"},
		{"empty broker address", func(c *Config) {
			c.Broker.Kafka.Brokers = []string{""}
			c.Broker.Kafka.GroupID = "g"
		}, "broker.kafka.brokers[0]"},
		{"unknown catalog source", func(c *Config) { c.Catalog.Source = "s3" }, "catalog.source"},
		{"mongodb accessorials without uri", func(c *Config) { c.Catalog.AccessorialSource = "mongodb" }, "database.mongodb.uri"},
		{"file source without dir", func(c *Config) { c.Catalog.FileDir = "" }, "catalog.file_dir"},
		{"bad tie break", func(c *Config) { c.Resolver.CostTieBreak.Satisfied = "middle" }, "resolver.cost_tie_break.satisfied"},
		{"bad dedup fallback", func(c *Config) { c.Dedup.OnRedisError = "reject" }, "dedup.on_redis_error"},
		{"bad hash", func(c *Config) { c.Dedup.HashAlgorithm = "crc32" }, "dedup.hash_algorithm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
