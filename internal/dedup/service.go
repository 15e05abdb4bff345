// Package dedup drops cost line messages that were already resolved, so a
// replayed topic does not publish the same resolutions twice.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"freightaudit/internal/config"
	"freightaudit/internal/logger"
	"freightaudit/pkg/metrics"
	"freightaudit/pkg/tracing"
)

const (
	KeyPrefix = "dedup:"

	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

var defaultFields = []string{"shipment_id", "agreement_id", "lines"}

type Service struct {
	repo   Repository
	hasher *Hasher
	cfg    config.DedupConfig
	logger logger.Logger

	fieldsMu sync.RWMutex
	fields   []string
}

func NewService(repo Repository, cfg config.DedupConfig, log logger.Logger) *Service {
	fields := cfg.FieldsToHash
	if len(fields) == 0 {
		fields = defaultFields
		log.Infow("No fields_to_hash configured, using defaults", "fields", fields)
	}
	return &Service{
		repo:   repo,
		hasher: NewHasher(cfg.HashAlgorithm),
		cfg:    cfg,
		logger: log,
		fields: append([]string(nil), fields...),
	}
}

// Claim records the message as seen. It returns the dedup key and whether
// this is the first time the message has been seen within the TTL. When
// Redis fails, the configured fallback decides.
func (s *Service) Claim(ctx context.Context, values map[string]string) (string, bool, error) {
	ctx, span := tracing.GetTracer("rate-resolver").Start(ctx, "dedup.claim")
	defer span.End()

	hash, err := s.hasher.Hash(values, s.Fields())
	if err != nil {
		return "", false, fmt.Errorf("failed to compute dedup key: %w", err)
	}
	key := KeyPrefix + hash

	ttl := time.Duration(s.cfg.TTLSeconds) * time.Second
	fresh, err := s.repo.SetNX(ctx, key, time.Now().Unix(), ttl)
	if err != nil {
		metrics.DedupMessagesTotal.WithLabelValues("error").Inc()
		if s.cfg.OnRedisError == FallbackDeny {
			metrics.FallbackUsageTotal.WithLabelValues("dedup", "deny_on_error", "redis").Inc()
			tracing.RecordError(span, err)
			return key, false, fmt.Errorf("dedup check failed: %w", err)
		}
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error", "redis").Inc()
		s.logger.WarnwCtx(ctx, "Redis error during dedup check, allowing message", "error", err)
		return key, true, nil
	}

	if fresh {
		metrics.DedupMessagesTotal.WithLabelValues("unique").Inc()
	} else {
		metrics.DedupMessagesTotal.WithLabelValues("duplicate").Inc()
	}
	return key, fresh, nil
}

// Release forgets a claimed key so a message whose processing failed can
// be picked up again.
func (s *Service) Release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.repo.Del(ctx, key); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to release dedup key", "key", key, "error", err)
	}
}

func (s *Service) UpdateFieldsToHash(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields list cannot be empty")
	}
	next := append([]string(nil), fields...)

	s.fieldsMu.Lock()
	s.fields = next
	s.fieldsMu.Unlock()

	s.logger.Infow("Updated fields to hash", "fields", next)
	return nil
}

func (s *Service) Fields() []string {
	s.fieldsMu.RLock()
	defer s.fieldsMu.RUnlock()
	return append([]string(nil), s.fields...)
}
