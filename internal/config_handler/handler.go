// Package config_handler applies config update events received from the
// broker to the running service.
package config_handler

import (
	"context"

	"freightaudit/internal/logger"
	"freightaudit/pkg/models"
	"freightaudit/pkg/retry"
)

type ConfigReloader interface {
	ReloadRules(ctx context.Context) error
}

type ConfigUpdater interface {
	UpdateFieldsToHash(fields []string) error
}

type Handler struct {
	expectedEventType   string
	expectedServiceType string
	reloader            ConfigReloader
	updater             ConfigUpdater
	logger              logger.Logger
}

func NewHandler(expectedEventType, expectedServiceType string, log logger.Logger) *Handler {
	return &Handler{
		expectedEventType:   expectedEventType,
		expectedServiceType: expectedServiceType,
		logger:              log,
	}
}

func NewHandlerWithReloader(expectedEventType, expectedServiceType string, reloader ConfigReloader, log logger.Logger) *Handler {
	return NewHandler(expectedEventType, expectedServiceType, log).WithReloader(reloader)
}

func NewHandlerWithUpdater(expectedEventType, expectedServiceType string, updater ConfigUpdater, log logger.Logger) *Handler {
	return NewHandler(expectedEventType, expectedServiceType, log).WithUpdater(updater)
}

func (h *Handler) WithReloader(reloader ConfigReloader) *Handler {
	h.reloader = reloader
	return h
}

func (h *Handler) WithUpdater(updater ConfigUpdater) *Handler {
	h.updater = updater
	return h
}

// HandleConfigUpdateEvent ignores events meant for other event types or
// services. An event without a service type applies to every service.
func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	var event models.ConfigUpdateEvent
	if err := envelope.Decode(&event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode config event", "error", err, "id", envelope.ID)
		return retry.NewFatalError(err)
	}

	if event.EventType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "id", envelope.ID)
		return nil
	}
	if event.EventType != h.expectedEventType {
		return nil
	}
	if event.ServiceType != "" && event.ServiceType != h.expectedServiceType {
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"agreement_id", event.AgreementID,
		"changed_by", event.ChangedBy,
	)

	if h.reloader != nil {
		if err := h.reloader.ReloadRules(ctx); err != nil {
			h.logger.ErrorwCtx(ctx, "Failed to reload after config update", "error", err)
			return err
		}
		h.logger.InfowCtx(ctx, "Reloaded after config update", "action", event.Action)
	}

	if h.updater != nil && len(event.FieldsToHash) > 0 {
		if err := h.updater.UpdateFieldsToHash(event.FieldsToHash); err != nil {
			h.logger.ErrorwCtx(ctx, "Failed to update fields to hash", "error", err)
			return retry.NewFatalError(err)
		}
	}
	return nil
}

// Chain returns a handler that runs every handler in order and stops at the
// first error.
func Chain(handlers ...*Handler) func(ctx context.Context, envelope models.MessageEnvelope) error {
	return func(ctx context.Context, envelope models.MessageEnvelope) error {
		for _, h := range handlers {
			if err := h.HandleConfigUpdateEvent(ctx, envelope); err != nil {
				return err
			}
		}
		return nil
	}
}
