package models

import "time"

// ConfigUpdateEvent announces a change to agreement catalogs or engine
// settings. An empty AgreementID means every agreement.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	ServiceType string                 `json:"service_type"`
	AgreementID string                 `json:"agreement_id,omitempty"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	// FieldsToHash replaces the dedup key fields when set.
	FieldsToHash []string `json:"fields_to_hash,omitempty"`
}

const (
	EventTypeAgreementUpdated   = "agreement_updated"
	EventTypeDedupConfigUpdated = "dedup_config_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReload = "reload"
)

const (
	ServiceTypeRateResolver = "rate_resolver"
)
