package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	// Lead events
	EventTypeLeadCreated        EventType = "lead.created"
	EventTypeLeadLinked         EventType = "lead.linked"
	EventTypeAttributionUpdated EventType = "attribution.updated"

	// Job events
	EventTypeJobCompleted EventType = "job.completed"
	EventTypeJobFailed    EventType = "job.failed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	AccountID     string    `json:"account_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// LeadCreatedEvent is emitted when an event founds a new lead
type LeadCreatedEvent struct {
	BaseEvent
	LeadID      string  `json:"lead_id"`
	LeadKey     string  `json:"lead_key"`
	EventID     string  `json:"event_id"`
	DisplayName *string `json:"display_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// LeadLinkedEvent is emitted when an event attaches to an existing lead
type LeadLinkedEvent struct {
	BaseEvent
	LeadID      string   `json:"lead_id"`
	LeadKey     string   `json:"lead_key"`
	EventID     string   `json:"event_id"`
	Pass        string   `json:"pass"`
	MatchedKeys []string `json:"matched_keys,omitempty"`
	Reason      string   `json:"reason"`
	Confidence  float64  `json:"confidence"`
}

// AttributionUpdatedEvent is emitted when a lead's attribution summary is
// recomputed
type AttributionUpdatedEvent struct {
	BaseEvent
	LeadID  string                    `json:"lead_id"`
	LeadKey string                    `json:"lead_key"`
	Mode    string                    `json:"mode"`
	Summary models.AttributionSummary `json:"summary"`
}

// JobCompletedEvent is emitted when a match job finishes
type JobCompletedEvent struct {
	BaseEvent
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	EventCount   int    `json:"event_count"`
	NewLeadCount int    `json:"new_lead_count"`
	LinkCount    int    `json:"link_count"`
	ErrorCount   int    `json:"error_count"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType, accountID string) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		AccountID:     accountID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
