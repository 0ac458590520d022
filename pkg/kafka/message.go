package kafka

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/yarrow/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	Interaction *InteractionMessage
}

// InteractionMessage is one normalized customer interaction published by the
// upstream import pipeline. Account and import provenance ride in the
// payload, with header fallbacks for older producers.
type InteractionMessage struct {
	Type       string    `json:"type"` // "interaction"
	AccountID  string    `json:"account_id"`
	ImportID   string    `json:"import_id"`
	ExternalID string    `json:"external_id"`
	SourceType string    `json:"source_type"`
	OccurredAt time.Time `json:"occurred_at"`

	ContactName     *string  `json:"contact_name,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	Email           *string  `json:"email,omitempty"`
	Location        *string  `json:"location,omitempty"`
	DurationSeconds *int     `json:"duration_seconds,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`

	AdClickID *string `json:"ad_click_id,omitempty"`
	ClientID  *string `json:"client_id,omitempty"`

	UTMSource   *string `json:"utm_source,omitempty"`
	UTMMedium   *string `json:"utm_medium,omitempty"`
	UTMCampaign *string `json:"utm_campaign,omitempty"`

	SourceFile *string         `json:"source_file,omitempty"`
	SourceRow  *int            `json:"source_row,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// ParseInteraction parses the message value as an interaction message
func (m *IncomingMessage) ParseInteraction() error {
	var msg InteractionMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.Interaction = &msg
	return nil
}

// GetAccountID returns the account ID from the interaction payload
func (m *IncomingMessage) GetAccountID() string {
	if m.Interaction != nil && m.Interaction.AccountID != "" {
		return m.Interaction.AccountID
	}
	// Fallback to header
	return m.Headers["account_id"]
}

// GetImportID returns the import batch ID from the interaction payload
func (m *IncomingMessage) GetImportID() string {
	if m.Interaction != nil && m.Interaction.ImportID != "" {
		return m.Interaction.ImportID
	}
	return m.Headers["import_id"]
}

// IsInteraction returns true if the parsed payload is a staged interaction.
// Producers that predate the type field are treated as interactions when
// the identifying fields are present.
func (m *IncomingMessage) IsInteraction() bool {
	if m.Interaction == nil {
		return false
	}
	if m.Interaction.Type == "interaction" {
		return true
	}
	return m.Interaction.Type == "" && m.Interaction.AccountID != "" && m.Interaction.SourceType != ""
}

// ToEvent converts the interaction into a normalized event ready for staging
func (in *InteractionMessage) ToEvent() *models.NormalizedEvent {
	evt := &models.NormalizedEvent{
		AccountID:       in.AccountID,
		SourceType:      models.SourceType(in.SourceType),
		OccurredAt:      in.OccurredAt,
		ContactName:     in.ContactName,
		Phone:           in.Phone,
		Email:           in.Email,
		Location:        in.Location,
		DurationSeconds: in.DurationSeconds,
		Amount:          in.Amount,
		AdClickID:       in.AdClickID,
		ClientID:        in.ClientID,
		UTMSource:       in.UTMSource,
		UTMMedium:       in.UTMMedium,
		UTMCampaign:     in.UTMCampaign,
		SourceFile:      in.SourceFile,
		SourceRow:       in.SourceRow,
		RawPayload:      in.RawPayload,
	}
	if in.ImportID != "" {
		importID := in.ImportID
		evt.ImportID = &importID
	}
	if in.ExternalID != "" {
		externalID := in.ExternalID
		evt.ExternalID = &externalID
	}
	return evt
}

// ToEvent converts the parsed interaction into a normalized event, applying
// header fallbacks for provenance fields. Returns nil if no interaction has
// been parsed.
func (m *IncomingMessage) ToEvent() *models.NormalizedEvent {
	if m.Interaction == nil {
		return nil
	}

	evt := m.Interaction.ToEvent()
	if evt.ImportID == nil {
		if importID := m.Headers["import_id"]; importID != "" {
			evt.ImportID = &importID
		}
	}
	if evt.AccountID == "" {
		evt.AccountID = m.Headers["account_id"]
	}
	return evt
}

// ImportCompletedMessage signals that the upstream pipeline finished
// publishing an import batch
type ImportCompletedMessage struct {
	Type      string      `json:"type"` // "import.completed"
	AccountID string      `json:"account_id"`
	ImportID  string      `json:"import_id"`
	Status    string      `json:"status"` // "success", "partial", "failed"
	Timestamp time.Time   `json:"timestamp"`
	Stats     ImportStats `json:"stats,omitempty"`
}

// ImportStats contains statistics about the import
type ImportStats struct {
	TotalRows      int   `json:"total_rows"`
	NormalizedRows int   `json:"normalized_rows"`
	SkippedRows    int   `json:"skipped_rows"`
	DurationMs     int64 `json:"duration_ms"`
}

// IsImportCompleted checks if the message is an import.completed event
func (m *IncomingMessage) IsImportCompleted() bool {
	// Check header first
	if msgType := m.Headers["type"]; msgType == "import.completed" {
		return true
	}

	var evt ImportCompletedMessage
	if err := json.Unmarshal(m.Value, &evt); err == nil {
		return evt.Type == "import.completed"
	}

	return false
}

// ParseImportCompleted parses the message as an import.completed event
func (m *IncomingMessage) ParseImportCompleted() (*ImportCompletedMessage, error) {
	var evt ImportCompletedMessage
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
