package kafka

import (
	"bytes"
	"encoding/json"
	"time"
)

// DebeziumEnvelope is the standard Debezium CDC message format
type DebeziumEnvelope struct {
	Schema  json.RawMessage `json:"schema,omitempty"`
	Payload DebeziumPayload `json:"payload"`
}

// DebeziumPayload contains the before/after state of a row
type DebeziumPayload struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs   int64           `json:"ts_ms"`
	TsUsMs int64           `json:"ts_us,omitempty"`
	TsNsMs int64           `json:"ts_ns,omitempty"`
}

// DebeziumSource contains metadata about the source of the change
type DebeziumSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot,omitempty"`
	Db        string `json:"db"`
	Sequence  string `json:"sequence,omitempty"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxId      int64  `json:"txId,omitempty"`
	Lsn       int64  `json:"lsn,omitempty"`
	Xmin      *int64 `json:"xmin,omitempty"`
}

// IsCreate returns true if this is a create operation
func (p *DebeziumPayload) IsCreate() bool {
	return p.Op == "c" || p.Op == "r"
}

// IsUpdate returns true if this is an update operation
func (p *DebeziumPayload) IsUpdate() bool {
	return p.Op == "u"
}

// IsDelete returns true if this is a delete operation
func (p *DebeziumPayload) IsDelete() bool {
	return p.Op == "d"
}

// InteractionRow represents a row from an upstream interactions table
// captured by a Debezium connector. Partner CRMs that cannot publish to the
// import pipeline directly are ingested this way.
type InteractionRow struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	ImportID        string          `json:"import_id"`
	ExternalID      string          `json:"external_id"`
	SourceType      string          `json:"source_type"`
	OccurredAt      string          `json:"occurred_at"`
	ContactName     *string         `json:"contact_name"`
	Phone           *string         `json:"phone"`
	Email           *string         `json:"email"`
	Location        *string         `json:"location"`
	DurationSeconds *int            `json:"duration_seconds"`
	Amount          *float64        `json:"amount"`
	AdClickID       *string         `json:"ad_click_id"`
	ClientID        *string         `json:"client_id"`
	UTMSource       *string         `json:"utm_source"`
	UTMMedium       *string         `json:"utm_medium"`
	UTMCampaign     *string         `json:"utm_campaign"`
	SourceFile      *string         `json:"source_file"`
	SourceRow       *int            `json:"source_row"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	DeletedAt       *string         `json:"deleted_at"`
}

// IsDeleted returns true if the row has been soft-deleted
func (r *InteractionRow) IsDeleted() bool {
	return r.DeletedAt != nil && *r.DeletedAt != ""
}

// ToMessage converts the CDC row into the interaction message shape the
// staging path consumes. The external ID falls back to the row ID so
// idempotent staging still has a stable key.
func (r *InteractionRow) ToMessage() *InteractionMessage {
	externalID := r.ExternalID
	if externalID == "" {
		externalID = r.ID
	}

	return &InteractionMessage{
		Type:            "interaction",
		AccountID:       r.AccountID,
		ImportID:        r.ImportID,
		ExternalID:      externalID,
		SourceType:      r.SourceType,
		OccurredAt:      parseDebeziumTimestamp(r.OccurredAt),
		ContactName:     r.ContactName,
		Phone:           r.Phone,
		Email:           r.Email,
		Location:        r.Location,
		DurationSeconds: r.DurationSeconds,
		Amount:          r.Amount,
		AdClickID:       r.AdClickID,
		ClientID:        r.ClientID,
		UTMSource:       r.UTMSource,
		UTMMedium:       r.UTMMedium,
		UTMCampaign:     r.UTMCampaign,
		SourceFile:      r.SourceFile,
		SourceRow:       r.SourceRow,
		RawPayload:      r.Payload,
	}
}

// parseDebeziumTimestamp parses a timestamp string from Debezium.
// Debezium can send timestamps in various formats depending on the connector config.
func parseDebeziumTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	// Try common formats Debezium uses
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999Z",
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}

	// Try parsing as Unix microseconds (Debezium io.debezium.time.MicroTimestamp)
	if len(s) > 10 {
		// Could be microseconds since epoch
		return time.Time{}
	}

	return time.Time{}
}

// ParseDebeziumMessage parses a raw Kafka message as a Debezium envelope
func ParseDebeziumMessage(data []byte) (*DebeziumEnvelope, error) {
	var envelope DebeziumEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// IsChangeEvent returns true if the message value looks like a Debezium
// change envelope
func (m *IncomingMessage) IsChangeEvent() bool {
	var envelope DebeziumEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		return false
	}
	return envelope.Payload.Op != ""
}

// ParseChangeEvent parses the message as a Debezium envelope
func (m *IncomingMessage) ParseChangeEvent() (*DebeziumEnvelope, error) {
	return ParseDebeziumMessage(m.Value)
}

func unwrapJSONStringJSON(raw json.RawMessage) (json.RawMessage, error) {
	raw = json.RawMessage(bytes.TrimSpace(raw))
	if len(raw) == 0 {
		return raw, nil
	}
	if raw[0] != '"' {
		return raw, nil // already object/array/etc.
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}

// ParseInteractionRow parses the After payload as an InteractionRow
func (p *DebeziumPayload) ParseInteractionRow() (*InteractionRow, error) {
	if len(p.After) == 0 || string(p.After) == "null" {
		return nil, nil
	}

	var row InteractionRow
	if err := json.Unmarshal(p.After, &row); err != nil {
		return nil, err
	}

	unwrapped, err := unwrapJSONStringJSON(row.Payload)
	if err != nil {
		return nil, err
	}
	row.Payload = unwrapped

	return &row, nil
}

// Timestamp returns the event timestamp
func (p *DebeziumPayload) Timestamp() time.Time {
	return time.UnixMilli(p.TsMs)
}
