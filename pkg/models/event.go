package models

import (
	"encoding/json"
	"time"
)

// SourceType identifies the interaction channel an event came from
type SourceType string

const (
	SourceTypeCalls        SourceType = "calls"
	SourceTypeForms        SourceType = "forms"
	SourceTypeAppointments SourceType = "appointments"
	SourceTypeInvoices     SourceType = "invoices"
	SourceTypeChats        SourceType = "chats"
)

// NormalizedEvent is one canonical customer interaction, produced by the
// ingestion pipeline. Immutable once staged; the engine consumes it read-only.
// Field order matches schema: id, account_id, import_id, source_type, occurred_at, ...
type NormalizedEvent struct {
	ID         string     `json:"id" db:"id"`
	AccountID  string     `json:"account_id" db:"account_id"`
	ImportID   *string    `json:"import_id,omitempty" db:"import_id"` // upstream import batch
	SourceType SourceType `json:"source_type" db:"source_type"`
	OccurredAt time.Time  `json:"occurred_at" db:"occurred_at"`

	// Contact fields (already cleaned by the ingestion pipeline)
	ContactName     *string `json:"contact_name,omitempty" db:"contact_name"`
	Phone           *string `json:"phone,omitempty" db:"phone"`
	Email           *string `json:"email,omitempty" db:"email"`
	Location        *string `json:"location,omitempty" db:"location"`
	DurationSeconds *int    `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Amount          *float64 `json:"amount,omitempty" db:"amount"`
	ExternalID      *string `json:"external_id,omitempty" db:"external_id"`

	// Click identifiers
	AdClickID *string `json:"ad_click_id,omitempty" db:"ad_click_id"`
	ClientID  *string `json:"client_id,omitempty" db:"client_id"`

	// UTM fields
	UTMSource   *string `json:"utm_source,omitempty" db:"utm_source"`
	UTMMedium   *string `json:"utm_medium,omitempty" db:"utm_medium"`
	UTMCampaign *string `json:"utm_campaign,omitempty" db:"utm_campaign"`

	// Provenance (retained for audit, never mutated)
	SourceFile *string         `json:"source_file,omitempty" db:"source_file"`
	SourceRow  *int            `json:"source_row,omitempty" db:"source_row"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`

	Matched   bool      `json:"matched" db:"matched"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateEventRequest is the request for staging a normalized event
type CreateEventRequest struct {
	ImportID        *string         `json:"import_id,omitempty"`
	SourceType      SourceType      `json:"source_type" validate:"required,oneof=calls forms appointments invoices chats"`
	OccurredAt      time.Time       `json:"occurred_at" validate:"required"`
	ContactName     *string         `json:"contact_name,omitempty"`
	Phone           *string         `json:"phone,omitempty"`
	Email           *string         `json:"email,omitempty"`
	Location        *string         `json:"location,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	Amount          *float64        `json:"amount,omitempty"`
	ExternalID      *string         `json:"external_id,omitempty"`
	AdClickID       *string         `json:"ad_click_id,omitempty"`
	ClientID        *string         `json:"client_id,omitempty"`
	UTMSource       *string         `json:"utm_source,omitempty"`
	UTMMedium       *string         `json:"utm_medium,omitempty"`
	UTMCampaign     *string         `json:"utm_campaign,omitempty"`
	SourceFile      *string         `json:"source_file,omitempty"`
	SourceRow       *int            `json:"source_row,omitempty"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
}

// EventListResponse is the response for listing events
type EventListResponse struct {
	Items      []NormalizedEvent `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}

// HasClickID returns true when the event carries either click identifier
func (e *NormalizedEvent) HasClickID() bool {
	return strPresent(e.AdClickID) || strPresent(e.ClientID)
}

// ClickID returns the identifier used for click-chain matching. The ad click
// id takes priority when both are present.
func (e *NormalizedEvent) ClickID() string {
	if strPresent(e.AdClickID) {
		return *e.AdClickID
	}
	if strPresent(e.ClientID) {
		return *e.ClientID
	}
	return ""
}

func strPresent(s *string) bool {
	return s != nil && *s != ""
}
