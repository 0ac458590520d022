package models

import (
	"time"

	"github.com/lib/pq"
)

// AuditEntry is a compliance-oriented copy of a matching decision, created
// 1:1 with each Link and scoped for export. It carries source-file
// provenance independent of the link so exports survive lead cleanup.
type AuditEntry struct {
	ID          string         `json:"id" db:"id"`
	AccountID   string         `json:"account_id" db:"account_id"`
	LeadKey     string         `json:"lead_key" db:"lead_key"`
	EventID     string         `json:"event_id" db:"event_id"`
	Pass        MatchPass      `json:"pass" db:"pass"`
	MatchedKeys pq.StringArray `json:"matched_keys" db:"matched_keys"`
	Reason      string         `json:"reason" db:"reason"`
	Confidence  float64        `json:"confidence" db:"confidence"`
	SourceFile  *string        `json:"source_file,omitempty" db:"source_file"`
	SourceRow   *int           `json:"source_row,omitempty" db:"source_row"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// AuditEntryListResponse is the response for listing audit entries
type AuditEntryListResponse struct {
	Items      []AuditEntry `json:"items"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}
