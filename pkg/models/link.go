package models

import (
	"time"

	"github.com/lib/pq"
)

// MatchPass identifies which matching strategy produced a link
type MatchPass string

const (
	MatchPassPhoneExact MatchPass = "phone_exact"
	MatchPassEmailExact MatchPass = "email_exact"
	MatchPassClickChain MatchPass = "click_chain"
	MatchPassFuzzy      MatchPass = "fuzzy"
	MatchPassNew        MatchPass = "new"
)

// Link is the evidence join between one event and one lead. An event links
// to at most one lead (unique on event_id); links are immutable once written.
type Link struct {
	ID          string         `json:"id" db:"id"`
	AccountID   string         `json:"account_id" db:"account_id"`
	EventID     string         `json:"event_id" db:"event_id"`
	LeadID      string         `json:"lead_id" db:"lead_id"`
	Pass        MatchPass      `json:"pass" db:"pass"`
	MatchedKeys pq.StringArray `json:"matched_keys" db:"matched_keys"`
	Reason      string         `json:"reason" db:"reason"`
	Confidence  float64        `json:"confidence" db:"confidence"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// LinkedEvent pairs an event with the lead it resolved to. Used by the
// click-chain pass and the lead journey view.
type LinkedEvent struct {
	Event  NormalizedEvent `json:"event"`
	LeadID string          `json:"lead_id"`
}
