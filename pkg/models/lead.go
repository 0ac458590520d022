package models

import "time"

// Lead is a resolved identity (a "stitch") built from one or more linked
// events. Created exactly once per newly discovered identity; attribution
// and denormalized evidence fields are refreshed as new events attach.
// Field order matches schema: id, account_id, lead_number, lead_key, ...
type Lead struct {
	ID         string `json:"id" db:"id"`
	AccountID  string `json:"account_id" db:"account_id"`
	LeadNumber int64  `json:"lead_number" db:"lead_number"` // global monotonic sequence
	LeadKey    string `json:"lead_key" db:"lead_key"`       // externally visible identifier

	// Denormalized best evidence so far
	DisplayName *string `json:"display_name,omitempty" db:"display_name"`
	Phone       *string `json:"phone,omitempty" db:"phone"`
	Email       *string `json:"email,omitempty" db:"email"`
	Location    *string `json:"location,omitempty" db:"location"`

	FirstEventAt     *time.Time `json:"first_event_at,omitempty" db:"first_event_at"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty" db:"last_event_at"`
	TotalCallSeconds int        `json:"total_call_seconds" db:"total_call_seconds"`
	Revenue          float64    `json:"revenue" db:"revenue"`
	Confidence       float64    `json:"confidence" db:"confidence"`

	// Attribution summary
	FinalChannel     string `json:"final_channel" db:"final_channel"`
	FinalSource      string `json:"final_source" db:"final_source"`
	FinalMedium      string `json:"final_medium" db:"final_medium"`
	FinalCampaign    string `json:"final_campaign" db:"final_campaign"`
	FirstTouchSource string `json:"first_touch_source" db:"first_touch_source"`
	LastTouchSource  string `json:"last_touch_source" db:"last_touch_source"`
	PaidLastSource   string `json:"paid_last_source" db:"paid_last_source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LeadListResponse is the response for listing leads
type LeadListResponse struct {
	Items      []Lead `json:"items"`
	TotalCount int    `json:"total_count"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// AttributionSummary is the derived attribution state persisted onto a lead
// in a single update.
type AttributionSummary struct {
	FinalChannel     string  `json:"final_channel"`
	FinalSource      string  `json:"final_source"`
	FinalMedium      string  `json:"final_medium"`
	FinalCampaign    string  `json:"final_campaign"`
	FirstTouchSource string  `json:"first_touch_source"`
	LastTouchSource  string  `json:"last_touch_source"`
	PaidLastSource   string  `json:"paid_last_source"`
	Revenue          float64 `json:"revenue"`
}
