package models

import "time"

// Account is the tenant of record. All engine state (leads, links, usage)
// is partitioned by account.
type Account struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	PlanLeadLimit int       `json:"plan_lead_limit" db:"plan_lead_limit"` // leads per billing period
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// CreateAccountRequest is the request for creating an account
type CreateAccountRequest struct {
	Name          string `json:"name" validate:"required"`
	PlanLeadLimit int    `json:"plan_lead_limit" validate:"required,gt=0"`
}

// UpdateAccountRequest is the request for updating an account
type UpdateAccountRequest struct {
	Name          *string `json:"name,omitempty"`
	PlanLeadLimit *int    `json:"plan_lead_limit,omitempty" validate:"omitempty,gt=0"`
	Active        *bool   `json:"active,omitempty"`
}

// AccountListResponse is the response for listing accounts
type AccountListResponse struct {
	Items      []Account `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}
