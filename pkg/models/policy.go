package models

import "time"

// Policy is a stored attribution/matching policy document. The document is
// the raw YAML; the parsed, validated form lives in pkg/policy.
type Policy struct {
	ID        string     `json:"id" db:"id"`
	AccountID string     `json:"account_id" db:"account_id"`
	Name      string     `json:"name" db:"name"`
	Document  string     `json:"document" db:"document"`
	Active    bool       `json:"active" db:"active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreatePolicyRequest is the request for creating a policy
type CreatePolicyRequest struct {
	Name     string `json:"name" validate:"required"`
	Document string `json:"document" validate:"required"`
	Active   bool   `json:"active"`
}

// UpdatePolicyRequest is the request for updating a policy
type UpdatePolicyRequest struct {
	Name     *string `json:"name,omitempty"`
	Document *string `json:"document,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

// PolicyListResponse is the response for listing policies
type PolicyListResponse struct {
	Items      []Policy `json:"items"`
	TotalCount int      `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}
