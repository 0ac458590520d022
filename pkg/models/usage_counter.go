package models

import "time"

// UsageCounter tracks leads created for an account within one billing
// period (a UTC calendar month). leads_created never exceeds plan_limit;
// the increment is a single conditional update, atomic with lead creation.
type UsageCounter struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	PeriodStart  time.Time `json:"period_start" db:"period_start"`
	PeriodEnd    time.Time `json:"period_end" db:"period_end"`
	LeadsCreated int       `json:"leads_created" db:"leads_created"`
	PlanLimit    int       `json:"plan_limit" db:"plan_limit"` // snapshot of the account limit
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Remaining returns how many leads the account may still create this period
func (u *UsageCounter) Remaining() int {
	remaining := u.PlanLimit - u.LeadsCreated
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BillingPeriod returns the UTC calendar-month window containing t
func BillingPeriod(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start, end
}
