package models

// DeadLetterReason represents why a job was sent to the DLQ
type DeadLetterReason string

const (
	DLQReasonMaxRetries      DeadLetterReason = "max_retries_exceeded"
	DLQReasonInvalidJob      DeadLetterReason = "invalid_job"
	DLQReasonAccountNotFound DeadLetterReason = "account_not_found"
	DLQReasonPolicyError     DeadLetterReason = "policy_error"
	DLQReasonTimeout         DeadLetterReason = "timeout"
	DLQReasonPanic           DeadLetterReason = "panic"
	DLQReasonUnknown         DeadLetterReason = "unknown"
)
