package processor

import (
	"context"

	"github.com/Ramsey-B/yarrow/pkg/redis"
)

// EnqueueMatchJob publishes a queued match job to the worker stream. The
// job row must already exist; the payload carries only its ID.
func EnqueueMatchJob(ctx context.Context, streams *redis.Streams, stream, accountID, jobID string) (string, error) {
	return streams.Publish(ctx, stream, &redis.JobMessage{
		AccountID: accountID,
		Type:      JobTypeMatch,
		Payload:   map[string]interface{}{"job_id": jobID},
	})
}

// EnqueueRecompute publishes an account-wide attribution recompute. An
// empty mode defers to the account's active policy.
func EnqueueRecompute(ctx context.Context, streams *redis.Streams, stream, accountID, mode string) (string, error) {
	return streams.Publish(ctx, stream, &redis.JobMessage{
		AccountID: accountID,
		Type:      JobTypeRecompute,
		Payload:   map[string]interface{}{"mode": mode},
	})
}
