package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/config"
	"github.com/Ramsey-B/yarrow/internal/repositories/event"
	"github.com/Ramsey-B/yarrow/internal/repositories/matchjob"
	policyrepo "github.com/Ramsey-B/yarrow/internal/repositories/policy"
	"github.com/Ramsey-B/yarrow/pkg/attribution"
	"github.com/Ramsey-B/yarrow/pkg/events"
	"github.com/Ramsey-B/yarrow/pkg/graph"
	"github.com/Ramsey-B/yarrow/pkg/ledger"
	"github.com/Ramsey-B/yarrow/pkg/matching"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/policy"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Runner executes match jobs. One run drains the account's unmatched
// backlog in occurrence order: each event is resolved against the lead set,
// recorded through the ledger, and its lead's attribution recomputed.
// Per-event failures are collected on the job; only faults before the first
// event is attempted fail the job itself.
type Runner struct {
	logger     ectologger.Logger
	cfg        config.Config
	eventRepo  *event.Repository
	policyRepo *policyrepo.Repository
	jobRepo    *matchjob.Repository
	engine     *matching.Engine
	resolver   *matching.Resolver
	ledger     *ledger.Ledger
	recomputer *attribution.Recomputer
	emitter    *events.Emitter
	locker     *redis.Locker
	graph      *graph.Syncer
}

// NewRunner creates a new match job runner. The emitter and graph syncer
// are optional; a nil value disables that side effect.
func NewRunner(
	logger ectologger.Logger,
	cfg config.Config,
	eventRepo *event.Repository,
	policyRepo *policyrepo.Repository,
	jobRepo *matchjob.Repository,
	engine *matching.Engine,
	resolver *matching.Resolver,
	ledgerService *ledger.Ledger,
	recomputer *attribution.Recomputer,
	emitter *events.Emitter,
	locker *redis.Locker,
	graphSyncer *graph.Syncer,
) *Runner {
	return &Runner{
		logger:     logger,
		cfg:        cfg,
		eventRepo:  eventRepo,
		policyRepo: policyRepo,
		jobRepo:    jobRepo,
		engine:     engine,
		resolver:   resolver,
		ledger:     ledgerService,
		recomputer: recomputer,
		emitter:    emitter,
		locker:     locker,
		graph:      graphSyncer,
	}
}

// Run executes one queued match job. The account lock is held for the
// whole run so at most one job per account makes progress at a time; a
// contended lock returns an error and the queue redelivers later.
func (r *Runner) Run(ctx context.Context, accountID, jobID string) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Runner.Run")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
		"job_id":     jobID,
	})

	lock, err := r.locker.TryAcquire(ctx, accountLockKey(accountID), r.cfg.JobLockTTL, r.cfg.AccountLockTimeout)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			log.Info("Account lock held by another job, requeueing")
		}
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.WithError(err).Warn("Failed to release account lock")
		}
	}()

	job, err := r.jobRepo.Get(ctx, accountID, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
		log.WithFields(map[string]any{"status": job.Status}).Debug("Job already finished, skipping")
		return nil
	}

	started := time.Now()
	if err := r.jobRepo.MarkRunning(ctx, accountID, jobID); err != nil {
		return err
	}

	cfg, err := r.loadPolicy(ctx, accountID, job.PolicyID)
	if err != nil {
		return r.fail(ctx, job, started, fmt.Sprintf("failed to load policy: %v", err), log)
	}

	summary, attempted, leadIDs, err := r.drain(ctx, accountID, job.ImportID, cfg)
	if err != nil {
		// The backlog could not be read before any event was attempted
		return r.fail(ctx, job, started, fmt.Sprintf("failed to read unmatched events: %v", err), log)
	}

	if err := r.jobRepo.Complete(ctx, accountID, jobID, attempted, summary); err != nil {
		return err
	}
	metrics.RecordMatchJob(accountID, "completed", time.Since(started).Seconds())

	job.Status = models.JobStatusCompleted
	job.EventCount = attempted
	job.NewLeadCount = summary.NewLeadCount
	job.LinkCount = summary.LinkCount
	job.Errors = summary.Errors
	if r.emitter != nil {
		_ = r.emitter.EmitJobCompleted(ctx, job)
	}

	r.syncGraph(ctx, accountID, leadIDs, log)

	log.WithFields(map[string]any{
		"event_count":    attempted,
		"new_lead_count": summary.NewLeadCount,
		"link_count":     summary.LinkCount,
		"error_count":    len(summary.Errors),
	}).Info("Match job completed")

	return nil
}

// RunRecompute rebuilds attribution for every lead in the account. Used
// when activating a policy changes the attribution mode. Holds the same
// account lock as match jobs so summaries never race a running job.
func (r *Runner) RunRecompute(ctx context.Context, accountID, mode string) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Runner.RunRecompute")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
		"mode":       mode,
	})

	lock, err := r.locker.TryAcquire(ctx, accountLockKey(accountID), r.cfg.JobLockTTL, r.cfg.AccountLockTimeout)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			log.Info("Account lock held by another job, requeueing")
		}
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.WithError(err).Warn("Failed to release account lock")
		}
	}()

	m := policy.AttributionMode(mode)
	if mode == "" {
		cfg, err := r.loadPolicy(ctx, accountID, nil)
		if err != nil {
			return err
		}
		m = cfg.AttributionMode
	} else if !m.Valid() {
		return fmt.Errorf("unrecognized attribution mode %q", mode)
	}

	updated, err := r.recomputer.RecomputeAccount(ctx, accountID, m)
	if err != nil {
		return err
	}

	log.WithFields(map[string]any{"updated": updated}).Info("Account attribution recomputed")
	return nil
}

// drain pages through the unmatched backlog in ascending occurrence order
// and processes every event. Failed events stay unmatched and accumulate at
// the head of the backlog, so the page offset advances by the failure count.
// Returns an error only when the first page cannot be read.
func (r *Runner) drain(ctx context.Context, accountID string, importID *string, cfg *policy.Config) (models.JobSummary, int, []string, error) {
	batchSize := r.cfg.MatchBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	summary := models.JobSummary{Errors: models.JobErrors{}}
	attempted := 0
	skip := 0
	affected := make(map[string]struct{})

	for {
		batch, err := r.eventRepo.ListUnmatched(ctx, accountID, importID, batchSize, skip)
		if err != nil {
			if attempted == 0 {
				return summary, 0, nil, err
			}
			summary.Errors = append(summary.Errors, models.JobError{
				Message: fmt.Sprintf("failed to read unmatched events: %v", err),
			})
			break
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			evt := &batch[i]
			attempted++

			outcome, err := r.processEvent(ctx, evt, cfg)
			if err != nil {
				skip++
				summary.Errors = append(summary.Errors, models.JobError{
					EventID: evt.ID,
					Message: err.Error(),
				})
				continue
			}

			if outcome.Created {
				summary.NewLeadCount++
			}
			summary.LinkCount++
			affected[outcome.Lead.ID] = struct{}{}

			r.finishEvent(ctx, evt, outcome, cfg, &summary)
		}

		if len(batch) < batchSize {
			break
		}
	}

	leadIDs := make([]string, 0, len(affected))
	for id := range affected {
		leadIDs = append(leadIDs, id)
	}

	return summary, attempted, leadIDs, nil
}

// processEvent resolves one event: candidate generation, winner selection,
// and the ledger write
func (r *Runner) processEvent(ctx context.Context, evt *models.NormalizedEvent, cfg *policy.Config) (*ledger.Outcome, error) {
	candidates, err := r.engine.Generate(ctx, evt, cfg)
	if err != nil {
		metrics.RecordEventMatch(evt.AccountID, "none", "error")
		return nil, err
	}

	winner := r.resolver.Resolve(evt, candidates, cfg)

	outcome, err := r.ledger.Record(ctx, evt, winner)
	if err != nil {
		if errors.Is(err, ledger.ErrUsageLimitExceeded) {
			metrics.RecordEventMatch(evt.AccountID, string(models.MatchPassNew), "rejected")
		} else {
			pass := "none"
			if winner != nil {
				pass = string(winner.Pass)
			}
			metrics.RecordEventMatch(evt.AccountID, pass, "error")
		}
		return nil, err
	}

	label := "linked"
	if outcome.Created {
		label = "created"
	}
	metrics.RecordEventMatch(evt.AccountID, string(outcome.Link.Pass), label)

	return outcome, nil
}

// finishEvent runs the post-link side effects: lifecycle event emission and
// attribution recompute. The link and audit entry are already committed, so
// a recompute failure here is recorded on the job but never unwinds the link.
func (r *Runner) finishEvent(ctx context.Context, evt *models.NormalizedEvent, outcome *ledger.Outcome, cfg *policy.Config, summary *models.JobSummary) {
	if r.emitter != nil {
		if outcome.Created {
			_ = r.emitter.EmitLeadCreated(ctx, outcome.Lead, outcome.Link)
		} else {
			_ = r.emitter.EmitLeadLinked(ctx, outcome.Lead, outcome.Link)
		}
	}

	attributed, err := r.recomputer.Recompute(ctx, evt.AccountID, outcome.Lead.ID, cfg.AttributionMode)
	if err != nil {
		summary.Errors = append(summary.Errors, models.JobError{
			EventID: evt.ID,
			Message: fmt.Sprintf("attribution recompute failed: %v", err),
		})
		return
	}

	if attributed != nil && r.emitter != nil {
		_ = r.emitter.EmitAttributionUpdated(ctx, outcome.Lead, string(cfg.AttributionMode), *attributed)
	}
}

// loadPolicy resolves the policy config for a job: the pinned policy if the
// job names one, otherwise the account's active policy, otherwise the stock
// default
func (r *Runner) loadPolicy(ctx context.Context, accountID string, policyID *string) (*policy.Config, error) {
	if policyID != nil {
		stored, err := r.policyRepo.Get(ctx, accountID, *policyID)
		if err != nil {
			return nil, err
		}
		return policy.Parse([]byte(stored.Document))
	}

	stored, err := r.policyRepo.GetActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return policy.Default(), nil
	}
	return policy.Parse([]byte(stored.Document))
}

// fail marks the job failed. Returns nil so the queue treats the job as
// handled; the failure is durable on the job row.
func (r *Runner) fail(ctx context.Context, job *models.MatchJob, started time.Time, reason string, log ectologger.Logger) error {
	if err := r.jobRepo.Fail(ctx, job.AccountID, job.ID, reason); err != nil {
		log.WithError(err).Error("Failed to mark job failed")
		return err
	}
	metrics.RecordMatchJob(job.AccountID, "failed", time.Since(started).Seconds())

	job.Status = models.JobStatusFailed
	if r.emitter != nil {
		_ = r.emitter.EmitJobCompleted(ctx, job)
	}

	log.WithFields(map[string]any{"reason": reason}).Info("Match job failed")
	return nil
}

// syncGraph projects the journeys of leads touched by this job. Best
// effort: a projection failure is logged and never fails the job.
func (r *Runner) syncGraph(ctx context.Context, accountID string, leadIDs []string, log ectologger.Logger) {
	if r.graph == nil || len(leadIDs) == 0 {
		return
	}

	for _, leadID := range leadIDs {
		if err := r.graph.SyncLead(ctx, accountID, leadID); err != nil {
			log.WithError(err).WithFields(map[string]any{"lead_id": leadID}).Warn("Failed to project lead journey")
		}
	}
}

func accountLockKey(accountID string) string {
	return fmt.Sprintf("account:%s:match", accountID)
}
