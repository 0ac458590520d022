// Package processor stages incoming interaction messages and runs match
// jobs over the staged backlog. Staging is the ingestion layer; the Runner
// executes queued jobs against the account's lead set.
package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/config"
	"github.com/Ramsey-B/yarrow/internal/repositories/account"
	"github.com/Ramsey-B/yarrow/internal/repositories/event"
	"github.com/Ramsey-B/yarrow/internal/repositories/matchjob"
	"github.com/Ramsey-B/yarrow/pkg/kafka"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Queue job types handled by the worker
const (
	JobTypeMatch     = "match_job"
	JobTypeRecompute = "attribution_recompute"
)

// Processor handles message processing for the staging layer
type Processor struct {
	logger      ectologger.Logger
	cfg         config.Config
	accountRepo *account.Repository
	eventRepo   *event.Repository
	jobRepo     *matchjob.Repository
	streams     *redis.Streams
}

// NewProcessor creates a new message processor for ingestion. It stages
// interactions and enqueues match jobs; resolution itself runs in the
// queue worker.
func NewProcessor(
	logger ectologger.Logger,
	cfg config.Config,
	accountRepo *account.Repository,
	eventRepo *event.Repository,
	jobRepo *matchjob.Repository,
	streams *redis.Streams,
) *Processor {
	return &Processor{
		logger:      logger,
		cfg:         cfg,
		accountRepo: accountRepo,
		eventRepo:   eventRepo,
		jobRepo:     jobRepo,
		streams:     streams,
	}
}

// ProcessMessage handles an incoming Kafka message
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.ProcessMessage")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"key":    msg.Key,
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	// Check if this is an import completed event
	if msg.IsImportCompleted() {
		return p.handleImportCompleted(ctx, msg)
	}

	// CDC-sourced interactions arrive wrapped in a Debezium envelope
	if msg.Interaction == nil && msg.IsChangeEvent() {
		return p.handleChangeEvent(ctx, msg, log)
	}

	// Parse the interaction if not already parsed
	if msg.Interaction == nil {
		if err := msg.ParseInteraction(); err != nil {
			log.WithError(err).Error("Failed to parse interaction message")
			return err
		}
	}

	accountID := msg.GetAccountID()
	if accountID == "" {
		log.Error("Missing account_id in message")
		return nil // Skip message, don't retry
	}

	log = log.WithFields(map[string]any{"account_id": accountID})

	return p.stageInteraction(ctx, msg.ToEvent(), log)
}

// stageInteraction writes one normalized event into the staging table.
// Staging is idempotent on (account, external id, import id), so Kafka
// redelivery is harmless.
func (p *Processor) stageInteraction(ctx context.Context, evt *models.NormalizedEvent, log ectologger.Logger) error {
	ctx, span := tracing.StartSpan(ctx, "processor.stageInteraction")
	defer span.End()

	if evt == nil {
		return nil
	}
	if evt.SourceType == "" || evt.OccurredAt.IsZero() {
		log.WithFields(map[string]any{
			"source_type": evt.SourceType,
			"external_id": evt.ExternalID,
		}).Warn("Skipping interaction: missing required fields (source_type, occurred_at)")
		return nil
	}

	staged, err := p.eventRepo.Stage(ctx, evt)
	if err != nil {
		log.WithError(err).Error("Failed to stage interaction")
		return err
	}

	log.WithFields(map[string]any{
		"event_id":    evt.ID,
		"source_type": evt.SourceType,
		"is_new":      staged,
	}).Debug("Interaction staged")

	return nil
}

// handleChangeEvent stages interactions arriving through a Debezium
// connector on a partner database
func (p *Processor) handleChangeEvent(ctx context.Context, msg *kafka.IncomingMessage, log ectologger.Logger) error {
	ctx, span := tracing.StartSpan(ctx, "processor.handleChangeEvent")
	defer span.End()

	envelope, err := msg.ParseChangeEvent()
	if err != nil {
		log.WithError(err).Error("Failed to parse change event")
		return err
	}

	// Interactions are immutable once recorded upstream; deletes carry no
	// staging work.
	if envelope.Payload.IsDelete() {
		log.WithFields(map[string]any{
			"table": envelope.Payload.Source.Table,
		}).Debug("Skipping delete event")
		return nil
	}

	row, err := envelope.Payload.ParseInteractionRow()
	if err != nil {
		log.WithError(err).Error("Failed to parse interaction row")
		return err
	}
	if row == nil || row.IsDeleted() {
		return nil
	}

	interaction := row.ToMessage()
	if interaction.AccountID == "" {
		log.WithFields(map[string]any{"row_id": row.ID}).Warn("Skipping CDC interaction: missing account_id")
		return nil
	}

	log = log.WithFields(map[string]any{
		"account_id": interaction.AccountID,
		"op":         envelope.Payload.Op,
	})

	return p.stageInteraction(ctx, interaction.ToEvent(), log)
}

// handleImportCompleted creates and enqueues a match job for a finished
// import batch
func (p *Processor) handleImportCompleted(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.handleImportCompleted")
	defer span.End()

	evt, err := msg.ParseImportCompleted()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to parse import.completed event")
		return err
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": evt.AccountID,
		"import_id":  evt.ImportID,
		"status":     evt.Status,
	})

	log.Info("Received import.completed event")

	// Failed imports publish nothing worth matching
	if evt.Status == "failed" {
		log.Debug("Skipping match job for failed import")
		return nil
	}

	if evt.AccountID == "" {
		log.Error("Missing account_id in import.completed event")
		return nil
	}

	acct, err := p.accountRepo.GetByID(ctx, evt.AccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		log.Warn("Unknown account, skipping match job")
		return nil
	}

	req := models.CreateMatchJobRequest{}
	if evt.ImportID != "" {
		importID := evt.ImportID
		req.ImportID = &importID
	}

	job, err := p.jobRepo.Create(ctx, evt.AccountID, req)
	if err != nil {
		return err
	}

	// Redelivery after a publish failure creates a second job; the account
	// lock serializes them and the later one finds an empty backlog.
	if _, err := EnqueueMatchJob(ctx, p.streams, p.cfg.JobStream, evt.AccountID, job.ID); err != nil {
		log.WithError(err).Error("Failed to enqueue match job")
		return err
	}

	log.WithFields(map[string]any{"job_id": job.ID}).Info("Match job queued for import")
	return nil
}
