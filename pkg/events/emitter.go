// Package events handles event emission for lead lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/kafka"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles event emission for Yarrow
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitLeadCreated emits a lead.created event
func (e *Emitter) EmitLeadCreated(ctx context.Context, lead *models.Lead, link *models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLeadCreated")
	defer span.End()

	payload := LeadCreatedEvent{
		BaseEvent:   NewBaseEvent(EventTypeLeadCreated, lead.AccountID),
		LeadID:      lead.ID,
		LeadKey:     lead.LeadKey,
		EventID:     link.EventID,
		DisplayName: lead.DisplayName,
		Phone:       lead.Phone,
		Email:       lead.Email,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &kafka.LeadEvent{
		EventType:  string(EventTypeLeadCreated),
		AccountID:  lead.AccountID,
		LeadID:     lead.ID,
		LeadKey:    lead.LeadKey,
		EventID:    link.EventID,
		Pass:       string(link.Pass),
		Confidence: link.Confidence,
		Data:       data,
	}

	if err := e.producer.PublishLeadEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit lead.created event")
		return err
	}

	return nil
}

// EmitLeadLinked emits a lead.linked event
func (e *Emitter) EmitLeadLinked(ctx context.Context, lead *models.Lead, link *models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLeadLinked")
	defer span.End()

	payload := LeadLinkedEvent{
		BaseEvent:   NewBaseEvent(EventTypeLeadLinked, lead.AccountID),
		LeadID:      lead.ID,
		LeadKey:     lead.LeadKey,
		EventID:     link.EventID,
		Pass:        string(link.Pass),
		MatchedKeys: link.MatchedKeys,
		Reason:      link.Reason,
		Confidence:  link.Confidence,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &kafka.LeadEvent{
		EventType:  string(EventTypeLeadLinked),
		AccountID:  lead.AccountID,
		LeadID:     lead.ID,
		LeadKey:    lead.LeadKey,
		EventID:    link.EventID,
		Pass:       string(link.Pass),
		Confidence: link.Confidence,
		Data:       data,
	}

	if err := e.producer.PublishLeadEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit lead.linked event")
		return err
	}

	return nil
}

// EmitAttributionUpdated emits an attribution.updated event
func (e *Emitter) EmitAttributionUpdated(ctx context.Context, lead *models.Lead, mode string, summary models.AttributionSummary) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAttributionUpdated")
	defer span.End()

	payload := AttributionUpdatedEvent{
		BaseEvent: NewBaseEvent(EventTypeAttributionUpdated, lead.AccountID),
		LeadID:    lead.ID,
		LeadKey:   lead.LeadKey,
		Mode:      mode,
		Summary:   summary,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &kafka.LeadEvent{
		EventType: string(EventTypeAttributionUpdated),
		AccountID: lead.AccountID,
		LeadID:    lead.ID,
		LeadKey:   lead.LeadKey,
		Data:      data,
	}

	if err := e.producer.PublishLeadEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit attribution.updated event")
		return err
	}

	return nil
}

// EmitJobCompleted emits a job lifecycle event for a finished match job
func (e *Emitter) EmitJobCompleted(ctx context.Context, job *models.MatchJob) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitJobCompleted")
	defer span.End()

	eventType := EventTypeJobCompleted
	if job.Status == models.JobStatusFailed {
		eventType = EventTypeJobFailed
	}

	event := &kafka.JobEvent{
		EventType:    string(eventType),
		AccountID:    job.AccountID,
		JobID:        job.ID,
		Status:       string(job.Status),
		EventCount:   job.EventCount,
		NewLeadCount: job.NewLeadCount,
		LinkCount:    job.LinkCount,
		ErrorCount:   len(job.Errors),
	}

	if err := e.producer.PublishJobEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit job event")
		return err
	}

	return nil
}
