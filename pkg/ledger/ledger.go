// Package ledger applies resolved match decisions to durable state: it
// attaches events to leads or creates new leads behind the usage gate, and
// writes the link plus its mirrored audit entry in one transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/internal/repositories/account"
	"github.com/Ramsey-B/yarrow/internal/repositories/auditentry"
	"github.com/Ramsey-B/yarrow/internal/repositories/event"
	"github.com/Ramsey-B/yarrow/internal/repositories/lead"
	"github.com/Ramsey-B/yarrow/internal/repositories/link"
	"github.com/Ramsey-B/yarrow/internal/repositories/usage"
	"github.com/Ramsey-B/yarrow/pkg/matching"
	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/normalizers"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// ErrUsageLimitExceeded reports that the account's billing-period lead quota
// is spent. The event stays unmatched; nothing is created.
var ErrUsageLimitExceeded = errors.New("usage limit exceeded for billing period")

const newLeadConfidence = 1.0

// Ledger writes match outcomes. Every Record call is one transaction:
// either the event attaches to its winning lead, or a new lead is created
// behind the usage gate, and in both cases exactly one link and one audit
// entry are written with it.
type Ledger struct {
	logger      ectologger.Logger
	accountRepo *account.Repository
	eventRepo   *event.Repository
	leadRepo    *lead.Repository
	linkRepo    *link.Repository
	auditRepo   *auditentry.Repository
	usageRepo   *usage.Repository
}

// NewLedger creates a new ledger
func NewLedger(
	logger ectologger.Logger,
	accountRepo *account.Repository,
	eventRepo *event.Repository,
	leadRepo *lead.Repository,
	linkRepo *link.Repository,
	auditRepo *auditentry.Repository,
	usageRepo *usage.Repository,
) *Ledger {
	return &Ledger{
		logger:      logger,
		accountRepo: accountRepo,
		eventRepo:   eventRepo,
		leadRepo:    leadRepo,
		linkRepo:    linkRepo,
		auditRepo:   auditRepo,
		usageRepo:   usageRepo,
	}
}

// Outcome describes what Record wrote
type Outcome struct {
	Lead    *models.Lead
	Link    *models.Link
	Created bool // a new lead was created for this event
}

// Record applies a resolution decision for one event. A nil winner means no
// candidate survived and the event founds a new lead, which consumes one
// unit of the account's billing-period quota first. An event that already
// carries a link is returned as-is, so re-running a crashed job is safe.
func (l *Ledger) Record(ctx context.Context, evt *models.NormalizedEvent, winner *matching.Candidate) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Ledger.Record")
	defer span.End()

	log := l.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": evt.AccountID,
		"event_id":   evt.ID,
	})

	existing, err := l.linkRepo.GetByEventID(ctx, evt.AccountID, evt.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.WithFields(map[string]any{"link_id": existing.ID}).Debug("Event already linked, skipping")
		linked, err := l.leadRepo.GetByID(ctx, evt.AccountID, existing.LeadID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Lead: linked, Link: existing, Created: false}, nil
	}

	ctxTx, tx, err := l.leadRepo.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctxTx)

	var outcome *Outcome
	if winner != nil {
		outcome, err = l.attach(ctxTx, evt, winner)
	} else {
		outcome, err = l.createLead(ctxTx, evt)
	}
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		AccountID:   evt.AccountID,
		LeadKey:     outcome.Lead.LeadKey,
		EventID:     evt.ID,
		Pass:        outcome.Link.Pass,
		MatchedKeys: outcome.Link.MatchedKeys,
		Reason:      outcome.Link.Reason,
		Confidence:  outcome.Link.Confidence,
		SourceFile:  evt.SourceFile,
		SourceRow:   evt.SourceRow,
	}
	if err := l.auditRepo.Create(ctxTx, entry); err != nil {
		return nil, err
	}

	if err := l.eventRepo.MarkMatched(ctxTx, evt.AccountID, evt.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	if outcome.Created {
		metrics.RecordLeadCreated(evt.AccountID)
		log.WithFields(map[string]any{
			"lead_id":  outcome.Lead.ID,
			"lead_key": outcome.Lead.LeadKey,
		}).Info("Created lead from event")
	} else {
		log.WithFields(map[string]any{
			"lead_id": outcome.Lead.ID,
			"pass":    outcome.Link.Pass,
		}).Debug("Attached event to lead")
	}

	return outcome, nil
}

// attach links the event to the winning candidate's lead and refreshes the
// lead's denormalized evidence
func (l *Ledger) attach(ctx context.Context, evt *models.NormalizedEvent, winner *matching.Candidate) (*Outcome, error) {
	matched, err := l.leadRepo.GetByID(ctx, evt.AccountID, winner.LeadID)
	if err != nil {
		return nil, err
	}
	if matched == nil {
		return nil, fmt.Errorf("matched lead %s no longer exists", winner.LeadID)
	}

	lnk := &models.Link{
		ID:          uuid.New().String(),
		AccountID:   evt.AccountID,
		EventID:     evt.ID,
		LeadID:      matched.ID,
		Pass:        winner.Pass,
		MatchedKeys: winner.MatchedKeys,
		Reason:      winner.Reason,
		Confidence:  winner.Confidence,
	}
	if err := l.linkRepo.Create(ctx, lnk); err != nil {
		return nil, err
	}

	refreshEvidence(matched, evt, winner.Confidence)
	if err := l.leadRepo.UpdateEvidence(ctx, matched); err != nil {
		return nil, err
	}

	return &Outcome{Lead: matched, Link: lnk, Created: false}, nil
}

// createLead founds a new lead from the event, gated by the account's
// billing-period quota
func (l *Ledger) createLead(ctx context.Context, evt *models.NormalizedEvent) (*Outcome, error) {
	acct, err := l.accountRepo.Get(ctx, evt.AccountID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := l.usageRepo.GetOrCreate(ctx, acct.ID, now, acct.PlanLeadLimit); err != nil {
		return nil, err
	}

	ok, err := l.usageRepo.TryIncrement(ctx, acct.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.RecordUsageLimitRejection(acct.ID)
		return nil, ErrUsageLimitExceeded
	}

	number, err := l.leadRepo.NextLeadNumber(ctx)
	if err != nil {
		return nil, err
	}

	founded := seedLead(evt, number)
	if err := l.leadRepo.Create(ctx, founded); err != nil {
		return nil, err
	}

	lnk := &models.Link{
		ID:          uuid.New().String(),
		AccountID:   evt.AccountID,
		EventID:     evt.ID,
		LeadID:      founded.ID,
		Pass:        models.MatchPassNew,
		MatchedKeys: []string{},
		Reason:      "no candidates matched; created new lead",
		Confidence:  newLeadConfidence,
	}
	if err := l.linkRepo.Create(ctx, lnk); err != nil {
		return nil, err
	}

	return &Outcome{Lead: founded, Link: lnk, Created: true}, nil
}

// seedLead builds the founding lead row from the event's evidence. Phone and
// email are stored normalized so exact-match lookups stay plain equality.
func seedLead(evt *models.NormalizedEvent, number int64) *models.Lead {
	occurred := evt.OccurredAt
	founded := &models.Lead{
		ID:          uuid.New().String(),
		AccountID:   evt.AccountID,
		LeadNumber:  number,
		LeadKey:     fmt.Sprintf("L-%06d", number),
		DisplayName: evt.ContactName,
		Location:    evt.Location,
		FirstEventAt: &occurred,
		LastEventAt:  &occurred,
		Confidence:   newLeadConfidence,
	}
	if evt.Phone != nil && *evt.Phone != "" {
		phone := normalizers.NormalizePhone(*evt.Phone)
		if phone != "" {
			founded.Phone = &phone
		}
	}
	if evt.Email != nil && *evt.Email != "" {
		email := normalizers.NormalizeEmail(*evt.Email)
		founded.Email = &email
	}
	if evt.SourceType == models.SourceTypeCalls && evt.DurationSeconds != nil {
		founded.TotalCallSeconds = *evt.DurationSeconds
	}
	return founded
}

// refreshEvidence folds a newly attached event into the lead's denormalized
// columns: missing contact fields fill in, the event-time range widens, and
// call time accumulates. Lead confidence tracks the weakest link in the
// stitch, so it can only fall as weaker evidence attaches.
func refreshEvidence(matched *models.Lead, evt *models.NormalizedEvent, confidence float64) {
	if matched.DisplayName == nil && evt.ContactName != nil && *evt.ContactName != "" {
		matched.DisplayName = evt.ContactName
	}
	if matched.Phone == nil && evt.Phone != nil {
		if phone := normalizers.NormalizePhone(*evt.Phone); phone != "" {
			matched.Phone = &phone
		}
	}
	if matched.Email == nil && evt.Email != nil && *evt.Email != "" {
		email := normalizers.NormalizeEmail(*evt.Email)
		matched.Email = &email
	}
	if matched.Location == nil && evt.Location != nil && *evt.Location != "" {
		matched.Location = evt.Location
	}

	occurred := evt.OccurredAt
	if matched.FirstEventAt == nil || occurred.Before(*matched.FirstEventAt) {
		matched.FirstEventAt = &occurred
	}
	if matched.LastEventAt == nil || occurred.After(*matched.LastEventAt) {
		matched.LastEventAt = &occurred
	}

	if evt.SourceType == models.SourceTypeCalls && evt.DurationSeconds != nil {
		matched.TotalCallSeconds += *evt.DurationSeconds
	}

	if confidence < matched.Confidence {
		matched.Confidence = confidence
	}
}
