package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/attribution"
	"github.com/Ramsey-B/yarrow/pkg/ledger"
	"github.com/Ramsey-B/yarrow/pkg/matching"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/normalizers"
	"github.com/Ramsey-B/yarrow/pkg/policy"
)

func ptr[T any](v T) *T {
	return &v
}

const pipelinePolicyDocument = `
name: pipeline
attribution_mode: last_touch
windows:
  phone_exact: 30
  email_exact: 30
  click_chain: 30
  fuzzy_match: 7
weights:
  phone_exact: 100
  email_exact: 90
  click_chain: 70
  fuzzy_match: 50
tie_breakers:
  - call_over_form
  - latest_event_time
confidence_rules:
  two_deterministic: 0.95
  one_deterministic: 0.9
  click_only: 0.7
  fuzzy_only: 0.5
`

// memoryLeadStore is an in-memory stand-in for the lead repository,
// matching on normalized phone and email the way the SQL queries do.
type memoryLeadStore struct {
	leads []*models.Lead
}

func (s *memoryLeadStore) GetByID(_ context.Context, accountID, leadID string) (*models.Lead, error) {
	for _, lead := range s.leads {
		if lead.AccountID == accountID && lead.ID == leadID {
			out := *lead
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memoryLeadStore) FindByPhone(_ context.Context, accountID, phone string) ([]models.Lead, error) {
	var out []models.Lead
	for _, lead := range s.leads {
		if lead.AccountID != accountID || lead.Phone == nil {
			continue
		}
		if normalizers.NormalizePhone(*lead.Phone) == phone {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *memoryLeadStore) FindByEmail(_ context.Context, accountID, email string) ([]models.Lead, error) {
	var out []models.Lead
	for _, lead := range s.leads {
		if lead.AccountID != accountID || lead.Email == nil {
			continue
		}
		if normalizers.NormalizeEmail(*lead.Email) == email {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *memoryLeadStore) FindWithNameAndLocation(_ context.Context, accountID string) ([]models.Lead, error) {
	var out []models.Lead
	for _, lead := range s.leads {
		if lead.AccountID == accountID && lead.DisplayName != nil && lead.Location != nil {
			out = append(out, *lead)
		}
	}
	return out, nil
}

type memoryClickStore struct {
	linked []models.LinkedEvent
}

func (s *memoryClickStore) FindLinkedByClickID(_ context.Context, accountID, clickID string) ([]models.LinkedEvent, error) {
	var out []models.LinkedEvent
	for _, le := range s.linked {
		if le.Event.AccountID != accountID {
			continue
		}
		if (le.Event.AdClickID != nil && *le.Event.AdClickID == clickID) ||
			(le.Event.ClientID != nil && *le.Event.ClientID == clickID) {
			out = append(out, le)
		}
	}
	return out, nil
}

// pipeline drives events through candidate generation and resolution,
// keeping the lead book in memory the way the ledger keeps it in Postgres.
type pipeline struct {
	cfg      *policy.Config
	engine   *matching.Engine
	resolver *matching.Resolver
	leads    *memoryLeadStore
	clicks   *memoryClickStore
	journeys map[string][]models.NormalizedEvent
	nextNum  int64

	// planLimit caps new leads per account the way the ledger's usage gate
	// does; zero means unlimited.
	planLimit int
	created   map[string]int
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	cfg, err := policy.Parse([]byte(pipelinePolicyDocument))
	require.NoError(t, err)

	leads := &memoryLeadStore{}
	clicks := &memoryClickStore{}

	return &pipeline{
		cfg:      cfg,
		engine:   matching.NewEngine(leads, clicks, testLogger()),
		resolver: matching.NewResolver(),
		leads:    leads,
		clicks:   clicks,
		journeys: make(map[string][]models.NormalizedEvent),
		created:  make(map[string]int),
	}
}

// process runs one event through the engine and applies the decision to the
// in-memory book. Returns the winning candidate, nil when a lead was created.
func (p *pipeline) process(t *testing.T, event models.NormalizedEvent) *matching.Candidate {
	t.Helper()

	winner, err := p.tryProcess(t, event)
	require.NoError(t, err)
	return winner
}

// tryProcess is process with the usage gate observable: a new lead past the
// plan limit returns ledger.ErrUsageLimitExceeded and leaves the book
// untouched, the way the orchestrator records the error and moves on.
func (p *pipeline) tryProcess(t *testing.T, event models.NormalizedEvent) (*matching.Candidate, error) {
	t.Helper()

	candidates, err := p.engine.Generate(context.Background(), &event, p.cfg)
	require.NoError(t, err)

	winner := p.resolver.Resolve(&event, candidates, p.cfg)

	var leadID string
	if winner == nil {
		if p.planLimit > 0 && p.created[event.AccountID] >= p.planLimit {
			return nil, ledger.ErrUsageLimitExceeded
		}
		leadID = p.createLead(&event)
		p.created[event.AccountID]++
	} else {
		leadID = winner.LeadID
		p.attach(leadID, &event)
	}

	p.journeys[leadID] = append(p.journeys[leadID], event)
	if event.HasClickID() {
		p.clicks.linked = append(p.clicks.linked, models.LinkedEvent{Event: event, LeadID: leadID})
	}
	return winner, nil
}

func (p *pipeline) createLead(event *models.NormalizedEvent) string {
	p.nextNum++
	lead := &models.Lead{
		ID:           uuid.New().String(),
		AccountID:    event.AccountID,
		LeadNumber:   p.nextNum,
		LeadKey:      fmt.Sprintf("L-%06d", p.nextNum),
		DisplayName:  event.ContactName,
		Phone:        event.Phone,
		Email:        event.Email,
		Location:     event.Location,
		FirstEventAt: &event.OccurredAt,
		LastEventAt:  &event.OccurredAt,
		CreatedAt:    event.OccurredAt,
	}
	if event.DurationSeconds != nil {
		lead.TotalCallSeconds = *event.DurationSeconds
	}
	if event.Amount != nil {
		lead.Revenue = *event.Amount
	}
	p.leads.leads = append(p.leads.leads, lead)
	return lead.ID
}

func (p *pipeline) attach(leadID string, event *models.NormalizedEvent) {
	for _, lead := range p.leads.leads {
		if lead.ID != leadID {
			continue
		}
		if lead.Phone == nil && event.Phone != nil {
			lead.Phone = event.Phone
		}
		if lead.Email == nil && event.Email != nil {
			lead.Email = event.Email
		}
		if lead.DisplayName == nil && event.ContactName != nil {
			lead.DisplayName = event.ContactName
		}
		lead.LastEventAt = &event.OccurredAt
		if event.DurationSeconds != nil {
			lead.TotalCallSeconds += *event.DurationSeconds
		}
		if event.Amount != nil {
			lead.Revenue += *event.Amount
		}
		return
	}
}

func (p *pipeline) leadByKey(key string) *models.Lead {
	for _, lead := range p.leads.leads {
		if lead.LeadKey == key {
			return lead
		}
	}
	return nil
}

func TestPipeline_ClickChainTiesFormToCallAndInvoice(t *testing.T) {
	accountID := uuid.New().String()
	p := newPipeline(t)
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	// A form submission arrives from a paid search click.
	formEvent := models.NormalizedEvent{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		SourceType:  models.SourceTypeForms,
		OccurredAt:  at,
		ContactName: ptr("Dave Example"),
		Email:       ptr("dave@example.com"),
		AdClickID:   ptr("gclid-spring-1"),
		UTMSource:   ptr("google"),
		UTMMedium:   ptr("cpc"),
		UTMCampaign: ptr("spring-sale"),
	}
	require.Nil(t, p.process(t, formEvent), "first event should start a new lead")
	require.Len(t, p.leads.leads, 1)
	leadKey := p.leads.leads[0].LeadKey
	assert.Equal(t, "L-000001", leadKey)

	// The same person calls an hour later; only the email ties them back.
	callEvent := models.NormalizedEvent{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		SourceType:      models.SourceTypeCalls,
		OccurredAt:      at.Add(time.Hour),
		ContactName:     ptr("Dave Example"),
		Phone:           ptr("(555) 010-7788"),
		Email:           ptr("DAVE@Example.com"),
		DurationSeconds: ptr(300),
	}
	winner := p.process(t, callEvent)
	require.NotNil(t, winner)
	assert.Equal(t, models.MatchPassEmailExact, winner.Pass)
	assert.Equal(t, p.cfg.ConfidenceRules.OneDeterministic, winner.Confidence)

	// An appointment booked from the same ad click carries no identifiers
	// beyond the click id; only the chain can tie it back.
	appointmentEvent := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeAppointments,
		OccurredAt: at.Add(2 * time.Hour),
		AdClickID:  ptr("gclid-spring-1"),
	}
	winner = p.process(t, appointmentEvent)
	require.NotNil(t, winner)
	assert.Equal(t, models.MatchPassClickChain, winner.Pass)

	// An unrelated prospect submits a form.
	otherEvent := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeForms,
		OccurredAt: at.Add(3 * time.Hour),
		Email:      ptr("zoe@elsewhere.com"),
	}
	require.Nil(t, p.process(t, otherEvent), "different email should start a second lead")
	require.Len(t, p.leads.leads, 2)

	// The invoice lands on the phone number accreted from the call.
	invoiceEvent := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeInvoices,
		OccurredAt: at.Add(48 * time.Hour),
		Phone:      ptr("555-010-7788"),
		Amount:     ptr(1200.50),
	}
	winner = p.process(t, invoiceEvent)
	require.NotNil(t, winner)
	assert.Equal(t, models.MatchPassPhoneExact, winner.Pass)

	lead := p.leadByKey(leadKey)
	require.NotNil(t, lead)
	assert.Len(t, p.journeys[lead.ID], 4)
	assert.Equal(t, 300, lead.TotalCallSeconds)
	assert.InDelta(t, 1200.50, lead.Revenue, 0.001)

	t.Run("LastTouchAttribution", func(t *testing.T) {
		summary := attribution.Summarize(p.journeys[lead.ID], policy.AttributionLastTouch)
		assert.Equal(t, "google", summary.FirstTouchSource)
		assert.Equal(t, attribution.DirectSource, summary.LastTouchSource, "invoice has no UTM source")
		assert.Equal(t, "google", summary.PaidLastSource)
		assert.Equal(t, attribution.ChannelDirect, summary.FinalChannel)
		assert.InDelta(t, 1200.50, summary.Revenue, 0.001)
	})

	t.Run("PaidLastAttribution", func(t *testing.T) {
		summary := attribution.Summarize(p.journeys[lead.ID], policy.AttributionPaidLast)
		assert.Equal(t, "google", summary.FinalSource)
		assert.Equal(t, "cpc", summary.FinalMedium)
		assert.Equal(t, "spring-sale", summary.FinalCampaign)
		assert.Equal(t, attribution.ChannelPaidSearch, summary.FinalChannel)
	})

	t.Run("CallFirstAttribution", func(t *testing.T) {
		summary := attribution.Summarize(p.journeys[lead.ID], policy.AttributionCallFirst)
		assert.Equal(t, attribution.DirectSource, summary.FinalSource, "the call itself carried no UTM fields")
	})
}

func TestPipeline_AccountsAreIsolated(t *testing.T) {
	accountA := uuid.New().String()
	accountB := uuid.New().String()
	p := newPipeline(t)
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	first := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountA,
		SourceType: models.SourceTypeForms,
		OccurredAt: at,
		Email:      ptr("shared@example.com"),
	}
	require.Nil(t, p.process(t, first))

	// Same email under a different account must not match across the fence.
	second := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountB,
		SourceType: models.SourceTypeForms,
		OccurredAt: at.Add(time.Minute),
		Email:      ptr("shared@example.com"),
	}
	require.Nil(t, p.process(t, second))
	assert.Len(t, p.leads.leads, 2)
}

func TestPipeline_FormJoinsCallLeadByPhone(t *testing.T) {
	accountID := uuid.New().String()
	p := newPipeline(t)
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	call := models.NormalizedEvent{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		SourceType:      models.SourceTypeCalls,
		OccurredAt:      at,
		Phone:           ptr("555-200-0001"),
		DurationSeconds: ptr(120),
	}
	require.Nil(t, p.process(t, call))

	form := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeForms,
		OccurredAt: at.Add(time.Minute),
		Phone:      ptr("555-200-0001"),
	}
	// The form matches the call lead by phone, so no third lead appears.
	winner := p.process(t, form)
	require.NotNil(t, winner)
	assert.Equal(t, models.MatchPassPhoneExact, winner.Pass)
	assert.Len(t, p.leads.leads, 1)
}

func TestPipeline_PlanLimitStopsNewLeadsOnly(t *testing.T) {
	accountID := uuid.New().String()
	p := newPipeline(t)
	p.planLimit = 1
	at := time.Date(2025, 5, 5, 10, 0, 0, 0, time.UTC)

	first := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeForms,
		OccurredAt: at,
		Email:      ptr("dana@example.com"),
	}
	winner, err := p.tryProcess(t, first)
	require.NoError(t, err)
	assert.Nil(t, winner)

	// A second identity has no quota left; the event is rejected without
	// touching the lead book.
	stranger := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeForms,
		OccurredAt: at.Add(time.Hour),
		Email:      ptr("eve@example.com"),
	}
	_, err = p.tryProcess(t, stranger)
	require.ErrorIs(t, err, ledger.ErrUsageLimitExceeded)
	assert.Len(t, p.leads.leads, 1)

	// Linking to an existing lead never consumes quota.
	followup := models.NormalizedEvent{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SourceType: models.SourceTypeForms,
		OccurredAt: at.Add(2 * time.Hour),
		Email:      ptr("Dana@Example.com"),
	}
	winner, err = p.tryProcess(t, followup)
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, models.MatchPassEmailExact, winner.Pass)

	assert.Len(t, p.leads.leads, 1)
	lead := p.leadByKey("L-000001")
	require.NotNil(t, lead)
	assert.Len(t, p.journeys[lead.ID], 2)
}
