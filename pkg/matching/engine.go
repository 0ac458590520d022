// Package matching implements the identity resolution passes that decide
// whether an incoming event belongs to an existing lead.
package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/normalizers"
	"github.com/Ramsey-B/yarrow/pkg/policy"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// fuzzyNameThreshold is the minimum Jaro-Winkler name similarity the fuzzy
// pass accepts.
const fuzzyNameThreshold = 0.88

// maxFuzzyPhoneDistance is the largest digit Hamming distance the fuzzy pass
// tolerates when both sides carry a phone number.
const maxFuzzyPhoneDistance = 1

// LeadSource provides read access to the account's existing lead set
type LeadSource interface {
	GetByID(ctx context.Context, accountID, leadID string) (*models.Lead, error)
	FindByPhone(ctx context.Context, accountID, phone string) ([]models.Lead, error)
	FindByEmail(ctx context.Context, accountID, email string) ([]models.Lead, error)
	FindWithNameAndLocation(ctx context.Context, accountID string) ([]models.Lead, error)
}

// ClickSource provides read access to already-linked events sharing a click
// identifier, for the click-chain pass.
type ClickSource interface {
	FindLinkedByClickID(ctx context.Context, accountID, clickID string) ([]models.LinkedEvent, error)
}

// Candidate is one plausible lead match for an event, produced by a pass
type Candidate struct {
	LeadID      string
	Lead        *models.Lead
	Pass        models.MatchPass
	Weight      float64
	MatchedKeys []string
	Reason      string
	Confidence  float64
}

// Engine runs the four candidate generation passes in order: phone-exact,
// email-exact, click-chain, fuzzy. A single event may accumulate candidates
// from several passes; the resolver picks the winner.
type Engine struct {
	leads  LeadSource
	clicks ClickSource
	scorer *Scorer
	logger ectologger.Logger
}

// NewEngine creates a new candidate generation engine
func NewEngine(leads LeadSource, clicks ClickSource, logger ectologger.Logger) *Engine {
	return &Engine{
		leads:  leads,
		clicks: clicks,
		scorer: NewScorer(),
		logger: logger,
	}
}

// Generate produces all plausible lead candidates for the event under the
// given policy. The returned list is ordered by pass. An event with no
// matchable keys yields an empty list and always becomes a new lead.
func (e *Engine) Generate(ctx context.Context, event *models.NormalizedEvent, cfg *policy.Config) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Generate")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": event.AccountID,
		"event_id":   event.ID,
	})

	var candidates []Candidate

	phoneCands, err := e.phoneExact(ctx, event, cfg)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, phoneCands...)

	emailCands, err := e.emailExact(ctx, event, cfg)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, emailCands...)

	clickCands, err := e.clickChain(ctx, event, cfg)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, clickCands...)

	fuzzyCands, err := e.fuzzy(ctx, event, cfg)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, fuzzyCands...)

	log.WithFields(map[string]any{"candidate_count": len(candidates)}).Debug("Generated match candidates")

	return candidates, nil
}

// phoneExact emits a candidate for every existing lead with the identical
// normalized phone whose first contact falls inside the phone_exact window.
func (e *Engine) phoneExact(ctx context.Context, event *models.NormalizedEvent, cfg *policy.Config) ([]Candidate, error) {
	if event.Phone == nil {
		return nil, nil
	}
	phone := normalizers.NormalizePhone(*event.Phone)
	if phone == "" {
		return nil, nil
	}

	leads, err := e.leads.FindByPhone(ctx, event.AccountID, phone)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i := range leads {
		lead := leads[i]
		if !withinDays(event.OccurredAt, matchAnchor(&lead), cfg.Windows.PhoneExact) {
			continue
		}
		candidates = append(candidates, Candidate{
			LeadID:      lead.ID,
			Lead:        &lead,
			Pass:        models.MatchPassPhoneExact,
			Weight:      cfg.Weights.PhoneExact,
			MatchedKeys: []string{"phone"},
			Reason:      fmt.Sprintf("exact phone match within %dd window", cfg.Windows.PhoneExact),
			Confidence:  cfg.ConfidenceRules.OneDeterministic,
		})
	}
	return candidates, nil
}

// emailExact is the phone pass over normalized email addresses.
func (e *Engine) emailExact(ctx context.Context, event *models.NormalizedEvent, cfg *policy.Config) ([]Candidate, error) {
	if event.Email == nil {
		return nil, nil
	}
	email := normalizers.NormalizeEmail(*event.Email)
	if email == "" {
		return nil, nil
	}

	leads, err := e.leads.FindByEmail(ctx, event.AccountID, email)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i := range leads {
		lead := leads[i]
		if !withinDays(event.OccurredAt, matchAnchor(&lead), cfg.Windows.EmailExact) {
			continue
		}
		candidates = append(candidates, Candidate{
			LeadID:      lead.ID,
			Lead:        &lead,
			Pass:        models.MatchPassEmailExact,
			Weight:      cfg.Weights.EmailExact,
			MatchedKeys: []string{"email"},
			Reason:      fmt.Sprintf("exact email match within %dd window", cfg.Windows.EmailExact),
			Confidence:  cfg.ConfidenceRules.OneDeterministic,
		})
	}
	return candidates, nil
}

// clickChain matches through advertising click identifiers: prior events
// that share the event's click id and are already linked to a lead nominate
// that lead. The ad click id takes priority over the client id when both are
// present. One candidate per distinct lead.
func (e *Engine) clickChain(ctx context.Context, event *models.NormalizedEvent, cfg *policy.Config) ([]Candidate, error) {
	clickID := event.ClickID()
	if clickID == "" {
		return nil, nil
	}

	key := "client_id"
	if event.AdClickID != nil && *event.AdClickID != "" {
		key = "ad_click_id"
	}

	linked, err := e.clicks.FindLinkedByClickID(ctx, event.AccountID, clickID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []Candidate
	for i := range linked {
		prior := linked[i]
		if prior.Event.ID == event.ID {
			continue
		}
		if prior.Event.OccurredAt.After(event.OccurredAt) {
			continue
		}
		if !withinDays(event.OccurredAt, prior.Event.OccurredAt, cfg.Windows.ClickChain) {
			continue
		}
		if seen[prior.LeadID] {
			continue
		}
		seen[prior.LeadID] = true

		lead, err := e.leads.GetByID(ctx, event.AccountID, prior.LeadID)
		if err != nil {
			return nil, err
		}
		if lead == nil {
			continue
		}

		candidates = append(candidates, Candidate{
			LeadID:      lead.ID,
			Lead:        lead,
			Pass:        models.MatchPassClickChain,
			Weight:      cfg.Weights.ClickChain,
			MatchedKeys: []string{key},
			Reason:      fmt.Sprintf("shared %s with linked event %s", key, prior.Event.ID),
			Confidence:  cfg.ConfidenceRules.ClickOnly,
		})
	}
	return candidates, nil
}

// fuzzy matches on name similarity plus location containment. Both the event
// and the lead must carry a name and a location. When both sides also carry
// a phone number, the digit strings must be within Hamming distance 1 at
// equal length; differing lengths fail the pass.
func (e *Engine) fuzzy(ctx context.Context, event *models.NormalizedEvent, cfg *policy.Config) ([]Candidate, error) {
	if event.ContactName == nil || event.Location == nil {
		return nil, nil
	}
	name := normalizers.NormalizeName(*event.ContactName)
	location := normalizers.NormalizeLocation(*event.Location)
	if name == "" || location == "" {
		return nil, nil
	}

	var eventPhone string
	if event.Phone != nil {
		eventPhone = normalizers.NormalizePhone(*event.Phone)
	}

	leads, err := e.leads.FindWithNameAndLocation(ctx, event.AccountID)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i := range leads {
		lead := leads[i]
		if lead.DisplayName == nil || lead.Location == nil {
			continue
		}
		if !withinDays(event.OccurredAt, matchAnchor(&lead), cfg.Windows.FuzzyMatch) {
			continue
		}

		similarity := e.scorer.JaroWinkler(name, normalizers.NormalizeName(*lead.DisplayName))
		if similarity < fuzzyNameThreshold {
			continue
		}

		if !e.scorer.ContainsEither(location, normalizers.NormalizeLocation(*lead.Location)) {
			continue
		}

		matchedKeys := []string{"name", "location"}
		if eventPhone != "" && lead.Phone != nil {
			leadPhone := normalizers.NormalizePhone(*lead.Phone)
			if leadPhone != "" {
				distance := e.scorer.PhoneDistance(eventPhone, leadPhone)
				if distance < 0 || distance > maxFuzzyPhoneDistance {
					continue
				}
				matchedKeys = append(matchedKeys, "phone")
			}
		}

		candidates = append(candidates, Candidate{
			LeadID:      lead.ID,
			Lead:        &lead,
			Pass:        models.MatchPassFuzzy,
			Weight:      cfg.Weights.FuzzyMatch,
			MatchedKeys: matchedKeys,
			Reason:      fmt.Sprintf("name similarity %.2f with overlapping location", similarity),
			Confidence:  cfg.ConfidenceRules.FuzzyOnly,
		})
	}
	return candidates, nil
}

// matchAnchor is the lead-side timestamp the windows compare against: the
// earliest linked event time, or the row creation time before any event has
// attached.
func matchAnchor(lead *models.Lead) time.Time {
	if lead.FirstEventAt != nil {
		return *lead.FirstEventAt
	}
	return lead.CreatedAt
}

// withinDays reports whether a and b are at most days apart, in either
// direction.
func withinDays(a, b time.Time, days int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(days)*24*time.Hour
}
