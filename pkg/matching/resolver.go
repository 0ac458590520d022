package matching

import (
	"sort"
	"time"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/policy"
)

// Resolver selects at most one winning candidate from a generated set.
// Resolution is pure and deterministic: the same candidates and policy always
// produce the same winner.
type Resolver struct{}

// NewResolver creates a new Resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the winning candidate, or nil when the event should start
// a new lead. Candidates are sorted descending by weight; a strict top weight
// wins outright, ties walk the policy's ordered tie-breaker rules, and when
// no rule discriminates the first candidate in weight-sorted order wins (a
// deterministic but otherwise arbitrary fallback).
func (r *Resolver) Resolve(event *models.NormalizedEvent, candidates []Candidate, cfg *policy.Config) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Weight > sorted[j].Weight
	})

	var winner Candidate
	if len(sorted) == 1 || sorted[0].Weight > sorted[1].Weight {
		winner = sorted[0]
	} else {
		winner = r.breakTie(event, sorted, cfg)
	}

	r.upgradeDeterministic(&winner, candidates, cfg)
	return &winner
}

// breakTie applies the policy's tie-breaker rules, in order, to the group of
// candidates tied at the top weight. Unknown rule names are skipped.
func (r *Resolver) breakTie(event *models.NormalizedEvent, sorted []Candidate, cfg *policy.Config) Candidate {
	tied := sorted[:1]
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Weight != sorted[0].Weight {
			break
		}
		tied = sorted[:i+1]
	}

	for _, rule := range cfg.TieBreakers {
		var picked *Candidate

		switch rule {
		case policy.TieBreakCallOverForm:
			if event.SourceType == models.SourceTypeCalls {
				picked = &tied[0]
			}
		case policy.TieBreakFormOverCall:
			if event.SourceType == models.SourceTypeForms {
				picked = &tied[0]
			}
		case policy.TieBreakLatestEventTime:
			picked = strictMax(tied, func(a, b *Candidate) bool {
				return leadLastEvent(a).Before(leadLastEvent(b))
			})
		case policy.TieBreakLongerCallDuration:
			picked = strictMax(tied, func(a, b *Candidate) bool {
				return leadCallSeconds(a) < leadCallSeconds(b)
			})
		case policy.TieBreakHigherRevenue:
			picked = strictMax(tied, func(a, b *Candidate) bool {
				return leadRevenue(a) < leadRevenue(b)
			})
		}

		if picked != nil {
			return *picked
		}
	}

	return tied[0]
}

// upgradeDeterministic raises the winner's confidence when the phone and
// email passes both nominated the same lead: two deterministic agreements are
// stronger evidence than either alone.
func (r *Resolver) upgradeDeterministic(winner *Candidate, candidates []Candidate, cfg *policy.Config) {
	var other models.MatchPass
	switch winner.Pass {
	case models.MatchPassPhoneExact:
		other = models.MatchPassEmailExact
	case models.MatchPassEmailExact:
		other = models.MatchPassPhoneExact
	default:
		return
	}

	for i := range candidates {
		if candidates[i].LeadID != winner.LeadID || candidates[i].Pass != other {
			continue
		}
		winner.Confidence = cfg.ConfidenceRules.TwoDeterministic
		winner.MatchedKeys = mergeKeys(winner.MatchedKeys, candidates[i].MatchedKeys)
		winner.Reason += "; phone and email agree"
		return
	}
}

// strictMax returns the single candidate ranked highest by less, or nil when
// the top rank is shared and the rule cannot discriminate.
func strictMax(tied []Candidate, less func(a, b *Candidate) bool) *Candidate {
	best := 0
	unique := true
	for i := 1; i < len(tied); i++ {
		if less(&tied[best], &tied[i]) {
			best = i
			unique = true
		} else if !less(&tied[i], &tied[best]) {
			unique = false
		}
	}
	if !unique {
		return nil
	}
	return &tied[best]
}

func leadLastEvent(c *Candidate) time.Time {
	if c.Lead != nil && c.Lead.LastEventAt != nil {
		return *c.Lead.LastEventAt
	}
	return time.Time{}
}

func leadCallSeconds(c *Candidate) int {
	if c.Lead != nil {
		return c.Lead.TotalCallSeconds
	}
	return 0
}

func leadRevenue(c *Candidate) float64 {
	if c.Lead != nil {
		return c.Lead.Revenue
	}
	return 0
}

func mergeKeys(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, key := range append(append([]string{}, a...), b...) {
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, key)
	}
	return merged
}
