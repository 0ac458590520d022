// Package attribution derives a lead's marketing attribution summary from
// its linked events. Summarize is pure; the Recomputer loads events and
// persists the result in a single update.
package attribution

import (
	"strings"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/policy"
)

// DirectSource is the source recorded when a boundary event carries no UTM
// source
const DirectSource = "direct"

// Channel names derived from the final medium
const (
	ChannelPaidSearch    = "paid_search"
	ChannelSocial        = "social"
	ChannelEmail         = "email"
	ChannelOrganicSearch = "organic_search"
	ChannelOther         = "other"
	ChannelDirect        = "direct"
)

var paidMediums = map[string]bool{
	"cpc":  true,
	"paid": true,
	"ppc":  true,
}

// Summarize computes the attribution summary for a lead's linked events.
// Events must be ordered ascending by occurrence time. An empty slice
// yields the zero summary; callers treat that as a no-op.
func Summarize(events []models.NormalizedEvent, mode policy.AttributionMode) models.AttributionSummary {
	if len(events) == 0 {
		return models.AttributionSummary{}
	}

	first := &events[0]
	last := &events[len(events)-1]
	paid := latestPaidEvent(events)

	summary := models.AttributionSummary{
		FirstTouchSource: sourceOrDirect(first),
		LastTouchSource:  sourceOrDirect(last),
	}
	if paid != nil {
		summary.PaidLastSource = strVal(paid.UTMSource)
	}

	anchor := anchorEvent(events, mode, paid)
	summary.FinalSource = sourceOrDirect(anchor)
	summary.FinalMedium = strVal(anchor.UTMMedium)
	summary.FinalCampaign = strVal(anchor.UTMCampaign)
	summary.FinalChannel = Channel(summary.FinalMedium)

	for i := range events {
		if events[i].Amount != nil {
			summary.Revenue += *events[i].Amount
		}
	}

	return summary
}

// anchorEvent selects the single event whose UTM fields supply the final
// attribution triple under the given mode. Modes without a qualifying event
// fall back to last touch.
func anchorEvent(events []models.NormalizedEvent, mode policy.AttributionMode, paid *models.NormalizedEvent) *models.NormalizedEvent {
	last := &events[len(events)-1]

	switch mode {
	case policy.AttributionFirstTouch:
		return &events[0]
	case policy.AttributionPaidLast:
		if paid != nil {
			return paid
		}
		return last
	case policy.AttributionCallFirst:
		for i := range events {
			if events[i].SourceType == models.SourceTypeCalls {
				return &events[i]
			}
		}
		return last
	default:
		// last_touch, and equal_weight's single-representative rule
		return last
	}
}

// latestPaidEvent scans from latest to earliest for the first event whose
// UTM medium marks paid traffic
func latestPaidEvent(events []models.NormalizedEvent) *models.NormalizedEvent {
	for i := len(events) - 1; i >= 0; i-- {
		medium := strings.ToLower(strings.TrimSpace(strVal(events[i].UTMMedium)))
		if paidMediums[medium] {
			return &events[i]
		}
	}
	return nil
}

// Channel maps a final medium onto its reporting channel
func Channel(medium string) string {
	switch strings.ToLower(strings.TrimSpace(medium)) {
	case "":
		return ChannelDirect
	case "cpc", "ppc", "paid":
		return ChannelPaidSearch
	case "social", "facebook", "linkedin":
		return ChannelSocial
	case "email":
		return ChannelEmail
	case "organic":
		return ChannelOrganicSearch
	default:
		return ChannelOther
	}
}

func sourceOrDirect(evt *models.NormalizedEvent) string {
	if src := strVal(evt.UTMSource); src != "" {
		return src
	}
	return DirectSource
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
