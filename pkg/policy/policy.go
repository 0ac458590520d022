// Package policy parses declarative attribution/matching policy documents
// into typed configuration. A policy is data, not code: attribution modes
// and tie-breaker rules are closed enumerations the engine switches over.
package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// AttributionMode selects which touchpoint receives marketing credit
type AttributionMode string

const (
	AttributionFirstTouch  AttributionMode = "first_touch"
	AttributionLastTouch   AttributionMode = "last_touch"
	AttributionPaidLast    AttributionMode = "paid_last"
	AttributionCallFirst   AttributionMode = "call_first"
	AttributionEqualWeight AttributionMode = "equal_weight"
)

// Valid reports whether the mode is one of the five recognized values
func (m AttributionMode) Valid() bool {
	switch m {
	case AttributionFirstTouch, AttributionLastTouch, AttributionPaidLast, AttributionCallFirst, AttributionEqualWeight:
		return true
	}
	return false
}

// TieBreaker names one ordered rule for discriminating equally weighted
// match candidates. Unknown names in a document are tolerated and skipped
// at resolve time.
type TieBreaker string

const (
	TieBreakCallOverForm       TieBreaker = "call_over_form"
	TieBreakFormOverCall       TieBreaker = "form_over_call"
	TieBreakLatestEventTime    TieBreaker = "latest_event_time"
	TieBreakLongerCallDuration TieBreaker = "longer_call_duration"
	TieBreakHigherRevenue      TieBreaker = "higher_revenue"
)

// Windows holds the per-pass match windows in days, measured against the
// lead's creation time (click-chain measures between event occurrences).
type Windows struct {
	PhoneExact int `yaml:"phone_exact" json:"phone_exact"`
	EmailExact int `yaml:"email_exact" json:"email_exact"`
	ClickChain int `yaml:"click_chain" json:"click_chain"`
	FuzzyMatch int `yaml:"fuzzy_match" json:"fuzzy_match"`
}

// Weights holds the per-pass candidate weights used by the resolver
type Weights struct {
	PhoneExact float64 `yaml:"phone_exact" json:"phone_exact"`
	EmailExact float64 `yaml:"email_exact" json:"email_exact"`
	ClickChain float64 `yaml:"click_chain" json:"click_chain"`
	FuzzyMatch float64 `yaml:"fuzzy_match" json:"fuzzy_match"`
}

// ConfidenceRules maps evidence strength to the confidence recorded on a
// link. two_deterministic applies when the phone and email passes agree on
// the same lead.
type ConfidenceRules struct {
	TwoDeterministic float64 `yaml:"two_deterministic" json:"two_deterministic"`
	OneDeterministic float64 `yaml:"one_deterministic" json:"one_deterministic"`
	ClickOnly        float64 `yaml:"click_only" json:"click_only"`
	FuzzyOnly        float64 `yaml:"fuzzy_only" json:"fuzzy_only"`
}

// Config is a parsed, validated policy. Loaded once per job and treated as
// immutable for the job's duration; concurrent jobs may hold different
// configs safely.
type Config struct {
	Name            string          `yaml:"name" json:"name"`
	AttributionMode AttributionMode `yaml:"attribution_mode" json:"attribution_mode"`
	Windows         Windows         `yaml:"windows" json:"windows"`
	Weights         Weights         `yaml:"weights" json:"weights"`
	TieBreakers     []TieBreaker    `yaml:"tie_breakers" json:"tie_breakers"`
	ConfidenceRules ConfidenceRules `yaml:"confidence_rules" json:"confidence_rules"`
}

// ValidationError reports a malformed policy document. It is fatal to a
// match job: no processing can proceed without a usable policy.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid policy: %s", e.Reason)
}

// document mirrors Config with optional sections so Parse can distinguish
// "missing" from "zero". Unknown top-level keys are ignored.
type document struct {
	Name            string           `yaml:"name"`
	AttributionMode string           `yaml:"attribution_mode"`
	Windows         *Windows         `yaml:"windows"`
	Weights         *Weights         `yaml:"weights"`
	TieBreakers     []string         `yaml:"tie_breakers"`
	ConfidenceRules *ConfidenceRules `yaml:"confidence_rules"`
}

// Parse parses a policy document into a Config. It fails with a
// *ValidationError when the name, a recognized attribution_mode, the
// windows map, or the weights map is missing or malformed. Unknown keys are
// ignored for forward compatibility. No side effects.
func Parse(doc []byte) (*Config, error) {
	var d document
	if err := yaml.Unmarshal(doc, &d); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed document: %v", err)}
	}

	if d.Name == "" {
		return nil, &ValidationError{Reason: "name is required"}
	}

	mode := AttributionMode(d.AttributionMode)
	if d.AttributionMode == "" {
		return nil, &ValidationError{Reason: "attribution_mode is required"}
	}
	if !mode.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unrecognized attribution_mode %q", d.AttributionMode)}
	}

	if d.Windows == nil {
		return nil, &ValidationError{Reason: "windows is required"}
	}
	if d.Weights == nil {
		return nil, &ValidationError{Reason: "weights is required"}
	}

	cfg := &Config{
		Name:            d.Name,
		AttributionMode: mode,
		Windows:         *d.Windows,
		Weights:         *d.Weights,
	}

	for _, tb := range d.TieBreakers {
		cfg.TieBreakers = append(cfg.TieBreakers, TieBreaker(tb))
	}
	if d.ConfidenceRules != nil {
		cfg.ConfidenceRules = *d.ConfidenceRules
	}

	return cfg, nil
}

// Default returns the stock policy used when an account has none stored.
func Default() *Config {
	return &Config{
		Name:            "default",
		AttributionMode: AttributionLastTouch,
		Windows: Windows{
			PhoneExact: 30,
			EmailExact: 30,
			ClickChain: 30,
			FuzzyMatch: 7,
		},
		Weights: Weights{
			PhoneExact: 100,
			EmailExact: 90,
			ClickChain: 70,
			FuzzyMatch: 50,
		},
		TieBreakers: []TieBreaker{
			TieBreakCallOverForm,
			TieBreakFormOverCall,
			TieBreakLatestEventTime,
			TieBreakLongerCallDuration,
			TieBreakHigherRevenue,
		},
		ConfidenceRules: ConfidenceRules{
			TwoDeterministic: 0.98,
			OneDeterministic: 0.90,
			ClickOnly:        0.70,
			FuzzyOnly:        0.60,
		},
	}
}
