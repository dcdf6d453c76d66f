package clinical

import (
	"encoding/json"
	"strings"
)

// InteractionSeverity grades a substance interaction
type InteractionSeverity string

const (
	InteractionHigh   InteractionSeverity = "HIGH"
	InteractionMedium InteractionSeverity = "MEDIUM"
)

// ParseInteractionSeverity parses a severity, accepting the legacy ALTO/MEDIO levels
func ParseInteractionSeverity(s string) (InteractionSeverity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(InteractionHigh), "ALTO":
		return InteractionHigh, nil
	case string(InteractionMedium), "MEDIO":
		return InteractionMedium, nil
	default:
		return "", invalidf("unknown interaction severity %q", s)
	}
}

// UnmarshalJSON accepts the same spellings as ParseInteractionSeverity
func (s *InteractionSeverity) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseInteractionSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// InteractionRule flags an unordered pair of active principles
type InteractionRule struct {
	ID         int64               `json:"id,omitempty"`
	SubstanceA string              `json:"substance_a"`
	SubstanceB string              `json:"substance_b"`
	Severity   InteractionSeverity `json:"severity"`
	Message    string              `json:"message"`
}

// NewInteractionRule validates and builds a rule
func NewInteractionRule(a, b, severity, message string) (InteractionRule, error) {
	sev, err := ParseInteractionSeverity(severity)
	if err != nil {
		return InteractionRule{}, err
	}
	r := InteractionRule{SubstanceA: a, SubstanceB: b, Severity: sev, Message: message}
	if err := r.Validate(); err != nil {
		return InteractionRule{}, err
	}
	return r, nil
}

// Validate checks the pair invariants
func (r InteractionRule) Validate() error {
	if r.SubstanceA == "" || r.SubstanceB == "" {
		return invalidf("interaction substances are required")
	}
	if r.SubstanceA == r.SubstanceB {
		return invalidf("interaction pair members must differ, got %q twice", r.SubstanceA)
	}
	if _, err := ParseInteractionSeverity(string(r.Severity)); err != nil {
		return err
	}
	return nil
}

// MatchedBy reports whether both substances are in the set
func (r InteractionRule) MatchedBy(principles TagSet) bool {
	return principles.Has(r.SubstanceA) && principles.Has(r.SubstanceB)
}
