package rules

import (
	"fmt"
	"time"

	"l3-health-alerts/internal/aggregate"
	"l3-health-alerts/internal/metric"
)

// Comparator is the relation a rule applies between value and bound.
type Comparator string

const (
	CmpLT Comparator = "<"
	CmpLE Comparator = "<="
	CmpGT Comparator = ">"
	CmpGE Comparator = ">="
)

// ParseComparator validates a configured comparator string.
func ParseComparator(s string) (Comparator, error) {
	switch Comparator(s) {
	case CmpLT, CmpLE, CmpGT, CmpGE:
		return Comparator(s), nil
	}
	return "", fmt.Errorf("unknown comparator %q", s)
}

// Holds reports whether value satisfies the comparator against bound.
func (c Comparator) Holds(value, bound float64) bool {
	switch c {
	case CmpLT:
		return value < bound
	case CmpLE:
		return value <= bound
	case CmpGT:
		return value > bound
	case CmpGE:
		return value >= bound
	}
	return false
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a configured severity, defaulting empty to warning.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	case "":
		return SeverityWarning, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rule is one operator-defined threshold. Immutable once loaded; the
// engine holds rules by reference.
type Rule struct {
	ID           string
	Key          metric.Key
	Comparator   Comparator
	Bound        float64
	SustainedFor time.Duration
	Severity     Severity

	// Window and Agg, when set, evaluate the rule against a derived
	// aggregate instead of the latest raw sample. Agg stale_seconds
	// ignores Window and uses the full retained series.
	Window time.Duration
	Agg    aggregate.Kind
}

// Windowed reports whether the rule targets a derived aggregate.
func (r *Rule) Windowed() bool { return r.Agg != "" }

// Validate rejects malformed rules at load time. A rule referencing an
// unknown metric key, comparator, or aggregate kind is a configuration
// error, never silently skipped at evaluation.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if _, err := metric.ParseKey(string(r.Key)); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if _, err := ParseComparator(string(r.Comparator)); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if _, err := ParseSeverity(string(r.Severity)); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.SustainedFor < 0 {
		return fmt.Errorf("rule %s: sustained_for cannot be negative", r.ID)
	}
	if r.Agg != "" {
		if _, err := aggregate.ParseKind(string(r.Agg)); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if r.Agg != aggregate.KindStaleSeconds && r.Window <= 0 {
			return fmt.Errorf("rule %s: windowed rule requires a positive window", r.ID)
		}
	}
	return nil
}

// ValidateSet validates every rule and rejects duplicate IDs.
func ValidateSet(set []Rule) error {
	seen := make(map[string]struct{}, len(set))
	for i := range set {
		if err := set[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[set[i].ID]; dup {
			return fmt.Errorf("duplicate rule id %q", set[i].ID)
		}
		seen[set[i].ID] = struct{}{}
	}
	return nil
}
