package storage

import (
	"time"

	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/rules"
)

// SampleRow is one archived metric observation. The in-memory series
// store remains the engine's source of truth; the archive only backs
// charts, backfill, and the show command.
type SampleRow struct {
	Key        metric.Key
	Value      float64
	ObservedAt time.Time
	CreatedAt  time.Time
}

// AlertRow is one archived alert transition, kept for auditing.
type AlertRow struct {
	ID        int64
	RuleID    string
	Key       metric.Key
	Severity  rules.Severity
	From      rules.Status
	To        rules.Status
	Value     float64
	Bound     float64
	At        time.Time
	CreatedAt time.Time
}
