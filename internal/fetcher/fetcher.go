package fetcher

import (
	"context"
	"time"

	"l3-health-alerts/internal/metric"
)

// SampleSource produces ordered metric samples for one tick. A source
// failure is reported to the caller, which skips the source for the
// cycle and keeps prior state.
type SampleSource interface {
	// Name identifies the source in logs.
	Name() string
	// Fetch returns the samples observed for the tick at now. ObservedAt
	// must be non-decreasing per key across calls.
	Fetch(ctx context.Context, now time.Time) ([]metric.Sample, error)
}
