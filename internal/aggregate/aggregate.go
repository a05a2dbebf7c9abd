package aggregate

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/series"
)

// Kind names a windowed computation.
type Kind string

const (
	// KindTPS is transactions per second, derived from the tx_count
	// counter delta across the window (sample count for gauges).
	KindTPS Kind = "tps"
	// KindUptimePct is the percentage of expected heartbeats within the
	// window for which the metric strictly advanced.
	KindUptimePct Kind = "uptime_pct"
	// KindSum is the moving sum of sample values, e.g. rolling volume.
	KindSum Kind = "sum"
	// KindMean is the arithmetic mean of sample values.
	KindMean Kind = "mean"
	// KindMin is the minimum sample value.
	KindMin Kind = "min"
	// KindMax is the maximum sample value.
	KindMax Kind = "max"
	// KindP95 is the 95th percentile of sample values.
	KindP95 Kind = "p95"
	// KindStaleSeconds is the time since the metric last strictly
	// increased, in seconds. Backs "no new blocks" style rules.
	KindStaleSeconds Kind = "stale_seconds"
)

// ParseKind validates a configured aggregate kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTPS, KindUptimePct, KindSum, KindMean, KindMin, KindMax, KindP95, KindStaleSeconds:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown aggregate kind %q", s)
}

// Spec is one requested computation: a kind over a trailing window.
type Spec struct {
	Kind   Kind
	Window time.Duration
}

// Aggregate is a window-scoped derived value. Defined is false when the
// window holds no data (or no expected ticks), which callers must keep
// distinct from a value of zero.
type Aggregate struct {
	Key        metric.Key
	Spec       Spec
	Value      float64
	Defined    bool
	ComputedAt time.Time
}

// Aggregator derives windowed statistics from the series store. Every
// computation is a pure function of the store's current contents.
type Aggregator struct {
	store *series.Store
	// heartbeat is the expected sampling cadence, used as the divisor
	// basis for uptime percentages.
	heartbeat time.Duration
}

// New constructs an Aggregator over store. heartbeat must match the
// scheduler interval for uptime percentages to be meaningful.
func New(store *series.Store, heartbeat time.Duration) *Aggregator {
	return &Aggregator{store: store, heartbeat: heartbeat}
}

// Compute evaluates spec for key as of now. The window is half-open on
// the left: (now-window, now].
func (a *Aggregator) Compute(key metric.Key, spec Spec, now time.Time) Aggregate {
	agg := Aggregate{Key: key, Spec: spec, ComputedAt: now}

	if spec.Kind == KindStaleSeconds {
		return a.staleSeconds(agg, key, now)
	}

	if spec.Kind == KindUptimePct {
		return a.uptimePct(agg, key, spec.Window, now)
	}

	samples := a.store.Query(key, now.Add(-spec.Window), now)

	switch spec.Kind {
	case KindTPS:
		return a.tps(agg, samples, spec.Window)
	case KindSum, KindMean, KindMin, KindMax, KindP95:
		return a.summary(agg, samples, spec.Kind)
	}
	return agg
}

// tps divides throughput across the window by the window duration. For
// the tx_count counter the throughput is the delta between the first
// and last samples; a single sample (no delta yet) is Undefined.
func (a *Aggregator) tps(agg Aggregate, samples []metric.Sample, window time.Duration) Aggregate {
	if len(samples) == 0 || window <= 0 {
		return agg
	}

	seconds := window.Seconds()
	if agg.Key == metric.KeyTxCount {
		if len(samples) < 2 {
			return agg
		}
		delta := samples[len(samples)-1].Value - samples[0].Value
		if delta < 0 {
			// counter reset mid-window; start over from the reset point
			delta = samples[len(samples)-1].Value
		}
		agg.Value = delta / seconds
		agg.Defined = true
		return agg
	}

	agg.Value = float64(len(samples)) / seconds
	agg.Defined = true
	return agg
}

// uptimePct reports the share of expected heartbeats in the window for
// which the metric strictly advanced relative to its predecessor. The
// query reaches one heartbeat before the window so the first in-window
// sample has a predecessor to compare against.
func (a *Aggregator) uptimePct(agg Aggregate, key metric.Key, window time.Duration, now time.Time) Aggregate {
	if a.heartbeat <= 0 || window < a.heartbeat {
		return agg
	}

	expected := int(window / a.heartbeat)
	if expected == 0 {
		return agg
	}

	windowStart := now.Add(-window)
	samples := a.store.Query(key, windowStart.Add(-a.heartbeat), now)

	advanced := 0
	inWindow := 0
	for i := 0; i < len(samples); i++ {
		if !samples[i].ObservedAt.After(windowStart) {
			continue
		}
		inWindow++
		if i > 0 && samples[i].Value > samples[i-1].Value {
			advanced++
		}
	}
	if inWindow == 0 {
		// no data at all is distinct from 0% uptime
		return agg
	}
	if advanced > expected {
		advanced = expected
	}

	agg.Value = float64(advanced) / float64(expected) * 100
	agg.Defined = true
	return agg
}

func (a *Aggregator) summary(agg Aggregate, samples []metric.Sample, kind Kind) Aggregate {
	if len(samples) == 0 {
		return agg
	}

	values := make(stats.Float64Data, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}

	var (
		value float64
		err   error
	)
	switch kind {
	case KindSum:
		value, err = stats.Sum(values)
	case KindMean:
		value, err = stats.Mean(values)
	case KindMin:
		value, err = stats.Min(values)
	case KindMax:
		value, err = stats.Max(values)
	case KindP95:
		value, err = stats.Percentile(values, 95)
	}
	if err != nil {
		return agg
	}

	agg.Value = value
	agg.Defined = true
	return agg
}

// staleSeconds walks the full retained series for key and measures how
// long ago the value last strictly increased. With a single sample the
// sample's own age is used.
func (a *Aggregator) staleSeconds(agg Aggregate, key metric.Key, now time.Time) Aggregate {
	samples := a.store.Query(key, time.Time{}, now)
	if len(samples) == 0 {
		return agg
	}

	lastAdvance := samples[0].ObservedAt
	for i := 1; i < len(samples); i++ {
		if samples[i].Value > samples[i-1].Value {
			lastAdvance = samples[i].ObservedAt
		}
	}

	agg.Value = now.Sub(lastAdvance).Seconds()
	agg.Defined = true
	return agg
}
