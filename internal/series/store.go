package series

import (
	"fmt"
	"sync"
	"time"

	"l3-health-alerts/internal/metric"
)

// RejectReason classifies why a sample was refused.
type RejectReason string

const (
	// RejectOutOfOrder means the sample's timestamp does not advance the series.
	RejectOutOfOrder RejectReason = "out_of_order"
	// RejectInvalidValue means the value is NaN, infinite, or negative.
	RejectInvalidValue RejectReason = "invalid_value"
)

// RejectedSampleError reports a dropped sample. Rejections never mutate
// the store; callers log them and continue the cycle.
type RejectedSampleError struct {
	Reason RejectReason
	Sample metric.Sample
}

func (e *RejectedSampleError) Error() string {
	return fmt.Sprintf("sample rejected (%s): key=%s value=%v observed_at=%s",
		e.Reason, e.Sample.Key, e.Sample.Value, e.Sample.ObservedAt.UTC().Format(time.RFC3339))
}

// Options tune retention behaviour.
type Options struct {
	// Capacity bounds each per-key series; oldest entries are evicted first.
	Capacity int
	// Retention, when positive, additionally drops entries older than
	// latest - Retention on insert.
	Retention time.Duration
}

// Store holds a bounded, append-only time series per metric key.
// One writer per tick, any number of concurrent readers.
type Store struct {
	mu     sync.RWMutex
	opts   Options
	series map[metric.Key]*ring
}

// NewStore constructs an empty store.
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		panic("series capacity must be positive")
	}
	return &Store{opts: opts, series: make(map[metric.Key]*ring)}
}

// Ingest appends a sample to its key's series. Samples whose timestamp
// does not strictly advance the series, or whose value is not a finite
// non-negative number, are rejected with *RejectedSampleError.
func (s *Store) Ingest(sample metric.Sample) error {
	if !sample.Valid() {
		return &RejectedSampleError{Reason: RejectInvalidValue, Sample: sample}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[sample.Key]
	if !ok {
		r = newRing(s.opts.Capacity)
		s.series[sample.Key] = r
	}

	if last, ok := r.last(); ok && !sample.ObservedAt.After(last.ObservedAt) {
		return &RejectedSampleError{Reason: RejectOutOfOrder, Sample: sample}
	}

	r.push(sample)
	if s.opts.Retention > 0 {
		r.dropOlderThan(sample.ObservedAt.Add(-s.opts.Retention))
	}
	return nil
}

// Latest returns the most recent sample for key.
func (s *Store) Latest(key metric.Key) (metric.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok {
		return metric.Sample{}, false
	}
	return r.last()
}

// Query returns samples for key with from < ObservedAt <= to, oldest
// first. The half-open left boundary matches window aggregation so a
// sample sitting exactly on a window edge is counted once.
func (s *Store) Query(key metric.Key, from, to time.Time) []metric.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok {
		return nil
	}

	out := make([]metric.Sample, 0, r.len())
	r.scan(func(sample metric.Sample) {
		if sample.ObservedAt.After(from) && !sample.ObservedAt.After(to) {
			out = append(out, sample)
		}
	})
	return out
}

// Len reports how many samples are held for key.
func (s *Store) Len(key metric.Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok {
		return 0
	}
	return r.len()
}
