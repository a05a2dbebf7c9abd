package series

import (
	"errors"
	"math"
	"testing"
	"time"

	"l3-health-alerts/internal/metric"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(offset time.Duration, value float64) metric.Sample {
	return metric.Sample{Key: metric.KeyBlockHeight, Value: value, ObservedAt: t0.Add(offset)}
}

func TestIngestKeepsOrder(t *testing.T) {
	store := NewStore(Options{Capacity: 10})

	for i := 0; i < 5; i++ {
		if err := store.Ingest(sampleAt(time.Duration(i)*time.Minute, float64(100+i))); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	samples := store.Query(metric.KeyBlockHeight, time.Time{}, t0.Add(time.Hour))
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if !samples[i].ObservedAt.After(samples[i-1].ObservedAt) {
			t.Fatalf("samples out of order at %d", i)
		}
	}
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	store := NewStore(Options{Capacity: 10})

	if err := store.Ingest(sampleAt(5*time.Minute, 105)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	err := store.Ingest(sampleAt(3*time.Minute, 103))
	var rejected *RejectedSampleError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedSampleError, got %v", err)
	}
	if rejected.Reason != RejectOutOfOrder {
		t.Fatalf("expected out_of_order, got %s", rejected.Reason)
	}

	// equal timestamps are also rejected
	if err := store.Ingest(sampleAt(5*time.Minute, 106)); err == nil {
		t.Fatal("equal timestamp should be rejected")
	}

	// a rejection leaves the store unchanged
	if got := store.Len(metric.KeyBlockHeight); got != 1 {
		t.Fatalf("store should hold 1 sample, got %d", got)
	}
	latest, ok := store.Latest(metric.KeyBlockHeight)
	if !ok || latest.Value != 105 {
		t.Fatalf("latest should still be 105, got %v", latest.Value)
	}
}

func TestIngestRejectsInvalidValues(t *testing.T) {
	store := NewStore(Options{Capacity: 10})

	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1} {
		err := store.Ingest(metric.Sample{Key: metric.KeyTxCount, Value: value, ObservedAt: t0})
		var rejected *RejectedSampleError
		if !errors.As(err, &rejected) {
			t.Fatalf("value %v: expected RejectedSampleError, got %v", value, err)
		}
		if rejected.Reason != RejectInvalidValue {
			t.Fatalf("value %v: expected invalid_value, got %s", value, rejected.Reason)
		}
	}

	if got := store.Len(metric.KeyTxCount); got != 0 {
		t.Fatalf("store should be empty after rejections, got %d", got)
	}
}

func TestRetentionCapEvictsOldest(t *testing.T) {
	const capacity = 4
	store := NewStore(Options{Capacity: capacity})

	for i := 0; i < 10; i++ {
		if err := store.Ingest(sampleAt(time.Duration(i)*time.Minute, float64(i))); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	if got := store.Len(metric.KeyBlockHeight); got != capacity {
		t.Fatalf("expected exactly %d entries, got %d", capacity, got)
	}

	samples := store.Query(metric.KeyBlockHeight, time.Time{}, t0.Add(time.Hour))
	if samples[0].Value != 6 || samples[len(samples)-1].Value != 9 {
		t.Fatalf("expected the %d most recent samples, got first=%v last=%v", capacity, samples[0].Value, samples[len(samples)-1].Value)
	}
}

func TestRetentionDurationEvicts(t *testing.T) {
	store := NewStore(Options{Capacity: 100, Retention: 10 * time.Minute})

	for i := 0; i < 20; i++ {
		if err := store.Ingest(sampleAt(time.Duration(i)*time.Minute, float64(i))); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	samples := store.Query(metric.KeyBlockHeight, time.Time{}, t0.Add(time.Hour))
	for _, s := range samples {
		if s.ObservedAt.Before(t0.Add(9 * time.Minute)) {
			t.Fatalf("sample at %s should have been evicted", s.ObservedAt)
		}
	}
}

func TestQueryHalfOpenBoundary(t *testing.T) {
	store := NewStore(Options{Capacity: 10})
	for i := 0; i < 4; i++ {
		if err := store.Ingest(sampleAt(time.Duration(i)*time.Minute, float64(i))); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	// (t0+1m, t0+3m]: excludes the sample exactly at the left edge
	got := store.Query(metric.KeyBlockHeight, t0.Add(time.Minute), t0.Add(3*time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Value != 2 || got[1].Value != 3 {
		t.Fatalf("unexpected window contents: %v, %v", got[0].Value, got[1].Value)
	}
}

func TestLatestUnknownKey(t *testing.T) {
	store := NewStore(Options{Capacity: 10})
	if _, ok := store.Latest(metric.KeyProtocolTVL); ok {
		t.Fatal("latest for an unseen key should report no sample")
	}
}
