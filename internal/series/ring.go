package series

import (
	"time"

	"l3-health-alerts/internal/metric"
)

// ring is a fixed-capacity circular buffer of samples ordered by time.
// push evicts the oldest entry when full, so inserts stay O(1).
type ring struct {
	buf   []metric.Sample
	head  int // index of oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]metric.Sample, capacity)}
}

func (r *ring) len() int { return r.count }

func (r *ring) push(s metric.Sample) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	// full: overwrite the oldest slot
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) last() (metric.Sample, bool) {
	if r.count == 0 {
		return metric.Sample{}, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// dropOlderThan evicts leading entries strictly older than cutoff.
func (r *ring) dropOlderThan(cutoff time.Time) {
	for r.count > 0 {
		oldest := r.buf[r.head]
		if !oldest.ObservedAt.Before(cutoff) {
			return
		}
		r.buf[r.head] = metric.Sample{}
		r.head = (r.head + 1) % len(r.buf)
		r.count--
	}
}

// scan visits every stored sample oldest first.
func (r *ring) scan(fn func(metric.Sample)) {
	for i := 0; i < r.count; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}
