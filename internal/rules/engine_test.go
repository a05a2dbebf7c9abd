package rules

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/aggregate"
	"l3-health-alerts/internal/metric"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves canned values so engine behaviour can be driven
// without a series store.
type fakeSource struct {
	latest   map[metric.Key]metric.Sample
	windowed map[metric.Key]float64
	defined  map[metric.Key]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		latest:   make(map[metric.Key]metric.Sample),
		windowed: make(map[metric.Key]float64),
		defined:  make(map[metric.Key]bool),
	}
}

func (f *fakeSource) set(key metric.Key, value float64, at time.Time) {
	f.latest[key] = metric.Sample{Key: key, Value: value, ObservedAt: at}
}

func (f *fakeSource) Latest(key metric.Key) (metric.Sample, bool) {
	s, ok := f.latest[key]
	return s, ok
}

func (f *fakeSource) Windowed(key metric.Key, _ aggregate.Spec, _ time.Time) (float64, bool) {
	return f.windowed[key], f.defined[key]
}

func newTestEngine(t *testing.T, set []Rule, source ValueSource) *Engine {
	t.Helper()
	engine, err := NewEngine(set, source, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func balanceRule(sustained time.Duration) Rule {
	return Rule{
		ID:           "sequencer-balance-floor",
		Key:          metric.KeySequencerBalance,
		Comparator:   CmpLT,
		Bound:        0.05,
		SustainedFor: sustained,
		Severity:     SeverityCritical,
	}
}

func TestImmediateBreachAndRecovery(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, []Rule{balanceRule(0)}, source)

	// balance below the floor: breach on the same tick
	source.set(metric.KeySequencerBalance, 0.02, t0)
	transitions := engine.Evaluate(t0)
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].From != StatusOK || transitions[0].To != StatusBreached {
		t.Fatalf("expected OK->BREACHED, got %s->%s", transitions[0].From, transitions[0].To)
	}
	if !transitions[0].At.Equal(t0) {
		t.Fatalf("breach should be stamped at t0")
	}

	// balance back above the floor: one RECOVERED transition
	t1 := t0.Add(time.Minute)
	source.set(metric.KeySequencerBalance, 0.10, t1)
	transitions = engine.Evaluate(t1)
	if len(transitions) != 1 || transitions[0].To != StatusRecovered {
		t.Fatalf("expected BREACHED->RECOVERED, got %+v", transitions)
	}

	// next tick with no new data: RECOVERED flips to OK
	t2 := t0.Add(2 * time.Minute)
	transitions = engine.Evaluate(t2)
	if len(transitions) != 1 || transitions[0].From != StatusRecovered || transitions[0].To != StatusOK {
		t.Fatalf("expected RECOVERED->OK, got %+v", transitions)
	}
}

func TestSustainedForDebouncesTransients(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, []Rule{balanceRule(5 * time.Minute)}, source)

	// momentary dip shorter than 5m must not breach
	source.set(metric.KeySequencerBalance, 0.02, t0)
	if got := engine.Evaluate(t0); len(got) != 0 {
		t.Fatalf("no transition expected at t0, got %+v", got)
	}
	if got := engine.Evaluate(t0.Add(2 * time.Minute)); len(got) != 0 {
		t.Fatalf("no transition expected at t0+2m, got %+v", got)
	}

	// dip clears: the debounce clock resets
	source.set(metric.KeySequencerBalance, 0.10, t0.Add(3*time.Minute))
	if got := engine.Evaluate(t0.Add(3 * time.Minute)); len(got) != 0 {
		t.Fatalf("no transition expected after clearing, got %+v", got)
	}

	// dip returns and holds for the full duration
	source.set(metric.KeySequencerBalance, 0.02, t0.Add(4*time.Minute))
	if got := engine.Evaluate(t0.Add(4 * time.Minute)); len(got) != 0 {
		t.Fatalf("debounce restart should not transition, got %+v", got)
	}
	if got := engine.Evaluate(t0.Add(8 * time.Minute)); len(got) != 0 {
		t.Fatalf("4m of holding is under the 5m sustain, got %+v", got)
	}

	transitions := engine.Evaluate(t0.Add(9 * time.Minute))
	if len(transitions) != 1 || transitions[0].To != StatusBreached {
		t.Fatalf("expected exactly one breach after 5m sustained, got %+v", transitions)
	}

	// still holding: no duplicate breach
	if got := engine.Evaluate(t0.Add(10 * time.Minute)); len(got) != 0 {
		t.Fatalf("breach must be emitted once, got %+v", got)
	}
}

func TestEvaluateIdempotentForSameInstant(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, []Rule{balanceRule(0)}, source)

	source.set(metric.KeySequencerBalance, 0.02, t0)
	if got := engine.Evaluate(t0); len(got) != 1 {
		t.Fatalf("expected breach, got %+v", got)
	}
	if got := engine.Evaluate(t0); len(got) != 0 {
		t.Fatalf("repeated evaluate must emit nothing, got %+v", got)
	}

	source.set(metric.KeySequencerBalance, 0.10, t0.Add(time.Minute))
	if got := engine.Evaluate(t0.Add(time.Minute)); len(got) != 1 {
		t.Fatalf("expected recovery, got %+v", got)
	}
	// RECOVERED must not flip to OK within the same instant
	if got := engine.Evaluate(t0.Add(time.Minute)); len(got) != 0 {
		t.Fatalf("repeated evaluate at recovery instant must emit nothing, got %+v", got)
	}
}

func TestRecoveryObservedExactlyOnce(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, []Rule{balanceRule(0)}, source)

	var all []Transition
	step := func(at time.Time, value float64) {
		source.set(metric.KeySequencerBalance, value, at)
		all = append(all, engine.Evaluate(at)...)
	}

	step(t0, 0.02)
	step(t0.Add(1*time.Minute), 0.10)
	all = append(all, engine.Evaluate(t0.Add(2*time.Minute))...)
	step(t0.Add(3*time.Minute), 0.01)
	step(t0.Add(4*time.Minute), 0.20)
	all = append(all, engine.Evaluate(t0.Add(5*time.Minute))...)

	recovered := 0
	for i, tr := range all {
		if tr.To == StatusRecovered {
			recovered++
			if i+1 >= len(all) || all[i+1].From != StatusRecovered || all[i+1].To != StatusOK {
				t.Fatalf("every RECOVERED must be followed by RECOVERED->OK: %+v", all)
			}
		}
		if tr.From == StatusBreached && tr.To == StatusOK {
			t.Fatalf("BREACHED->OK must pass through RECOVERED: %+v", all)
		}
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recoveries, got %d: %+v", recovered, all)
	}
}

func TestMissingDataStaysOKButUnevaluated(t *testing.T) {
	source := newFakeSource()
	engine := newTestEngine(t, []Rule{balanceRule(0)}, source)

	if got := engine.Evaluate(t0); len(got) != 0 {
		t.Fatalf("absence of data is not a breach, got %+v", got)
	}

	states := engine.States()
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	if states[0].Status != StatusOK || !states[0].Unevaluated {
		t.Fatalf("expected OK+unevaluated, got %+v", states[0])
	}

	// once data arrives the flag clears
	source.set(metric.KeySequencerBalance, 1.0, t0.Add(time.Minute))
	engine.Evaluate(t0.Add(time.Minute))
	if engine.States()[0].Unevaluated {
		t.Fatal("unevaluated flag should clear once data exists")
	}
}

func TestWindowedRuleUndefinedAggregateStaysUnevaluated(t *testing.T) {
	rule := Rule{
		ID:           "no-new-blocks",
		Key:          metric.KeyBlockHeight,
		Comparator:   CmpGE,
		Bound:        300,
		SustainedFor: 0,
		Severity:     SeverityCritical,
		Agg:          aggregate.KindStaleSeconds,
	}

	source := newFakeSource()
	engine := newTestEngine(t, []Rule{rule}, source)

	if got := engine.Evaluate(t0); len(got) != 0 {
		t.Fatalf("undefined aggregate should not transition, got %+v", got)
	}
	if !engine.States()[0].Unevaluated {
		t.Fatal("undefined aggregate should leave the rule unevaluated")
	}

	// the block gap crosses the bound
	source.windowed[metric.KeyBlockHeight] = 301
	source.defined[metric.KeyBlockHeight] = true
	transitions := engine.Evaluate(t0.Add(5 * time.Minute))
	if len(transitions) != 1 || transitions[0].To != StatusBreached {
		t.Fatalf("expected breach on stale blocks, got %+v", transitions)
	}
}

func TestSetRulesKeepsAndDiscardsState(t *testing.T) {
	source := newFakeSource()
	keep := balanceRule(0)
	drop := Rule{
		ID:         "gas-spike",
		Key:        metric.KeyGasPriceGwei,
		Comparator: CmpGT,
		Bound:      500,
		Severity:   SeverityWarning,
	}
	engine := newTestEngine(t, []Rule{keep, drop}, source)

	source.set(metric.KeySequencerBalance, 0.02, t0)
	source.set(metric.KeyGasPriceGwei, 600, t0)
	if got := engine.Evaluate(t0); len(got) != 2 {
		t.Fatalf("both rules should breach, got %+v", got)
	}

	// reload with only the balance rule
	if err := engine.SetRules([]Rule{keep}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	states := engine.States()
	if len(states) != 1 || states[0].RuleID != keep.ID {
		t.Fatalf("dropped rule state should be discarded: %+v", states)
	}
	if states[0].Status != StatusBreached {
		t.Fatalf("kept rule state must survive reload, got %s", states[0].Status)
	}

	// re-adding the dropped rule starts fresh
	if err := engine.SetRules([]Rule{keep, drop}); err != nil {
		t.Fatalf("SetRules: %v", err)
	}
	for _, st := range engine.States() {
		if st.RuleID == drop.ID && st.Status != StatusOK {
			t.Fatalf("re-added rule should start OK, got %s", st.Status)
		}
	}
}

func TestValidationRejectsMalformedRules(t *testing.T) {
	source := newFakeSource()

	cases := []struct {
		name string
		rule Rule
	}{
		{"unknown key", Rule{ID: "x", Key: "bogus", Comparator: CmpLT, Severity: SeverityInfo}},
		{"unknown comparator", Rule{ID: "x", Key: metric.KeyTxCount, Comparator: "==", Severity: SeverityInfo}},
		{"unknown aggregate", Rule{ID: "x", Key: metric.KeyTxCount, Comparator: CmpLT, Severity: SeverityInfo, Agg: "median", Window: time.Hour}},
		{"missing window", Rule{ID: "x", Key: metric.KeyTxCount, Comparator: CmpLT, Severity: SeverityInfo, Agg: aggregate.KindTPS}},
		{"empty id", Rule{Key: metric.KeyTxCount, Comparator: CmpLT, Severity: SeverityInfo}},
		{"negative sustain", Rule{ID: "x", Key: metric.KeyTxCount, Comparator: CmpLT, Severity: SeverityInfo, SustainedFor: -time.Second}},
	}

	for _, tc := range cases {
		if _, err := NewEngine([]Rule{tc.rule}, source, zerolog.Nop()); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	dup := balanceRule(0)
	if _, err := NewEngine([]Rule{dup, dup}, source, zerolog.Nop()); err == nil {
		t.Fatal("duplicate rule ids must be rejected")
	}
}
