package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/aggregate"
	"l3-health-alerts/internal/metric"
)

// Status is the lifecycle position of one rule.
type Status string

const (
	// StatusOK means the threshold condition does not hold.
	StatusOK Status = "OK"
	// StatusBreached means the condition has held for at least the
	// rule's sustain duration.
	StatusBreached Status = "BREACHED"
	// StatusRecovered is held for exactly one evaluation after a breach
	// clears, so subscribers observe every recovery exactly once.
	StatusRecovered Status = "RECOVERED"
)

// Transition is one emitted state change.
type Transition struct {
	RuleID   string
	Key      metric.Key
	Severity Severity
	From     Status
	To       Status
	At       time.Time
	Value    float64
	Bound    float64
}

// AlertState is the externally visible state of one rule.
type AlertState struct {
	RuleID   string
	Key      metric.Key
	Severity Severity
	Status   Status
	Since    time.Time
	// Unevaluated marks a rule with no backing data yet. The status is
	// OK (absence is not breach) but presentation should render
	// "no data" rather than "healthy".
	Unevaluated bool
	LastValue   float64
}

// ValueSource supplies the values rules evaluate against. Implemented by
// the service over the series store and aggregator.
type ValueSource interface {
	Latest(key metric.Key) (metric.Sample, bool)
	Windowed(key metric.Key, spec aggregate.Spec, now time.Time) (float64, bool)
}

type ruleState struct {
	status      Status
	since       time.Time
	holdingFrom time.Time // zero while the condition is not holding
	unevaluated bool
	lastValue   float64
}

// Engine evaluates threshold rules against a value source and tracks
// per-rule alert state. Evaluation is serialized by the tick loop; the
// mutex only guards rule reloads and state snapshots against readers.
type Engine struct {
	mu     sync.Mutex
	source ValueSource
	logger zerolog.Logger
	rules  []Rule
	states map[string]*ruleState
}

// NewEngine constructs an engine for an already validated rule set.
func NewEngine(set []Rule, source ValueSource, logger zerolog.Logger) (*Engine, error) {
	if err := ValidateSet(set); err != nil {
		return nil, err
	}

	e := &Engine{
		source: source,
		logger: logger.With().Str("component", "rule_engine").Logger(),
		states: make(map[string]*ruleState, len(set)),
	}
	e.install(set)
	return e, nil
}

func (e *Engine) install(set []Rule) {
	e.rules = make([]Rule, len(set))
	copy(e.rules, set)

	kept := make(map[string]*ruleState, len(set))
	for i := range e.rules {
		id := e.rules[i].ID
		if st, ok := e.states[id]; ok {
			kept[id] = st
			continue
		}
		kept[id] = &ruleState{status: StatusOK, unevaluated: true}
	}
	e.states = kept
}

// SetRules swaps the rule set; it takes effect on the next evaluation.
// State survives for rules whose ID persists and is discarded for
// removed rules.
func (e *Engine) SetRules(set []Rule) error {
	if err := ValidateSet(set); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.install(set)
	e.logger.Info().Int("rules", len(set)).Msg("rule set reloaded")
	return nil
}

// Evaluate re-checks every rule as of now and returns the resulting
// transitions. Calling it again with the same now and no new data emits
// nothing: transitions fire once per state change, not per call.
func (e *Engine) Evaluate(now time.Time) []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Transition
	for i := range e.rules {
		rule := &e.rules[i]
		st := e.states[rule.ID]
		out = e.evaluateRule(rule, st, now, out)
	}
	return out
}

func (e *Engine) evaluateRule(rule *Rule, st *ruleState, now time.Time, out []Transition) []Transition {
	value, ok := e.resolve(rule, now)
	if !ok {
		st.unevaluated = true
		if st.status == StatusOK {
			st.holdingFrom = time.Time{}
			return out
		}
		// data disappeared under an active alert: treat as cleared
	}
	if ok {
		st.unevaluated = false
		st.lastValue = value
	}

	holds := ok && rule.Comparator.Holds(value, rule.Bound)

	if st.status == StatusRecovered {
		// transitional status: flips to OK on the first later evaluation
		if now.After(st.since) {
			out = append(out, e.transition(rule, st, StatusOK, now))
		} else {
			return out
		}
	}

	switch st.status {
	case StatusOK:
		if !holds {
			st.holdingFrom = time.Time{}
			return out
		}
		if st.holdingFrom.IsZero() {
			st.holdingFrom = now
		}
		if now.Sub(st.holdingFrom) >= rule.SustainedFor {
			out = append(out, e.transition(rule, st, StatusBreached, now))
		}
	case StatusBreached:
		if !holds {
			st.holdingFrom = time.Time{}
			out = append(out, e.transition(rule, st, StatusRecovered, now))
		}
	}
	return out
}

func (e *Engine) transition(rule *Rule, st *ruleState, to Status, now time.Time) Transition {
	tr := Transition{
		RuleID:   rule.ID,
		Key:      rule.Key,
		Severity: rule.Severity,
		From:     st.status,
		To:       to,
		At:       now,
		Value:    st.lastValue,
		Bound:    rule.Bound,
	}
	st.status = to
	st.since = now

	e.logger.Info().
		Str("rule", rule.ID).
		Str("key", string(rule.Key)).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Float64("value", tr.Value).
		Msg("alert transition")
	return tr
}

func (e *Engine) resolve(rule *Rule, now time.Time) (float64, bool) {
	if rule.Windowed() {
		return e.source.Windowed(rule.Key, aggregate.Spec{Kind: rule.Agg, Window: rule.Window}, now)
	}
	sample, ok := e.source.Latest(rule.Key)
	if !ok {
		return 0, false
	}
	return sample.Value, true
}

// States snapshots every rule's current alert state, ordered by rule ID.
func (e *Engine) States() []AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]AlertState, 0, len(e.rules))
	for i := range e.rules {
		rule := &e.rules[i]
		st := e.states[rule.ID]
		out = append(out, AlertState{
			RuleID:      rule.ID,
			Key:         rule.Key,
			Severity:    rule.Severity,
			Status:      st.status,
			Since:       st.since,
			Unevaluated: st.unevaluated,
			LastValue:   st.lastValue,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}
