package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/aggregate"
	"l3-health-alerts/internal/alerting"
	"l3-health-alerts/internal/config"
	"l3-health-alerts/internal/fetcher"
	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/rules"
	"l3-health-alerts/internal/scheduler"
	"l3-health-alerts/internal/series"
	"l3-health-alerts/internal/storage"
)

// Service orchestrates the ingestion cycle: fetch, ingest, aggregate,
// evaluate, publish. One tick executes as a unit; presentation readers
// only ever observe fully committed state.
type Service struct {
	scheduler  *scheduler.Scheduler
	sources    []fetcher.SampleSource
	store      *series.Store
	aggregator *aggregate.Aggregator
	engine     *rules.Engine
	dispatcher *alerting.Dispatcher
	archive    storage.SampleArchive
	alertLog   storage.AlertArchive
	logger     zerolog.Logger

	specs   []config.AggregateSpec
	locker  storage.AdvisoryLocker
	lockKey int64

	aggMu      sync.RWMutex
	aggregates map[aggKey]aggregate.Aggregate
}

type aggKey struct {
	key  metric.Key
	kind aggregate.Kind
}

// Options bundle the service's collaborators.
type Options struct {
	Scheduler  *scheduler.Scheduler
	Sources    []fetcher.SampleSource
	Store      *series.Store
	Aggregator *aggregate.Aggregator
	Engine     *rules.Engine
	Dispatcher *alerting.Dispatcher
	Archive    storage.SampleArchive
	AlertLog   storage.AlertArchive
	Locker     storage.AdvisoryLocker
	LockKey    int64
	Specs      []config.AggregateSpec
}

// New constructs the monitoring service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  opts.Scheduler,
		sources:    opts.Sources,
		store:      opts.Store,
		aggregator: opts.Aggregator,
		engine:     opts.Engine,
		dispatcher: opts.Dispatcher,
		archive:    opts.Archive,
		alertLog:   opts.AlertLog,
		locker:     opts.Locker,
		lockKey:    opts.LockKey,
		specs:      opts.Specs,
		logger:     logger.With().Str("component", "service").Logger(),
		aggregates: make(map[aggKey]aggregate.Aggregate),
	}
}

// Run begins the sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单个采样周期。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeTick(ctx, tick)
}

func (s *Service) executeTick(ctx context.Context, tick time.Time) error {
	now := time.Now().UTC()
	ingested := 0
	fetched := 0

	for _, source := range s.sources {
		samples, err := source.Fetch(ctx, now)
		if err != nil {
			// a failed fetch skips the source for this cycle and
			// leaves prior state intact
			s.logger.Error().Err(err).Str("source", source.Name()).Time("tick", tick).Msg("fetch failed, skipping source this cycle")
			continue
		}
		fetched += len(samples)
		ingested += s.ingest(samples)
	}

	s.recomputeAggregates(now)

	transitions := s.engine.Evaluate(now)
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, transitions)
	}
	s.archiveTransitions(ctx, transitions)

	s.logger.Info().
		Time("tick", tick).
		Int("fetched", fetched).
		Int("ingested", ingested).
		Int("transitions", len(transitions)).
		Msg("tick committed")
	return nil
}

// ingest feeds samples into the series store. Rejections are reported
// and dropped; the cycle continues with the remaining samples.
func (s *Service) ingest(samples []metric.Sample) int {
	accepted := 0
	for _, sample := range samples {
		if err := s.store.Ingest(sample); err != nil {
			var rejected *series.RejectedSampleError
			if errors.As(err, &rejected) {
				s.logger.Warn().
					Str("key", string(sample.Key)).
					Str("reason", string(rejected.Reason)).
					Float64("value", sample.Value).
					Msg("sample rejected")
				continue
			}
			s.logger.Error().Err(err).Str("key", string(sample.Key)).Msg("ingest failed")
			continue
		}
		accepted++
		s.archiveSample(sample)
	}
	return accepted
}

func (s *Service) archiveSample(sample metric.Sample) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	row := storage.SampleRow{Key: sample.Key, Value: sample.Value, ObservedAt: sample.ObservedAt}
	if err := s.archive.UpsertSample(ctx, row); err != nil {
		s.logger.Error().Err(err).Str("key", string(sample.Key)).Msg("failed to archive sample")
	}
}

func (s *Service) archiveTransitions(ctx context.Context, transitions []rules.Transition) {
	if s.alertLog == nil {
		return
	}
	for _, tr := range transitions {
		row := storage.AlertRow{
			RuleID:   tr.RuleID,
			Key:      tr.Key,
			Severity: tr.Severity,
			From:     tr.From,
			To:       tr.To,
			Value:    tr.Value,
			Bound:    tr.Bound,
			At:       tr.At,
		}
		if _, err := s.alertLog.InsertAlert(ctx, row); err != nil {
			s.logger.Error().Err(err).Str("rule", tr.RuleID).Msg("failed to archive alert transition")
		}
	}
}

func (s *Service) recomputeAggregates(now time.Time) {
	if s.aggregator == nil || len(s.specs) == 0 {
		return
	}

	next := make(map[aggKey]aggregate.Aggregate, len(s.specs))
	for _, spec := range s.specs {
		agg := s.aggregator.Compute(spec.Key, spec.Spec, now)
		next[aggKey{key: spec.Key, kind: spec.Spec.Kind}] = agg
	}

	s.aggMu.Lock()
	s.aggregates = next
	s.aggMu.Unlock()
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// Latest exposes the most recent sample for key. Read-only.
func (s *Service) Latest(key metric.Key) (metric.Sample, bool) {
	return s.store.Latest(key)
}

// Query exposes stored samples for key within (from, to]. Read-only.
func (s *Service) Query(key metric.Key, from, to time.Time) []metric.Sample {
	return s.store.Query(key, from, to)
}

// Compute derives a window aggregate on demand. Read-only.
func (s *Service) Compute(key metric.Key, spec aggregate.Spec, now time.Time) aggregate.Aggregate {
	return s.aggregator.Compute(key, spec, now)
}

// CurrentAlertStates snapshots every rule's alert state. Read-only.
func (s *Service) CurrentAlertStates() []rules.AlertState {
	return s.engine.States()
}

// Aggregates returns the last committed tick's derived windows.
func (s *Service) Aggregates() []aggregate.Aggregate {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()

	out := make([]aggregate.Aggregate, 0, len(s.aggregates))
	for _, agg := range s.aggregates {
		out = append(out, agg)
	}
	return out
}

// ValueSource adapts the series store and aggregator for rule
// evaluation. An undefined aggregate resolves to no value, leaving the
// rule unevaluated rather than comparing against zero.
type ValueSource struct {
	store      *series.Store
	aggregator *aggregate.Aggregator
}

// NewValueSource wires the store and aggregator into a rule value source.
func NewValueSource(store *series.Store, aggregator *aggregate.Aggregator) *ValueSource {
	return &ValueSource{store: store, aggregator: aggregator}
}

// Latest returns the most recent raw sample for key.
func (v *ValueSource) Latest(key metric.Key) (metric.Sample, bool) {
	return v.store.Latest(key)
}

// Windowed resolves a derived aggregate value for key.
func (v *ValueSource) Windowed(key metric.Key, spec aggregate.Spec, now time.Time) (float64, bool) {
	agg := v.aggregator.Compute(key, spec, now)
	return agg.Value, agg.Defined
}

var _ rules.ValueSource = (*ValueSource)(nil)
