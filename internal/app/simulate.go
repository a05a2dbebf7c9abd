package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"l3-health-alerts/internal/fetcher"
	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/service"
)

// SimulateAlert 通过一条静态样本驱动完整的采样-评估-告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	key, err := metric.ParseKey(opts.Key)
	if err != nil {
		return err
	}

	dispatcher := a.newDispatcher()
	if dispatcher == nil {
		return errors.New("未配置任何告警通道")
	}

	seriesStore, aggregator, engine, err := a.newCore()
	if err != nil {
		return err
	}

	svc := service.New(service.Options{
		Sources:    []fetcher.SampleSource{&staticSource{key: key, value: opts.Value}},
		Store:      seriesStore,
		Aggregator: aggregator,
		Engine:     engine,
		Dispatcher: dispatcher,
		Specs:      a.Config.AggregateSpecs(),
	}, a.Logger)

	tick := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	if err := svc.ProcessTick(ctx, tick); err != nil {
		return err
	}

	for _, state := range svc.CurrentAlertStates() {
		status := string(state.Status)
		if state.Unevaluated {
			status += " (no data)"
		}
		fmt.Printf("%s\t%s\t%s\n", state.RuleID, state.Key, status)
	}
	return nil
}

// staticSource yields one fixed sample, used to exercise the alert
// pipeline without touching a live chain.
type staticSource struct {
	key   metric.Key
	value float64
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Fetch(_ context.Context, now time.Time) ([]metric.Sample, error) {
	return []metric.Sample{{Key: s.key, Value: s.value, ObservedAt: now}}, nil
}

var _ fetcher.SampleSource = (*staticSource)(nil)
