package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/rules"
)

// Dispatcher fans transitions out to every configured notifier. A
// failing channel is logged and does not block the others, and never
// fails the tick.
type Dispatcher struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewDispatcher wires a set of notifiers.
func NewDispatcher(notifiers []Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Dispatch delivers each transition to every notifier.
func (d *Dispatcher) Dispatch(ctx context.Context, transitions []rules.Transition) {
	for _, tr := range transitions {
		for _, n := range d.notifiers {
			if err := n.Notify(ctx, tr); err != nil {
				d.logger.Error().Err(err).Str("rule", tr.RuleID).Msg("failed to dispatch alert")
			}
		}
	}
}

// LogNotifier 仅把告警写入日志，作为兜底通道。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs the log-only channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify writes the transition to the log.
func (n *LogNotifier) Notify(_ context.Context, tr rules.Transition) error {
	n.logger.Warn().
		Str("rule", tr.RuleID).
		Str("key", string(tr.Key)).
		Str("severity", string(tr.Severity)).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Float64("value", tr.Value).
		Float64("bound", tr.Bound).
		Time("at", tr.At).
		Msg("alert transition")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
