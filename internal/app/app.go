package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/aggregate"
	"l3-health-alerts/internal/alerting"
	"l3-health-alerts/internal/config"
	"l3-health-alerts/internal/fetcher"
	"l3-health-alerts/internal/rules"
	"l3-health-alerts/internal/scheduler"
	"l3-health-alerts/internal/series"
	"l3-health-alerts/internal/service"
	"l3-health-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources() []fetcher.SampleSource {
	sources := []fetcher.SampleSource{
		fetcher.NewChain(fetcher.ChainOptions{
			RPCURL:           a.Config.Chain.RPCURL,
			SequencerAddress: a.Config.Chain.SequencerAddress,
			Timeout:          a.Config.Chain.RequestTimeout,
		}, a.Logger),
	}

	if a.Config.Indexer.Enabled {
		sources = append(sources, fetcher.NewIndexer(fetcher.IndexerOptions{
			BaseURL:   a.Config.Indexer.BaseURL,
			Timeout:   a.Config.Indexer.RequestTimeout,
			UserAgent: a.Config.Indexer.UserAgent,
		}, a.Logger))
	}

	return sources
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifiers []alerting.Notifier
	for _, channel := range a.Config.Alerting.Channels {
		switch channel {
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		case "telegram":
			if a.Config.Alerting.Telegram.Enabled {
				cfg := a.Config.Alerting.Telegram
				notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
			}
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewDispatcher(notifiers, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newCore builds the in-memory engine stack: series store, aggregator,
// and rule engine.
func (a *App) newCore() (*series.Store, *aggregate.Aggregator, *rules.Engine, error) {
	seriesStore := series.NewStore(series.Options{
		Capacity:  a.Config.Series.Capacity,
		Retention: a.Config.Series.Retention,
	})
	aggregator := aggregate.New(seriesStore, a.Config.Scheduler.Interval)

	ruleSet, err := a.Config.RuleSet()
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := rules.NewEngine(ruleSet, service.NewValueSource(seriesStore, aggregator), a.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return seriesStore, aggregator, engine, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; sample archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	seriesStore, aggregator, engine, err := a.newCore()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var archive storage.SampleArchive
	var alertLog storage.AlertArchive
	var locker storage.AdvisoryLocker
	if store != nil {
		archive = store
		alertLog = store
		locker = store
	}

	svc := service.New(service.Options{
		Scheduler:  sched,
		Sources:    a.newSources(),
		Store:      seriesStore,
		Aggregator: aggregator,
		Engine:     engine,
		Dispatcher: a.newDispatcher(),
		Archive:    archive,
		AlertLog:   alertLog,
		Locker:     locker,
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
		Specs:      a.Config.AggregateSpecs(),
	}, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived samples.
type ExportOptions struct {
	Key       string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	FromBlock uint64
	ToBlock   uint64
	DryRun    bool
}

// SimulateOptions configure the alert pipeline dry run.
type SimulateOptions struct {
	Key   string
	Value float64
}
