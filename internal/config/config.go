package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"l3-health-alerts/internal/aggregate"
	"l3-health-alerts/internal/logging"
	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/rules"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Logging    logging.Config    `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Chain      ChainConfig       `mapstructure:"chain"`
	Indexer    IndexerConfig     `mapstructure:"indexer"`
	Series     SeriesConfig      `mapstructure:"series"`
	Aggregates []AggregateConfig `mapstructure:"aggregates"`
	Rules      []RuleConfig      `mapstructure:"rules"`
	Alerting   AlertingConfig    `mapstructure:"alerting"`
	Export     ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the optional
// sample/alert archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig covers on-chain data access.
type ChainConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	SequencerAddress string        `mapstructure:"sequencer_address"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// IndexerConfig captures the protocol indexer API connectivity.
type IndexerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SeriesConfig bounds the in-memory time series.
type SeriesConfig struct {
	Capacity  int           `mapstructure:"capacity"`
	Retention time.Duration `mapstructure:"retention"`
}

// AggregateConfig requests a derived window published on every tick.
type AggregateConfig struct {
	Key    string        `mapstructure:"key"`
	Kind   string        `mapstructure:"kind"`
	Window time.Duration `mapstructure:"window"`
}

// RuleConfig is one operator-defined threshold rule.
type RuleConfig struct {
	ID           string        `mapstructure:"id"`
	Key          string        `mapstructure:"key"`
	Comparator   string        `mapstructure:"comparator"`
	Bound        float64       `mapstructure:"bound"`
	SustainedFor time.Duration `mapstructure:"sustained_for"`
	Severity     string        `mapstructure:"severity"`
	Window       time.Duration `mapstructure:"window"`
	Agg          string        `mapstructure:"agg"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("L3WATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "l3watch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6c337761))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("chain.rpc_url", "https://nova.arbitrum.io/rpc")
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("indexer.enabled", false)
	v.SetDefault("indexer.request_timeout", "10s")
	v.SetDefault("indexer.user_agent", "l3watch/1.0")

	v.SetDefault("series.capacity", 2880)
	v.SetDefault("series.retention", "24h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on configuration values. Malformed
// static configuration, including rules referencing unknown metric
// keys, is rejected here rather than silently ignored at evaluation.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Series.Capacity <= 0 {
		return fmt.Errorf("series.capacity must be greater than zero")
	}
	if c.Series.Retention < 0 {
		return fmt.Errorf("series.retention cannot be negative")
	}

	for i := range c.Aggregates {
		if _, err := metric.ParseKey(c.Aggregates[i].Key); err != nil {
			return fmt.Errorf("aggregates[%d]: %w", i, err)
		}
		kind, err := aggregate.ParseKind(c.Aggregates[i].Kind)
		if err != nil {
			return fmt.Errorf("aggregates[%d]: %w", i, err)
		}
		if kind != aggregate.KindStaleSeconds && c.Aggregates[i].Window <= 0 {
			return fmt.Errorf("aggregates[%d]: window must be greater than zero", i)
		}
	}

	if _, err := c.RuleSet(); err != nil {
		return err
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// RuleSet converts configured rules into validated engine rules.
func (c *Config) RuleSet() ([]rules.Rule, error) {
	set := make([]rules.Rule, 0, len(c.Rules))
	for i := range c.Rules {
		rc := &c.Rules[i]

		severity, err := rules.ParseSeverity(rc.Severity)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}

		rule := rules.Rule{
			ID:           rc.ID,
			Key:          metric.Key(rc.Key),
			Comparator:   rules.Comparator(rc.Comparator),
			Bound:        rc.Bound,
			SustainedFor: rc.SustainedFor,
			Severity:     severity,
			Window:       rc.Window,
			Agg:          aggregate.Kind(rc.Agg),
		}
		set = append(set, rule)
	}
	if err := rules.ValidateSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

// AggregateSpecs converts configured aggregates into engine specs.
func (c *Config) AggregateSpecs() []AggregateSpec {
	specs := make([]AggregateSpec, 0, len(c.Aggregates))
	for i := range c.Aggregates {
		specs = append(specs, AggregateSpec{
			Key:  metric.Key(c.Aggregates[i].Key),
			Spec: aggregate.Spec{Kind: aggregate.Kind(c.Aggregates[i].Kind), Window: c.Aggregates[i].Window},
		})
	}
	return specs
}

// AggregateSpec pairs a metric key with the window computed for it.
type AggregateSpec struct {
	Key  metric.Key
	Spec aggregate.Spec
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
