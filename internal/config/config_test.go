package config

import (
	"strings"
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Interval: 30 * time.Second},
		Series:    SeriesConfig{Capacity: 100, Retention: 24 * time.Hour},
		Export:    ExportConfig{MaxDataPoints: 1000},
	}
}

func TestValidateAcceptsWellFormedRules(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = []RuleConfig{
		{ID: "balance-floor", Key: "sequencer_balance", Comparator: "<", Bound: 1.0, Severity: "critical"},
		{ID: "chain-stalled", Key: "block_height", Comparator: ">=", Bound: 300, Agg: "stale_seconds", Severity: "critical"},
		{ID: "low-tps", Key: "tx_count", Comparator: "<", Bound: 0.1, Agg: "tps", Window: 5 * time.Minute, SustainedFor: 2 * time.Minute},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	set, err := cfg.RuleSet()
	if err != nil {
		t.Fatalf("RuleSet: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(set))
	}
	if set[1].Severity != "critical" || !set[1].Windowed() {
		t.Fatalf("stale_seconds rule should be windowed and critical, got %+v", set[1])
	}
}

func TestValidateRejectsUnknownRuleKey(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = []RuleConfig{{ID: "bad", Key: "no_such_metric", Comparator: "<", Bound: 1}}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "no_such_metric") {
		t.Fatalf("expected unknown-key error, got %v", err)
	}
}

func TestValidateRejectsDuplicateRuleIDs(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules = []RuleConfig{
		{ID: "dup", Key: "peer_count", Comparator: "<", Bound: 1},
		{ID: "dup", Key: "gas_price_gwei", Comparator: ">", Bound: 50},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate-id error")
	}
}

func TestValidateRejectsBadAggregate(t *testing.T) {
	cfg := baseConfig()
	cfg.Aggregates = []AggregateConfig{{Key: "tx_count", Kind: "median", Window: time.Minute}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown-kind error")
	}

	cfg.Aggregates = []AggregateConfig{{Key: "tx_count", Kind: "tps"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing-window error")
	}
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	cfg := baseConfig()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for telegram without credentials")
	}
	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = "chat"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := baseConfig()
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("default should win, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("override should win, got %d", got)
	}
}
