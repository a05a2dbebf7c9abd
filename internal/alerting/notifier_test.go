package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"l3-health-alerts/internal/metric"
	"l3-health-alerts/internal/rules"
)

func testTransition() rules.Transition {
	return rules.Transition{
		RuleID:   "sequencer-balance-floor",
		Key:      metric.KeySequencerBalance,
		Severity: rules.SeverityCritical,
		From:     rules.StatusOK,
		To:       rules.StatusBreached,
		At:       time.Now(),
		Value:    0.02,
		Bound:    0.05,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testTransition()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "sequencer-balance-floor") {
		t.Fatalf("text 应包含规则 ID: %q", received["text"])
	}
	if !strings.Contains(received["text"], "OK -> BREACHED") {
		t.Fatalf("text 应包含状态迁移: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testTransition()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestDispatcherContinuesOnFailure(t *testing.T) {
	failing := notifierFunc(func(ctx context.Context, tr rules.Transition) error {
		return context.DeadlineExceeded
	})

	delivered := 0
	counting := notifierFunc(func(ctx context.Context, tr rules.Transition) error {
		delivered++
		return nil
	})

	d := NewDispatcher([]Notifier{failing, counting}, testLogger())
	d.Dispatch(context.Background(), []rules.Transition{testTransition(), testTransition()})

	if delivered != 2 {
		t.Fatalf("second channel should receive every transition, got %d", delivered)
	}
}

type notifierFunc func(ctx context.Context, tr rules.Transition) error

func (f notifierFunc) Notify(ctx context.Context, tr rules.Transition) error { return f(ctx, tr) }

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
