package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"l3-health-alerts/internal/rules"
)

// Notifier 定义告警事件的输送接口。The engine guarantees each transition
// is handed over exactly once; delivery retries are the notifier's own
// concern.
type Notifier interface {
	Notify(ctx context.Context, transition rules.Transition) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, tr rules.Transition) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(tr),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().
		Str("rule", tr.RuleID).
		Str("to", string(tr.To)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(tr rules.Transition) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[L3 Health %s]\n", tr.To))
	builder.WriteString(fmt.Sprintf("Rule: %s (%s)\n", tr.RuleID, tr.Severity))
	builder.WriteString(fmt.Sprintf("Metric: %s\n", tr.Key))
	builder.WriteString(fmt.Sprintf("Status: %s -> %s\n", tr.From, tr.To))
	builder.WriteString(fmt.Sprintf("Value: %s (bound %s)\n",
		decimal.NewFromFloat(tr.Value).StringFixed(4),
		decimal.NewFromFloat(tr.Bound).StringFixed(4)))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", tr.At.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
