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

	"market-watchdog/internal/registry"
	"market-watchdog/internal/watcherr"
)

// Notification 封装一次波动告警的上下文。
type Notification struct {
	Symbol       string
	Name         string
	Price        decimal.Decimal
	PriorPrice   decimal.Decimal
	Change       decimal.Decimal
	Threshold    decimal.Decimal
	Level        registry.Level
	Analysis     string
	DeepAnalysis string
	TriggeredAt  time.Time
	Channels     []string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
	SendReport(ctx context.Context, title, body string) error
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

// Notify 调用 sendMessage API 推送告警文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.send(ctx, renderMessage(note)); err != nil {
		return watcherr.New(watcherr.KindDelivery, err)
	}

	n.logger.Info().Time("triggered_at", note.TriggeredAt).
		Str("symbol", note.Symbol).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// SendReport 推送摘要类消息（每日复盘等）。
func (n *TelegramNotifier) SendReport(ctx context.Context, title, body string) error {
	text := body
	if title != "" {
		text = title + "\n" + strings.Repeat("—", 12) + "\n" + body
	}
	if err := n.send(ctx, text); err != nil {
		return watcherr.New(watcherr.KindDelivery, err)
	}
	n.logger.Info().Str("title", title).Msg("报告已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
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
	return nil
}

func renderMessage(note Notification) string {
	marker := "🟢"
	direction := "up"
	if note.Change.IsNegative() {
		marker = "🔴"
		direction = "down"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s volatility alert\n", marker, note.Name))
	builder.WriteString(fmt.Sprintf("Symbol: %s\n", note.Symbol))
	builder.WriteString(fmt.Sprintf("Price: %s (was %s)\n", note.Price.String(), note.PriorPrice.String()))
	builder.WriteString(fmt.Sprintf("Move: %s%% %s (threshold %s%%)\n",
		note.Change.Mul(decimal.NewFromInt(100)).StringFixed(2),
		direction,
		note.Threshold.Mul(decimal.NewFromInt(100)).StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Level: %s\n", levelBadge(note.Level)))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.TriggeredAt.UTC().Format(time.RFC3339)))

	if note.Analysis != "" {
		builder.WriteString("\n🤖 Triage:\n")
		builder.WriteString(note.Analysis)
		builder.WriteString("\n")
	}
	if note.DeepAnalysis != "" {
		builder.WriteString("\n📊 Research note:\n")
		builder.WriteString(note.DeepAnalysis)
		builder.WriteString("\n")
	}

	builder.WriteString("\n⚠️ Markets carry risk; decide for yourself.")
	return builder.String()
}

func levelBadge(level registry.Level) string {
	switch level {
	case registry.LevelHigh:
		return "🔴 high"
	case registry.LevelMedium:
		return "🟡 medium"
	case registry.LevelLow:
		return "🟢 low"
	}
	return string(level)
}

var _ Notifier = (*TelegramNotifier)(nil)
