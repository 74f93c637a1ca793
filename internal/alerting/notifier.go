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

	"swap-triggers/internal/trigger"
)

// Notification 封装一次已完成执行的摘要。
type Notification struct {
	Owner         string
	TriggerID     string
	Symbol        string
	Side          trigger.Side
	Amount        decimal.Decimal
	ObservedPrice decimal.Decimal
	TxReference   string
	ExecutedAt    time.Time
}

// Notifier 定义执行结果的通知接口。调用方忽略返回的错误。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
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
		logger:   logger.With().Str("component", "notifier_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		Str("trigger_id", note.TriggerID).
		Str("symbol", note.Symbol).
		Str("tx", note.TxReference).
		Msg("执行通知已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	action := fmt.Sprintf("BUY %s for %s (quote currency)", note.Symbol, note.Amount.String())
	if note.Side == trigger.SideSell {
		action = fmt.Sprintf("SELL %s %s", note.Amount.String(), note.Symbol)
	}

	builder := strings.Builder{}
	builder.WriteString("[Swap Trigger Executed]\n")
	builder.WriteString(fmt.Sprintf("Trigger: %s\n", note.TriggerID))
	builder.WriteString(fmt.Sprintf("Action: %s\n", action))
	builder.WriteString(fmt.Sprintf("Observed price: %s\n", note.ObservedPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Tx: %s\n", note.TxReference))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.ExecutedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
