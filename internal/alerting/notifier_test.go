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
	"github.com/shopspring/decimal"

	"swap-triggers/internal/trigger"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleNotification() Notification {
	return Notification{
		Owner:         "0xowner",
		TriggerID:     "trig-1",
		Symbol:        "ETH",
		Side:          trigger.SideSell,
		Amount:        decimal.NewFromFloat(1.5),
		ObservedPrice: decimal.NewFromFloat(3120.5),
		TxReference:   "0xuid1234",
		ExecutedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotify(t *testing.T) {
	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken123/sendMessage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token123", "chat42", server.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("通知发送失败: %v", err)
	}

	if captured["chat_id"] != "chat42" {
		t.Fatalf("unexpected chat_id %q", captured["chat_id"])
	}
	text := captured["text"]
	for _, want := range []string{"trig-1", "SELL 1.5 ETH", "3120.50", "0xuid1234"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息中缺少 %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifyRejectsNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false 应返回错误")
	}
}

func TestTelegramNotifyRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("非 2xx 响应应返回错误")
	}
}

func TestRenderMessageBuySide(t *testing.T) {
	note := sampleNotification()
	note.Side = trigger.SideBuy
	note.Amount = decimal.NewFromInt(500)

	text := renderMessage(note)
	if !strings.Contains(text, "BUY ETH for 500 (quote currency)") {
		t.Fatalf("买入消息格式不对:\n%s", text)
	}
}
