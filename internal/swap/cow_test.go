package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swap-triggers/internal/trigger"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

const (
	wethAddr = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddr = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func testCow(t *testing.T, baseURL string) *Cow {
	t.Helper()
	return NewCow(CowOptions{
		BaseURL:      baseURL,
		QuoteToken:   usdcAddr,
		Tokens:       map[string]string{"ETH": wethAddr},
		PollInterval: 5 * time.Millisecond,
	}, noopLogger())
}

// cowServer mimics the order book: quote, place, then a scripted sequence of
// order statuses.
func cowServer(t *testing.T, statuses []string) (*httptest.Server, *int32) {
	t.Helper()
	var lookups int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == cowQuotePath:
			var req quoteRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode quote request: %v", err)
			}
			if req.Kind != "sell" {
				t.Errorf("quote kind should be sell, got %q", req.Kind)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"quote": map[string]interface{}{
					"sellToken":  req.SellToken,
					"buyToken":   req.BuyToken,
					"sellAmount": req.SellAmountBeforeFee,
					"buyAmount":  "123456",
					"feeAmount":  "100",
					"validTo":    req.ValidTo,
				},
				"id": 77,
			})
		case r.URL.Path == cowOrdersPath && r.Method == http.MethodPost:
			var req orderRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode order request: %v", err)
			}
			if req.SigningScheme != "presign" || req.Signature != "0x" {
				t.Errorf("order should be presign with empty signature: %+v", req)
			}
			json.NewEncoder(w).Encode("0xuid1234")
		case strings.HasPrefix(r.URL.Path, cowOrdersPath+"/"):
			i := int(atomic.AddInt32(&lookups, 1)) - 1
			if i >= len(statuses) {
				i = len(statuses) - 1
			}
			fmt.Fprintf(w, `{"status":%q}`, statuses[i])
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	return server, &lookups
}

func TestSettleFulfilledOrder(t *testing.T) {
	server, _ := cowServer(t, []string{"open", "fulfilled"})
	defer server.Close()

	cow := testCow(t, server.URL)
	uid, err := cow.Settle(context.Background(), "0xowner", trigger.SideSell, decimal.NewFromFloat(1.5), "ETH")
	if err != nil {
		t.Fatal(err)
	}
	if uid != "0xuid1234" {
		t.Fatalf("应返回订单 UID, 实际 %q", uid)
	}
}

func TestSettleExpiredOrderIsLiquidityFailure(t *testing.T) {
	server, _ := cowServer(t, []string{"open", "expired"})
	defer server.Close()

	cow := testCow(t, server.URL)
	_, err := cow.Settle(context.Background(), "0xowner", trigger.SideSell, decimal.NewFromInt(1), "ETH")
	if got := KindOf(err); got != KindLiquidity {
		t.Fatalf("过期订单应归类为 liquidity, 实际 %s (%v)", got, err)
	}
}

func TestSettleCancelledOrderIsRejected(t *testing.T) {
	server, _ := cowServer(t, []string{"cancelled"})
	defer server.Close()

	cow := testCow(t, server.URL)
	_, err := cow.Settle(context.Background(), "0xowner", trigger.SideSell, decimal.NewFromInt(1), "ETH")
	if got := KindOf(err); got != KindRejected {
		t.Fatalf("expected rejected, got %s (%v)", got, err)
	}
}

func TestSettleReconcilesFulfilledOnDeadline(t *testing.T) {
	// The order stays open while the caller's context is alive; the
	// reconciliation lookup after cancellation finds it fulfilled.
	var fulfilled int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == cowQuotePath:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"quote": map[string]interface{}{
					"sellToken": wethAddr, "buyToken": usdcAddr,
					"sellAmount": "1000", "buyAmount": "2000", "feeAmount": "1", "validTo": 4102444800,
				},
				"id": 1,
			})
		case r.URL.Path == cowOrdersPath && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode("0xuid9999")
		case strings.HasPrefix(r.URL.Path, cowOrdersPath+"/"):
			if atomic.LoadInt32(&fulfilled) == 1 {
				w.Write([]byte(`{"status":"fulfilled"}`))
				return
			}
			w.Write([]byte(`{"status":"open"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	cow := testCow(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(30 * time.Millisecond)
		atomic.StoreInt32(&fulfilled, 1)
		cancel()
	}()

	uid, err := cow.Settle(ctx, "0xowner", trigger.SideSell, decimal.NewFromInt(1), "ETH")
	if err != nil {
		t.Fatalf("对账发现已成交时应视为成功: %v", err)
	}
	if uid != "0xuid9999" {
		t.Fatalf("unexpected uid %q", uid)
	}
}

func TestSettleTimeoutWhenStillOpen(t *testing.T) {
	server, _ := cowServer(t, []string{"open"})
	defer server.Close()

	cow := testCow(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cow.Settle(ctx, "0xowner", trigger.SideSell, decimal.NewFromInt(1), "ETH")
	if got := KindOf(err); got != KindTimeout {
		t.Fatalf("悬而未决的订单应归类为 timeout, 实际 %s (%v)", got, err)
	}
}

func TestSettleValidation(t *testing.T) {
	cow := testCow(t, "http://unused.invalid")

	_, err := cow.Settle(context.Background(), "", trigger.SideSell, decimal.NewFromInt(1), "ETH")
	if got := KindOf(err); got != KindAuthorization {
		t.Fatalf("缺少 owner 应归类为 authorization, 实际 %s", got)
	}

	_, err = cow.Settle(context.Background(), "0xowner", trigger.SideSell, decimal.Zero, "ETH")
	if got := KindOf(err); got != KindInvalidParams {
		t.Fatalf("expected invalid_params, got %s", got)
	}

	_, err = cow.Settle(context.Background(), "0xowner", trigger.SideSell, decimal.NewFromInt(1), "DOGE")
	if got := KindOf(err); got != KindInvalidParams {
		t.Fatalf("未映射的 symbol 应归类为 invalid_params, 实际 %s", got)
	}
}

func TestClassifyAPIError(t *testing.T) {
	cases := []struct {
		status    int
		errorType string
		want      Kind
	}{
		{http.StatusBadRequest, "InsufficientBalance", KindInsufficientFunds},
		{http.StatusBadRequest, "InsufficientAllowance", KindInsufficientFunds},
		{http.StatusBadRequest, "NoLiquidity", KindLiquidity},
		{http.StatusBadRequest, "ZeroAmount", KindInvalidParams},
		{http.StatusForbidden, "WrongOwner", KindAuthorization},
		{http.StatusTooManyRequests, "", KindRateLimited},
		{http.StatusServiceUnavailable, "", KindRPC},
		{http.StatusBadRequest, "", KindInvalidParams},
	}

	for _, tc := range cases {
		payload := []byte(fmt.Sprintf(`{"errorType":%q,"description":"x"}`, tc.errorType))
		err := classifyAPIError(tc.status, payload)
		if got := KindOf(err); got != tc.want {
			t.Fatalf("status=%d type=%q: expected %s, got %s", tc.status, tc.errorType, tc.want, got)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(NewError(KindLiquidity, errors.New("x"))); got != KindLiquidity {
		t.Fatalf("unexpected kind %s", got)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", NewError(KindRPC, errors.New("x")))); got != KindRPC {
		t.Fatalf("包装后的错误应保留分类, 实际 %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Fatalf("expected timeout, got %s", got)
	}
	if got := KindOf(errors.New("mystery")); got != KindUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}
