package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swap-triggers/internal/trigger"
)

const (
	cowQuotePath  = "/quote"
	cowOrdersPath = "/orders"
)

// Token amounts on the settlement contract are 18-decimal atoms.
var dec1e18 = decimal.NewFromInt(1_000_000_000_000_000_000)

// CowOptions parameterise the CoW Protocol executor.
type CowOptions struct {
	BaseURL      string
	QuoteToken   string
	Tokens       map[string]string
	PollInterval time.Duration
	ValidFor     time.Duration
	Timeout      time.Duration
	UserAgent    string
}

// Cow settles swaps through the CoW Protocol order book: quote, place a
// presign order, then poll the order until it reaches a terminal status.
type Cow struct {
	opts    CowOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	tokens  map[string]string
}

// NewCow constructs a CoW Protocol executor.
func NewCow(opts CowOptions, logger zerolog.Logger) *Cow {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.cow.fi/mainnet/api/v1"
	}

	tokens := make(map[string]string, len(opts.Tokens))
	for symbol, addr := range opts.Tokens {
		tokens[strings.ToUpper(symbol)] = addr
	}

	return &Cow{
		opts:    opts,
		logger:  logger.With().Str("component", "cow_executor").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		tokens:  tokens,
	}
}

// Settle implements Executor. The returned reference is the CoW order UID.
func (c *Cow) Settle(ctx context.Context, owner string, side trigger.Side, amount decimal.Decimal, symbol string) (string, error) {
	if owner == "" {
		return "", NewError(KindAuthorization, errors.New("owner address required"))
	}
	if !amount.IsPositive() {
		return "", NewError(KindInvalidParams, errors.New("amount must be positive"))
	}

	sellToken, buyToken, err := c.tokenPair(side, symbol)
	if err != nil {
		return "", err
	}

	sellAtoms := amount.Mul(dec1e18).Round(0)
	if sellAtoms.IsZero() {
		return "", NewError(KindInvalidParams, errors.New("sell amount rounded to zero"))
	}

	validFor := c.opts.ValidFor
	if validFor <= 0 {
		validFor = 5 * time.Minute
	}

	quote, err := c.fetchQuote(ctx, quoteRequest{
		SellToken:           sellToken,
		BuyToken:            buyToken,
		Kind:                "sell",
		From:                owner,
		SellAmountBeforeFee: sellAtoms.StringFixed(0),
		ValidTo:             uint64(time.Now().Add(validFor).Unix()),
	})
	if err != nil {
		return "", err
	}

	uid, err := c.placeOrder(ctx, orderRequest{
		SellToken:     quote.Quote.SellToken,
		BuyToken:      quote.Quote.BuyToken,
		SellAmount:    quote.Quote.SellAmount,
		BuyAmount:     quote.Quote.BuyAmount,
		ValidTo:       quote.Quote.ValidTo,
		FeeAmount:     quote.Quote.FeeAmount,
		Kind:          "sell",
		From:          owner,
		Receiver:      owner,
		SigningScheme: "presign",
		Signature:     "0x",
		QuoteID:       quote.ID,
	})
	if err != nil {
		return "", err
	}

	c.logger.Info().Str("order_uid", uid).Str("symbol", symbol).Str("side", string(side)).Msg("order placed")
	return c.awaitOrder(ctx, uid)
}

func (c *Cow) tokenPair(side trigger.Side, symbol string) (string, string, error) {
	base, ok := c.tokens[strings.ToUpper(symbol)]
	if !ok {
		return "", "", NewError(KindInvalidParams, fmt.Errorf("no token address mapped for symbol %q", symbol))
	}
	if c.opts.QuoteToken == "" {
		return "", "", NewError(KindInvalidParams, errors.New("quote token address not configured"))
	}

	// BUY sells the quote currency for the asset; SELL is the reverse.
	if side == trigger.SideBuy {
		return c.opts.QuoteToken, base, nil
	}
	return base, c.opts.QuoteToken, nil
}

func (c *Cow) fetchQuote(ctx context.Context, req quoteRequest) (*quoteResponse, error) {
	var res quoteResponse
	if err := c.postJSON(ctx, cowQuotePath, req, &res); err != nil {
		return nil, err
	}
	if res.Quote.SellAmount == "" || res.Quote.BuyAmount == "" {
		return nil, NewError(KindRPC, errors.New("quote response missing amounts"))
	}
	return &res, nil
}

func (c *Cow) placeOrder(ctx context.Context, req orderRequest) (string, error) {
	var uid string
	if err := c.postJSON(ctx, cowOrdersPath, req, &uid); err != nil {
		return "", err
	}
	if uid == "" {
		return "", NewError(KindRPC, errors.New("order placement returned empty uid"))
	}
	return uid, nil
}

// awaitOrder polls the order until it settles. When the deadline expires with
// the order still open, one reconciliation lookup on a fresh context decides
// whether the attempt actually landed before it is reported as a timeout.
func (c *Cow) awaitOrder(ctx context.Context, uid string) (string, error) {
	interval := c.opts.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.reconcile(uid, ctx.Err())
		case <-ticker.C:
		}

		status, err := c.orderStatus(ctx, uid)
		if err != nil {
			if ctx.Err() != nil {
				return c.reconcile(uid, ctx.Err())
			}
			c.logger.Warn().Str("order_uid", uid).Err(err).Msg("order status lookup failed, retrying")
			continue
		}

		switch status {
		case "fulfilled":
			return uid, nil
		case "expired":
			return "", NewError(KindLiquidity, fmt.Errorf("order %s expired unfilled", uid))
		case "cancelled":
			return "", NewError(KindRejected, fmt.Errorf("order %s cancelled by venue", uid))
		}
	}
}

func (c *Cow) reconcile(uid string, cause error) (string, error) {
	lookupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.orderStatus(lookupCtx, uid)
	if err == nil && status == "fulfilled" {
		c.logger.Warn().Str("order_uid", uid).Msg("deadline hit but order already fulfilled")
		return uid, nil
	}
	return "", NewError(KindTimeout, fmt.Errorf("order %s unresolved: %w", uid, cause))
}

func (c *Cow) orderStatus(ctx context.Context, uid string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+cowOrdersPath+"/"+uid, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("order lookup failed (%d)", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("decode order status: %w", err)
	}
	return body.Status, nil
}

func (c *Cow) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return NewError(KindInvalidParams, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NewError(KindInvalidParams, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return NewError(KindTimeout, err)
		}
		return NewError(KindRPC, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(KindRPC, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyAPIError(resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return NewError(KindRPC, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Cow) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
}

type quoteRequest struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	Kind                string `json:"kind"`
	From                string `json:"from"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee"`
	ValidTo             uint64 `json:"validTo"`
}

type quoteResponse struct {
	Quote struct {
		SellToken  string `json:"sellToken"`
		BuyToken   string `json:"buyToken"`
		SellAmount string `json:"sellAmount"`
		BuyAmount  string `json:"buyAmount"`
		FeeAmount  string `json:"feeAmount"`
		ValidTo    uint64 `json:"validTo"`
	} `json:"quote"`
	ID int64 `json:"id"`
}

type orderRequest struct {
	SellToken     string `json:"sellToken"`
	BuyToken      string `json:"buyToken"`
	SellAmount    string `json:"sellAmount"`
	BuyAmount     string `json:"buyAmount"`
	ValidTo       uint64 `json:"validTo"`
	FeeAmount     string `json:"feeAmount"`
	Kind          string `json:"kind"`
	From          string `json:"from"`
	Receiver      string `json:"receiver"`
	SigningScheme string `json:"signingScheme"`
	Signature     string `json:"signature"`
	QuoteID       int64  `json:"quoteId,omitempty"`
}

type apiErrorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func classifyAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(payload, &apiErr)

	detail := apiErr.Description
	if detail == "" {
		detail = apiErr.Message
	}
	if detail == "" {
		detail = strings.TrimSpace(string(payload))
	}
	cause := fmt.Errorf("cow api error (%d): %s", status, detail)

	switch apiErr.ErrorType {
	case "InsufficientBalance", "InsufficientAllowance", "InsufficientFee":
		return NewError(KindInsufficientFunds, cause)
	case "NoLiquidity":
		return NewError(KindLiquidity, cause)
	case "SellAmountDoesNotCoverFee", "InvalidAppData", "ZeroAmount", "UnsupportedToken":
		return NewError(KindInvalidParams, cause)
	case "WrongOwner", "InvalidSignature":
		return NewError(KindAuthorization, cause)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuthorization, cause)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, cause)
	case status >= 500:
		return NewError(KindRPC, cause)
	case status >= 400:
		return NewError(KindInvalidParams, cause)
	}
	return NewError(KindUnknown, cause)
}

var _ Executor = (*Cow)(nil)
