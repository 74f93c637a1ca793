package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	tickerPricePath = "/api/v3/ticker/price"
	ticker24hPath   = "/api/v3/ticker/24hr"
	klinesPath      = "/api/v3/klines"
)

// MarketOptions parameterise the exchange market-data client.
type MarketOptions struct {
	BaseURL     string
	QuoteSymbol string
	Timeout     time.Duration
	UserAgent   string
}

// MarketClient serves spot price, 24h volume, and candle closes from a
// Binance-compatible public REST API.
type MarketClient struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	quote   string
}

// NewMarketClient constructs a market-data client.
func NewMarketClient(opts MarketOptions, logger zerolog.Logger) *MarketClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	quote := strings.ToUpper(opts.QuoteSymbol)
	if quote == "" {
		quote = "USDT"
	}

	return &MarketClient{
		opts:    opts,
		logger:  logger.With().Str("component", "market_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		quote:   quote,
	}
}

// FetchPrice returns the latest trade price for symbol in the quote currency.
func (m *MarketClient) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair, err := m.pair(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := m.getJSON(ctx, tickerPricePath, url.Values{"symbol": {pair}}, &payload); err != nil {
		return decimal.Decimal{}, err
	}

	price, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse ticker price: %w", err)
	}
	if price.IsZero() {
		return decimal.Decimal{}, errors.New("ticker price returned zero")
	}
	return price, nil
}

// FetchVolume returns the 24h base-asset volume for symbol.
func (m *MarketClient) FetchVolume(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair, err := m.pair(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var payload struct {
		Volume string `json:"volume"`
	}
	if err := m.getJSON(ctx, ticker24hPath, url.Values{"symbol": {pair}}, &payload); err != nil {
		return decimal.Decimal{}, err
	}

	volume, err := decimal.NewFromString(payload.Volume)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse 24h volume: %w", err)
	}
	return volume, nil
}

// FetchCloses returns up to limit closing prices for symbol, oldest first.
func (m *MarketClient) FetchCloses(ctx context.Context, symbol, interval string, limit int) ([]decimal.Decimal, error) {
	pair, err := m.pair(symbol)
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = "1h"
	}
	if limit <= 0 {
		limit = 100
	}

	query := url.Values{
		"symbol":   {pair},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}

	// Kline rows are positional arrays; index 4 is the close price.
	var rows [][]json.RawMessage
	if err := m.getJSON(ctx, klinesPath, query, &rows); err != nil {
		return nil, err
	}

	closes := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("kline row has %d fields", len(row))
		}
		var closeStr string
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			return nil, fmt.Errorf("decode kline close: %w", err)
		}
		closePrice, err := decimal.NewFromString(closeStr)
		if err != nil {
			return nil, fmt.Errorf("parse kline close: %w", err)
		}
		closes = append(closes, closePrice)
	}
	return closes, nil
}

func (m *MarketClient) pair(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", errors.New("symbol required")
	}
	return symbol + m.quote, nil
}

func (m *MarketClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := m.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return parseMarketError(resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode market response: %w", err)
	}
	return nil
}

type marketErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseMarketError(status int, payload []byte) error {
	var apiErr marketErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("market api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("market api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("market api error (%d)", status)
}
