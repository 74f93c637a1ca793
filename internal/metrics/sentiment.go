package metrics

import (
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
)

// SentimentOptions parameterise the fear & greed index client.
type SentimentOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Sentiment reads the crypto fear & greed index (0-100). The index is
// market-wide, so the symbol argument only scopes logging.
type Sentiment struct {
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewSentiment constructs a sentiment source.
func NewSentiment(opts SentimentOptions, logger zerolog.Logger) *Sentiment {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.alternative.me"
	}

	return &Sentiment{
		logger:  logger.With().Str("component", "sentiment_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Fetch implements Provider.
func (s *Sentiment) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/fng/", nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("sentiment api error (%d)", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode sentiment response: %w", err)
	}
	if len(body.Data) == 0 {
		return decimal.Decimal{}, errors.New("sentiment response contained no data")
	}

	value, err := decimal.NewFromString(body.Data[0].Value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse sentiment value: %w", err)
	}

	s.logger.Debug().Str("symbol", symbol).Str("value", value.String()).Msg("sentiment index fetched")
	return value, nil
}

var _ Provider = (*Sentiment)(nil)
