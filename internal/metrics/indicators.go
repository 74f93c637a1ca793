package metrics

import (
	"context"
	"fmt"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CandleSource supplies recent closing prices for a symbol, oldest first.
type CandleSource interface {
	FetchCloses(ctx context.Context, symbol, interval string, limit int) ([]decimal.Decimal, error)
}

// IndicatorOptions tune the derived-indicator computations.
type IndicatorOptions struct {
	Period         int
	CandleInterval string
	CandleLimit    int
}

// Indicators derives RSI and the simple moving average from candle closes.
type Indicators struct {
	source   CandleSource
	period   int
	interval string
	limit    int
	logger   zerolog.Logger
}

// NewIndicators constructs an indicator source over candle data.
func NewIndicators(source CandleSource, opts IndicatorOptions, logger zerolog.Logger) *Indicators {
	period := opts.Period
	if period <= 0 {
		period = 14
	}
	limit := opts.CandleLimit
	if limit <= period+1 {
		limit = period * 4
	}
	interval := opts.CandleInterval
	if interval == "" {
		interval = "1h"
	}

	return &Indicators{
		source:   source,
		period:   period,
		interval: interval,
		limit:    limit,
		logger:   logger.With().Str("component", "indicators").Logger(),
	}
}

// FetchRSI computes the relative strength index over the configured period.
func (i *Indicators) FetchRSI(ctx context.Context, symbol string) (decimal.Decimal, error) {
	closes, err := i.closes(ctx, symbol, i.period+1)
	if err != nil {
		return decimal.Decimal{}, err
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for idx := 1; idx < len(closes); idx++ {
		change := closes[idx] - closes[idx-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	// Cutler's RSI: plain means instead of Wilder smoothing, so the value is
	// independent of how far back the candle window starts.
	avgGain, err := stats.Mean(gains)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("rsi mean gain: %w", err)
	}
	avgLoss, err := stats.Mean(losses)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("rsi mean loss: %w", err)
	}

	if avgLoss == 0 {
		return decimal.NewFromInt(100), nil
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return decimal.NewFromFloat(rsi).Round(4), nil
}

// FetchMA computes the simple moving average over the configured period.
func (i *Indicators) FetchMA(ctx context.Context, symbol string) (decimal.Decimal, error) {
	closes, err := i.closes(ctx, symbol, i.period)
	if err != nil {
		return decimal.Decimal{}, err
	}

	mean, err := stats.Mean(closes)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ma mean: %w", err)
	}
	return decimal.NewFromFloat(mean).Round(8), nil
}

// closes fetches candle closes and returns the most recent need values as
// float64, oldest first.
func (i *Indicators) closes(ctx context.Context, symbol string, need int) ([]float64, error) {
	limit := i.limit
	if limit < need {
		limit = need
	}

	closes, err := i.source.FetchCloses(ctx, symbol, i.interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	if len(closes) < need {
		return nil, fmt.Errorf("need %d closes for %s, got %d", need, symbol, len(closes))
	}

	closes = closes[len(closes)-need:]
	values := make([]float64, len(closes))
	for idx, c := range closes {
		values[idx] = c.InexactFloat64()
	}
	return values, nil
}
