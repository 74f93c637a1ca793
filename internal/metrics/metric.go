package metrics

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Metric identifies an externally sourced market or technical indicator.
type Metric string

const (
	MetricPrice     Metric = "PRICE"
	MetricRSI       Metric = "RSI"
	MetricVolume    Metric = "VOLUME"
	MetricMA        Metric = "MA"
	MetricSentiment Metric = "SENTIMENT"
	MetricGas       Metric = "GAS"
)

// All enumerates every supported metric.
func All() []Metric {
	return []Metric{MetricPrice, MetricRSI, MetricVolume, MetricMA, MetricSentiment, MetricGas}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricPrice, MetricRSI, MetricVolume, MetricMA, MetricSentiment, MetricGas:
		return true
	}
	return false
}

// Parse converts a metric name into its typed form.
func Parse(name string) (Metric, error) {
	m := Metric(name)
	if !m.Valid() {
		return "", fmt.Errorf("metrics: unknown metric %q", name)
	}
	return m, nil
}

// Provider answers the current reading of one metric for a symbol.
type Provider interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ProviderFunc adapts a plain function into a Provider.
type ProviderFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Fetch implements Provider.
func (f ProviderFunc) Fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}
