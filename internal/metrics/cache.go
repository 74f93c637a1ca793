package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// TTLs maps each metric to its freshness window.
type TTLs map[Metric]time.Duration

// DefaultTTLs mirrors the update cadence of the underlying sources.
func DefaultTTLs() TTLs {
	return TTLs{
		MetricPrice:     15 * time.Second,
		MetricGas:       15 * time.Second,
		MetricRSI:       time.Minute,
		MetricMA:        time.Minute,
		MetricVolume:    time.Minute,
		MetricSentiment: 30 * time.Minute,
	}
}

// Sample is one cached metric observation.
type Sample struct {
	Metric    Metric
	Symbol    string
	Value     decimal.Decimal
	FetchedAt time.Time
}

type cacheKey struct {
	metric Metric
	symbol string
}

// Cache memoises metric lookups per (metric, symbol) with a per-metric TTL.
// Concurrent lookups for the same key share a single provider call; provider
// errors are surfaced to the caller and never cached.
type Cache struct {
	providers map[Metric]Provider
	ttls      TTLs
	logger    zerolog.Logger
	clock     func() time.Time

	mu      sync.RWMutex
	entries map[cacheKey]Sample
	group   singleflight.Group
}

// NewCache binds providers to metrics. Every bound metric must be a known one;
// lookups for metrics without a bound provider fail at call time.
func NewCache(providers map[Metric]Provider, ttls TTLs, logger zerolog.Logger) (*Cache, error) {
	for m, p := range providers {
		if !m.Valid() {
			return nil, fmt.Errorf("metrics: provider bound to unknown metric %q", m)
		}
		if p == nil {
			return nil, fmt.Errorf("metrics: nil provider bound to %s", m)
		}
	}
	if ttls == nil {
		ttls = DefaultTTLs()
	}
	for m, ttl := range ttls {
		if !m.Valid() {
			return nil, fmt.Errorf("metrics: ttl configured for unknown metric %q", m)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("metrics: ttl for %s must be positive", m)
		}
	}

	return &Cache{
		providers: providers,
		ttls:      ttls,
		logger:    logger.With().Str("component", "metric_cache").Logger(),
		clock:     time.Now,
		entries:   make(map[cacheKey]Sample),
	}, nil
}

// TTL returns the freshness window for a metric.
func (c *Cache) TTL(metric Metric) time.Duration {
	if ttl, ok := c.ttls[metric]; ok {
		return ttl
	}
	return time.Minute
}

// Get returns the current value of metric for symbol, serving from cache while
// the previous observation is within its TTL.
func (c *Cache) Get(ctx context.Context, metric Metric, symbol string) (decimal.Decimal, error) {
	sample, err := c.Lookup(ctx, metric, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return sample.Value, nil
}

// Lookup behaves like Get but also exposes the observation timestamp.
func (c *Cache) Lookup(ctx context.Context, metric Metric, symbol string) (Sample, error) {
	provider, ok := c.providers[metric]
	if !ok {
		return Sample{}, fmt.Errorf("metrics: no provider bound for %s", metric)
	}

	if sample, ok := c.fresh(metric, symbol); ok {
		return sample, nil
	}

	key := string(metric) + "|" + symbol
	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have refreshed the entry while this flight
		// was queued behind the previous one.
		if sample, ok := c.fresh(metric, symbol); ok {
			return sample, nil
		}

		value, fetchErr := provider.Fetch(ctx, symbol)
		if fetchErr != nil {
			return nil, fetchErr
		}

		sample := Sample{Metric: metric, Symbol: symbol, Value: value, FetchedAt: c.clock()}
		c.mu.Lock()
		c.entries[cacheKey{metric: metric, symbol: symbol}] = sample
		c.mu.Unlock()
		return sample, nil
	})
	if err != nil {
		return Sample{}, fmt.Errorf("fetch %s/%s: %w", metric, symbol, err)
	}

	sample := result.(Sample)
	c.logger.Debug().
		Str("metric", string(metric)).
		Str("symbol", symbol).
		Bool("shared", shared).
		Str("value", sample.Value.String()).
		Msg("metric resolved")
	return sample, nil
}

func (c *Cache) fresh(metric Metric, symbol string) (Sample, bool) {
	c.mu.RLock()
	sample, ok := c.entries[cacheKey{metric: metric, symbol: symbol}]
	c.mu.RUnlock()
	if !ok {
		return Sample{}, false
	}
	if c.clock().Sub(sample.FetchedAt) >= c.TTL(metric) {
		return Sample{}, false
	}
	return sample, true
}
