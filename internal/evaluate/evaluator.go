package evaluate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"swap-triggers/internal/metrics"
	"swap-triggers/internal/trigger"
)

// Step records one condition evaluation for the trail. The trail exists for
// observability only and never drives control flow.
type Step struct {
	Metric   metrics.Metric
	Operator string
	Target   decimal.Decimal
	Observed decimal.Decimal
	Passed   bool
	Err      string
}

// Outcome is the result of evaluating a trigger's predicate.
type Outcome struct {
	Matched bool
	// Price is the observed price at match time. Zero when the predicate did
	// not match.
	Price decimal.Decimal
	Trail []Step
}

// PriceHint carries a price the caller already fetched this cycle.
type PriceHint struct {
	Price     decimal.Decimal
	FetchedAt time.Time
}

// Evaluator decides whether a trigger's predicate holds against the current
// metric state. Missing or errored metrics fail closed: the affected condition
// counts as not matched.
type Evaluator struct {
	cache  *metrics.Cache
	logger zerolog.Logger
	clock  func() time.Time
}

// New constructs an evaluator over a metric cache.
func New(cache *metrics.Cache, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		cache:  cache,
		logger: logger.With().Str("component", "evaluator").Logger(),
		clock:  time.Now,
	}
}

// Evaluate resolves the trigger's predicate. A malformed predicate returns an
// error so the caller can skip the trigger; metric fetch failures do not.
func (e *Evaluator) Evaluate(ctx context.Context, trig trigger.Trigger, hint *PriceHint) (Outcome, error) {
	switch {
	case trig.Simple != nil && trig.Smart != nil:
		return Outcome{}, fmt.Errorf("%w: both simple and smart set", trigger.ErrMalformedPredicate)
	case trig.Simple != nil:
		return e.evaluateSimple(ctx, trig, *trig.Simple, hint), nil
	case trig.Smart != nil:
		if len(trig.Smart.Conditions) == 0 {
			return Outcome{}, fmt.Errorf("%w: empty condition list", trigger.ErrMalformedPredicate)
		}
		return e.evaluateSmart(ctx, trig, *trig.Smart)
	default:
		return Outcome{}, fmt.Errorf("%w: no predicate set", trigger.ErrMalformedPredicate)
	}
}

func (e *Evaluator) evaluateSimple(ctx context.Context, trig trigger.Trigger, pred trigger.SimplePredicate, hint *PriceHint) Outcome {
	price, err := e.resolvePrice(ctx, trig.Symbol, hint)
	step := Step{Metric: metrics.MetricPrice, Operator: string(pred.Operator), Target: pred.TargetPrice}
	if err != nil {
		step.Err = err.Error()
		e.logger.Debug().Str("trigger_id", trig.ID).Err(err).Msg("price unavailable, condition fails closed")
		return Outcome{Matched: false, Trail: []Step{step}}
	}

	step.Observed = price
	switch pred.Operator {
	case trigger.OperatorAbove:
		step.Passed = price.Cmp(pred.TargetPrice) >= 0
	case trigger.OperatorBelow:
		step.Passed = price.Cmp(pred.TargetPrice) <= 0
	}

	out := Outcome{Matched: step.Passed, Trail: []Step{step}}
	if out.Matched {
		out.Price = price
	}
	return out
}

func (e *Evaluator) evaluateSmart(ctx context.Context, trig trigger.Trigger, pred trigger.SmartPredicate) (Outcome, error) {
	distinct := pred.Metrics()
	for _, m := range distinct {
		if !m.Valid() {
			return Outcome{}, fmt.Errorf("%w: unknown metric %q", trigger.ErrMalformedPredicate, m)
		}
	}

	type reading struct {
		value decimal.Decimal
		err   error
	}

	var mu sync.Mutex
	readings := make(map[metrics.Metric]reading, len(distinct))

	// Fan out across the distinct metric set; the cache collapses duplicate
	// in-flight fetches, so parallelism here is free.
	group := new(errgroup.Group)
	for _, m := range distinct {
		group.Go(func() error {
			value, err := e.cache.Get(ctx, m, trig.Symbol)
			mu.Lock()
			readings[m] = reading{value: value, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	matched := true
	trail := make([]Step, 0, len(pred.Conditions))
	for _, cond := range pred.Conditions {
		step := Step{Metric: cond.Metric, Operator: string(cond.Operator), Target: cond.Value}
		r := readings[cond.Metric]
		if r.err != nil {
			step.Err = r.err.Error()
			matched = false
			trail = append(trail, step)
			continue
		}

		step.Observed = r.value
		switch cond.Operator {
		case trigger.OperatorGT:
			step.Passed = r.value.Cmp(cond.Value) > 0
		case trigger.OperatorLT:
			step.Passed = r.value.Cmp(cond.Value) < 0
		}
		if !step.Passed {
			matched = false
		}
		trail = append(trail, step)
	}

	out := Outcome{Matched: matched, Trail: trail}
	if !matched {
		return out, nil
	}

	if r, ok := readings[metrics.MetricPrice]; ok && r.err == nil {
		out.Price = r.value
		return out, nil
	}

	// The execution record needs the price at match time. If it cannot be
	// learned now the match is deferred to the next tick.
	price, err := e.cache.Get(ctx, metrics.MetricPrice, trig.Symbol)
	if err != nil {
		e.logger.Warn().Str("trigger_id", trig.ID).Err(err).Msg("matched but price unavailable, deferring")
		out.Matched = false
		return out, nil
	}
	out.Price = price
	return out, nil
}

func (e *Evaluator) resolvePrice(ctx context.Context, symbol string, hint *PriceHint) (decimal.Decimal, error) {
	if hint != nil && e.clock().Sub(hint.FetchedAt) < e.cache.TTL(metrics.MetricPrice) {
		return hint.Price, nil
	}
	return e.cache.Get(ctx, metrics.MetricPrice, symbol)
}
