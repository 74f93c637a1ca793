package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"swap-triggers/internal/evaluate"
	"swap-triggers/internal/metrics"
	"swap-triggers/internal/trigger"
)

// SimulateOptions 描述一次不落库、不结算的预演评估。
type SimulateOptions struct {
	Symbol string
	Above  decimal.Decimal
	Below  decimal.Decimal
	When   string
	// Values pins metric readings, e.g. "PRICE=59000,RSI=25".
	Values string
}

// Simulate evaluates a predicate against pinned metric values and prints the
// evaluation trail. Nothing is persisted and nothing settles.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	trig := trigger.Trigger{
		ID:        "simulated",
		Symbol:    strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		Side:      trigger.SideBuy,
		Amount:    decimal.NewFromInt(1),
		Status:    trigger.StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	switch {
	case opts.Above.IsPositive():
		trig.Simple = &trigger.SimplePredicate{Operator: trigger.OperatorAbove, TargetPrice: opts.Above}
	case opts.Below.IsPositive():
		trig.Simple = &trigger.SimplePredicate{Operator: trigger.OperatorBelow, TargetPrice: opts.Below}
	case opts.When != "":
		conditions, err := parseConditions(opts.When)
		if err != nil {
			return err
		}
		trig.Smart = &trigger.SmartPredicate{Conditions: conditions}
	default:
		return errors.New("a predicate is required: --above, --below, or --when")
	}

	values, err := parseMetricValues(opts.Values)
	if err != nil {
		return err
	}

	providers := make(map[metrics.Metric]metrics.Provider, len(values))
	for metric, value := range values {
		providers[metric] = staticProvider(value)
	}

	cache, err := metrics.NewCache(providers, nil, a.Logger)
	if err != nil {
		return err
	}

	outcome, err := evaluate.New(cache, a.Logger).Evaluate(ctx, trig, nil)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Metric\tOperator\tTarget\tObserved\tPassed")
	for _, step := range outcome.Trail {
		observed := step.Observed.String()
		if step.Err != "" {
			observed = "error: " + step.Err
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\n",
			step.Metric, step.Operator, step.Target.String(), observed, step.Passed)
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "matched: %t\n", outcome.Matched)
	return nil
}

func parseMetricValues(spec string) (map[metrics.Metric]decimal.Decimal, error) {
	values := make(map[metrics.Metric]decimal.Decimal)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, "=", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("metric value %q must be NAME=value", part)
		}
		metric, err := metrics.Parse(strings.ToUpper(strings.TrimSpace(fields[0])))
		if err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("metric value %q invalid: %w", part, err)
		}
		values[metric] = value
	}
	if len(values) == 0 {
		return nil, errors.New("no metric values provided; use --values")
	}
	return values, nil
}

func staticProvider(value decimal.Decimal) metrics.Provider {
	return metrics.ProviderFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		return value, nil
	})
}
