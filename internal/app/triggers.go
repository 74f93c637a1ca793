package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swap-triggers/internal/metrics"
	"swap-triggers/internal/trigger"
)

// AddTriggerOptions describe a new standing instruction.
type AddTriggerOptions struct {
	Owner  string
	Symbol string
	Side   string
	Amount decimal.Decimal

	// Simple predicate: one of Above/Below set.
	Above decimal.Decimal
	Below decimal.Decimal

	// Smart predicate: comma-separated conditions like "RSI<30,PRICE<60000".
	When string
}

// AddTrigger registers a new ACTIVE trigger and prints its id.
func (a *App) AddTrigger(ctx context.Context, opts AddTriggerOptions) error {
	trig := trigger.Trigger{
		ID:        uuid.NewString(),
		Owner:     opts.Owner,
		Symbol:    strings.ToUpper(strings.TrimSpace(opts.Symbol)),
		Side:      trigger.Side(strings.ToUpper(opts.Side)),
		Amount:    opts.Amount,
		Status:    trigger.StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	simpleSet := opts.Above.IsPositive() || opts.Below.IsPositive()
	switch {
	case simpleSet && opts.When != "":
		return errors.New("use either --above/--below or --when, not both")
	case opts.Above.IsPositive() && opts.Below.IsPositive():
		return errors.New("--above and --below are mutually exclusive")
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

	if err := trig.Validate(); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := store.CreateTrigger(ctx, trig); err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, trig.ID)
	return nil
}

// parseConditions turns "RSI<30,PRICE<60000" into typed conditions.
func parseConditions(spec string) ([]trigger.Condition, error) {
	parts := strings.Split(spec, ",")
	conditions := make([]trigger.Condition, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var op trigger.ConditionOperator
		var sep string
		switch {
		case strings.Contains(part, ">"):
			op, sep = trigger.OperatorGT, ">"
		case strings.Contains(part, "<"):
			op, sep = trigger.OperatorLT, "<"
		default:
			return nil, fmt.Errorf("condition %q needs < or >", part)
		}

		fields := strings.SplitN(part, sep, 2)
		metric, err := metrics.Parse(strings.ToUpper(strings.TrimSpace(fields[0])))
		if err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("condition %q has invalid value: %w", part, err)
		}

		conditions = append(conditions, trigger.Condition{Metric: metric, Operator: op, Value: value})
	}
	if len(conditions) == 0 {
		return nil, errors.New("no conditions parsed from --when")
	}
	return conditions, nil
}

// ListTriggers prints recent triggers.
func (a *App) ListTriggers(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	triggers, err := store.ListTriggers(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		fmt.Fprintln(os.Stdout, "no triggers found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tSide\tAmount\tPredicate\tStatus\tCreated (UTC)")
	for _, trig := range triggers {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			trig.ID,
			trig.Symbol,
			trig.Side,
			trig.Amount.String(),
			describePredicate(trig),
			trig.Status,
			trig.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
	return nil
}

// CancelTrigger moves an ACTIVE trigger to CANCELLED.
func (a *App) CancelTrigger(ctx context.Context, id string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.CancelTrigger(ctx, id); err != nil {
		if errors.Is(err, trigger.ErrNotActive) {
			return fmt.Errorf("trigger %s is not active", id)
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "trigger %s cancelled\n", id)
	return nil
}

func describePredicate(trig trigger.Trigger) string {
	switch {
	case trig.Simple != nil:
		return fmt.Sprintf("%s %s", trig.Simple.Operator, trig.Simple.TargetPrice.String())
	case trig.Smart != nil:
		parts := make([]string, 0, len(trig.Smart.Conditions))
		for _, cond := range trig.Smart.Conditions {
			sep := ">"
			if cond.Operator == trigger.OperatorLT {
				sep = "<"
			}
			parts = append(parts, fmt.Sprintf("%s%s%s", cond.Metric, sep, cond.Value.String()))
		}
		return strings.Join(parts, " AND ")
	default:
		return "(none)"
	}
}
