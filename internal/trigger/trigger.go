package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"swap-triggers/internal/metrics"
)

// Side distinguishes buy and sell instructions. A BUY amount is denominated in
// the quote currency, a SELL amount in the base asset.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Status is the trigger lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExecuted  Status = "EXECUTED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether a trigger in this status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Only ACTIVE has outgoing edges.
func CanTransition(from, to Status) bool {
	if from != StatusActive {
		return false
	}
	switch to {
	case StatusExecuted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// PriceOperator compares the live price against a simple threshold.
type PriceOperator string

const (
	OperatorAbove PriceOperator = "ABOVE"
	OperatorBelow PriceOperator = "BELOW"
)

// ConditionOperator compares a metric reading against a condition value.
type ConditionOperator string

const (
	OperatorGT ConditionOperator = "GT"
	OperatorLT ConditionOperator = "LT"
)

// SimplePredicate fires once the live price reaches the target. The boundary
// is inclusive on both operators: reaching the target counts as a match.
type SimplePredicate struct {
	Operator    PriceOperator   `json:"operator"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
}

// Condition is one metric comparison inside a smart predicate.
type Condition struct {
	Metric   metrics.Metric    `json:"metric"`
	Operator ConditionOperator `json:"operator"`
	Value    decimal.Decimal   `json:"value"`
}

// SmartPredicate is an AND-conjunction of metric conditions.
type SmartPredicate struct {
	Conditions []Condition `json:"conditions"`
}

// Trigger is a standing instruction to swap once its predicate holds.
// Exactly one of Simple/Smart is set.
type Trigger struct {
	ID        string
	Owner     string
	Symbol    string
	Side      Side
	Amount    decimal.Decimal
	Simple    *SimplePredicate
	Smart     *SmartPredicate
	Status    Status
	CreatedAt time.Time
}

var (
	// ErrMalformedPredicate marks a trigger whose predicate cannot be
	// evaluated. Such triggers are skipped, never matched.
	ErrMalformedPredicate = errors.New("trigger: malformed predicate")
)

// Validate checks the structural invariants of a trigger.
func (t Trigger) Validate() error {
	if t.ID == "" {
		return errors.New("trigger: id required")
	}
	if t.Symbol == "" {
		return errors.New("trigger: symbol required")
	}
	if !t.Side.Valid() {
		return fmt.Errorf("trigger: invalid side %q", t.Side)
	}
	if !t.Amount.IsPositive() {
		return errors.New("trigger: amount must be positive")
	}

	switch {
	case t.Simple != nil && t.Smart != nil:
		return fmt.Errorf("%w: both simple and smart set", ErrMalformedPredicate)
	case t.Simple == nil && t.Smart == nil:
		return fmt.Errorf("%w: no predicate set", ErrMalformedPredicate)
	case t.Simple != nil:
		return t.Simple.validate()
	default:
		return t.Smart.validate()
	}
}

func (p SimplePredicate) validate() error {
	if p.Operator != OperatorAbove && p.Operator != OperatorBelow {
		return fmt.Errorf("%w: unknown operator %q", ErrMalformedPredicate, p.Operator)
	}
	if !p.TargetPrice.IsPositive() {
		return fmt.Errorf("%w: target price must be positive", ErrMalformedPredicate)
	}
	return nil
}

func (p SmartPredicate) validate() error {
	if len(p.Conditions) == 0 {
		return fmt.Errorf("%w: empty condition list", ErrMalformedPredicate)
	}
	for i, cond := range p.Conditions {
		if !cond.Metric.Valid() {
			return fmt.Errorf("%w: condition %d references unknown metric %q", ErrMalformedPredicate, i, cond.Metric)
		}
		if cond.Operator != OperatorGT && cond.Operator != OperatorLT {
			return fmt.Errorf("%w: condition %d has unknown operator %q", ErrMalformedPredicate, i, cond.Operator)
		}
	}
	return nil
}

// Metrics returns the distinct set of metrics the smart predicate references,
// in first-seen order.
func (p SmartPredicate) Metrics() []metrics.Metric {
	seen := make(map[metrics.Metric]struct{}, len(p.Conditions))
	distinct := make([]metrics.Metric, 0, len(p.Conditions))
	for _, cond := range p.Conditions {
		if _, ok := seen[cond.Metric]; ok {
			continue
		}
		seen[cond.Metric] = struct{}{}
		distinct = append(distinct, cond.Metric)
	}
	return distinct
}
