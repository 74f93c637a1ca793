package trigger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"swap-triggers/internal/metrics"
)

func validTrigger() Trigger {
	return Trigger{
		ID:     "t1",
		Owner:  "0xabc",
		Symbol: "BTC",
		Side:   SideBuy,
		Amount: decimal.NewFromInt(100),
		Simple: &SimplePredicate{Operator: OperatorAbove, TargetPrice: decimal.NewFromInt(50000)},
		Status: StatusActive,
	}
}

func TestValidateAcceptsWellFormedTrigger(t *testing.T) {
	if err := validTrigger().Validate(); err != nil {
		t.Fatalf("合法触发器不应报错: %v", err)
	}
}

func TestValidateRejectsMalformedPredicates(t *testing.T) {
	cases := map[string]func(*Trigger){
		"no predicate":    func(tr *Trigger) { tr.Simple = nil },
		"both predicates": func(tr *Trigger) { tr.Smart = &SmartPredicate{Conditions: []Condition{{Metric: metrics.MetricRSI, Operator: OperatorLT, Value: decimal.NewFromInt(30)}}} },
		"empty smart": func(tr *Trigger) {
			tr.Simple = nil
			tr.Smart = &SmartPredicate{}
		},
		"unknown metric": func(tr *Trigger) {
			tr.Simple = nil
			tr.Smart = &SmartPredicate{Conditions: []Condition{{Metric: "MOMENTUM", Operator: OperatorLT, Value: decimal.NewFromInt(1)}}}
		},
		"bad operator": func(tr *Trigger) {
			tr.Simple.Operator = "NEAR"
		},
		"zero target": func(tr *Trigger) {
			tr.Simple.TargetPrice = decimal.Zero
		},
	}

	for name, mutate := range cases {
		tr := validTrigger()
		mutate(&tr)
		err := tr.Validate()
		if err == nil {
			t.Fatalf("%s: 应返回错误", name)
		}
		if !errors.Is(err, ErrMalformedPredicate) {
			t.Fatalf("%s: expected ErrMalformedPredicate, got %v", name, err)
		}
	}
}

func TestValidateRejectsNonPositiveAmount(t *testing.T) {
	tr := validTrigger()
	tr.Amount = decimal.Zero
	if err := tr.Validate(); err == nil {
		t.Fatal("零数量应报错")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusActive.Terminal() {
		t.Fatal("ACTIVE 不是终态")
	}
	for _, s := range []Status{StatusExecuted, StatusCancelled, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s 应为终态", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	for _, to := range []Status{StatusExecuted, StatusCancelled, StatusFailed} {
		if !CanTransition(StatusActive, to) {
			t.Fatalf("ACTIVE -> %s should be allowed", to)
		}
	}

	// No transition leaves a terminal state.
	for _, from := range []Status{StatusExecuted, StatusCancelled, StatusFailed} {
		for _, to := range []Status{StatusActive, StatusExecuted, StatusCancelled, StatusFailed} {
			if CanTransition(from, to) {
				t.Fatalf("%s -> %s should be forbidden", from, to)
			}
		}
	}

	if CanTransition(StatusActive, StatusActive) {
		t.Fatal("ACTIVE -> ACTIVE is not a transition")
	}
}

func TestSmartPredicateMetricsDistinct(t *testing.T) {
	pred := SmartPredicate{Conditions: []Condition{
		{Metric: metrics.MetricRSI, Operator: OperatorLT, Value: decimal.NewFromInt(30)},
		{Metric: metrics.MetricPrice, Operator: OperatorLT, Value: decimal.NewFromInt(60000)},
		{Metric: metrics.MetricRSI, Operator: OperatorGT, Value: decimal.NewFromInt(10)},
	}}

	distinct := pred.Metrics()
	if len(distinct) != 2 {
		t.Fatalf("期望 2 个去重指标, 实际 %d", len(distinct))
	}
	if distinct[0] != metrics.MetricRSI || distinct[1] != metrics.MetricPrice {
		t.Fatalf("unexpected order: %v", distinct)
	}
}
