package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swap-triggers/internal/evaluate"
	"swap-triggers/internal/execution"
	"swap-triggers/internal/metrics"
	"swap-triggers/internal/trigger"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type memStore struct {
	mu         sync.Mutex
	triggers   map[string]trigger.Trigger
	executions map[string]trigger.Execution
}

func newMemStore(triggers ...trigger.Trigger) *memStore {
	s := &memStore{
		triggers:   make(map[string]trigger.Trigger),
		executions: make(map[string]trigger.Execution),
	}
	for _, tr := range triggers {
		s.triggers[tr.ID] = tr
	}
	return s
}

func (s *memStore) ListActive(ctx context.Context) ([]trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []trigger.Trigger
	for _, tr := range s.triggers {
		if tr.Status == trigger.StatusActive {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *memStore) TryClaimExecution(ctx context.Context, exec trigger.Execution) (trigger.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.triggers[exec.TriggerID]
	if !ok {
		return trigger.Execution{}, trigger.ErrNotFound
	}
	if tr.Status != trigger.StatusActive {
		return trigger.Execution{}, trigger.ErrNotActive
	}
	for _, e := range s.executions {
		if e.TriggerID == exec.TriggerID && e.Status == trigger.ExecPending {
			return trigger.Execution{}, trigger.ErrClaimConflict
		}
	}
	s.executions[exec.ID] = exec
	return exec, nil
}

func (s *memStore) FinalizeExecution(ctx context.Context, executionID string, status trigger.ExecStatus, txRef, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[executionID]
	if !ok || e.Status != trigger.ExecPending {
		return trigger.ErrNotPending
	}
	e.Status = status
	e.TxReference = txRef
	e.ErrorDetail = errorDetail
	s.executions[executionID] = e
	return nil
}

func (s *memStore) SetTriggerStatus(ctx context.Context, triggerID string, status trigger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.triggers[triggerID]
	if !ok {
		return trigger.ErrNotFound
	}
	if tr.Status != trigger.StatusActive {
		return trigger.ErrNotActive
	}
	tr.Status = status
	s.triggers[triggerID] = tr
	return nil
}

func (s *memStore) triggerStatus(id string) trigger.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers[id].Status
}

func (s *memStore) successCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.executions {
		if e.Status == trigger.ExecSuccess {
			n++
		}
	}
	return n
}

var _ trigger.Store = (*memStore)(nil)

type stubExecutor struct {
	calls int32
}

func (e *stubExecutor) Settle(ctx context.Context, owner string, side trigger.Side, amount decimal.Decimal, symbol string) (string, error) {
	atomic.AddInt32(&e.calls, 1)
	return "0xsettled", nil
}

// scriptedPrices returns the scripted values in order, repeating the last one.
func scriptedPrices(values ...int64) metrics.Provider {
	var idx int32
	return metrics.ProviderFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		i := int(atomic.AddInt32(&idx, 1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return decimal.NewFromInt(values[i]), nil
	})
}

func newEngine(t *testing.T, store trigger.Store, executor *stubExecutor, price metrics.Provider, opts Options) *Engine {
	t.Helper()
	// A nanosecond TTL forces a provider hit on every evaluation.
	cache, err := metrics.NewCache(
		map[metrics.Metric]metrics.Provider{metrics.MetricPrice: price},
		metrics.TTLs{metrics.MetricPrice: time.Nanosecond},
		noopLogger(),
	)
	if err != nil {
		t.Fatal(err)
	}
	evaluator := evaluate.New(cache, noopLogger())
	coordinator := execution.New(store, executor, nil, execution.Options{}, noopLogger())
	return New(nil, store, evaluator, coordinator, nil, opts, noopLogger())
}

func belowTrigger(id string, target int64) trigger.Trigger {
	return trigger.Trigger{
		ID:     id,
		Owner:  "0xowner",
		Symbol: "ETH",
		Side:   trigger.SideBuy,
		Amount: decimal.NewFromInt(500),
		Simple: &trigger.SimplePredicate{Operator: trigger.OperatorBelow, TargetPrice: decimal.NewFromInt(target)},
		Status: trigger.StatusActive,
	}
}

func TestTickExecutesTriggerExactlyOnce(t *testing.T) {
	store := newMemStore(belowTrigger("t1", 3000))
	executor := &stubExecutor{}
	eng := newEngine(t, store, executor, scriptedPrices(3100, 3050, 2990), Options{})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := eng.Tick(ctx, time.Now()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&executor.calls); got != 1 {
		t.Fatalf("应只结算一次, 实际 %d 次", got)
	}
	if got := store.triggerStatus("t1"); got != trigger.StatusExecuted {
		t.Fatalf("触发器应为 EXECUTED, 实际 %s", got)
	}
	if store.successCount() != 1 {
		t.Fatalf("expected 1 successful execution, got %d", store.successCount())
	}
}

func TestTickSkipsMalformedTriggerAndProcessesRest(t *testing.T) {
	bad := trigger.Trigger{ID: "bad", Owner: "0xowner", Symbol: "ETH", Side: trigger.SideBuy, Amount: decimal.NewFromInt(1), Status: trigger.StatusActive}
	store := newMemStore(bad, belowTrigger("good", 3000))
	executor := &stubExecutor{}
	eng := newEngine(t, store, executor, scriptedPrices(2990), Options{})

	if err := eng.Tick(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&executor.calls); got != 1 {
		t.Fatalf("正常触发器应不受影响, 结算 %d 次", got)
	}
	if got := store.triggerStatus("bad"); got != trigger.StatusActive {
		t.Fatalf("谓词损坏的触发器应保持 ACTIVE, 实际 %s", got)
	}
	if got := store.triggerStatus("good"); got != trigger.StatusExecuted {
		t.Fatalf("unexpected status %s", got)
	}
}

func TestTickParallelMode(t *testing.T) {
	store := newMemStore(belowTrigger("t1", 3000), belowTrigger("t2", 3000), belowTrigger("t3", 3000))
	executor := &stubExecutor{}
	eng := newEngine(t, store, executor, scriptedPrices(2990), Options{Parallelism: 3})

	if err := eng.Tick(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&executor.calls); got != 3 {
		t.Fatalf("三个触发器都应结算, 实际 %d 次", got)
	}
}

type fakeLocker struct {
	acquired bool
	unlocked int32
}

func (l *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { atomic.AddInt32(&l.unlocked, 1) }, true, nil
}

func TestTickSkipsWhenAdvisoryLockHeldElsewhere(t *testing.T) {
	store := newMemStore(belowTrigger("t1", 3000))
	executor := &stubExecutor{}
	eng := newEngine(t, store, executor, scriptedPrices(2990), Options{})
	eng.locker = &fakeLocker{acquired: false}
	eng.lockKey = 42

	if err := eng.Tick(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&executor.calls) != 0 {
		t.Fatal("锁被别的实例持有时不应评估")
	}
}

func TestTickReleasesAdvisoryLock(t *testing.T) {
	store := newMemStore()
	locker := &fakeLocker{acquired: true}
	eng := newEngine(t, store, &stubExecutor{}, scriptedPrices(1), Options{})
	eng.locker = locker
	eng.lockKey = 42

	if err := eng.Tick(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&locker.unlocked) != 1 {
		t.Fatal("tick 结束后应释放 advisory lock")
	}
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{Interval: 10 * time.Millisecond}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks int32
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, func(ctx context.Context, at time.Time) error {
			if atomic.AddInt32(&ticks, 1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler 未在取消后退出")
	}
	if atomic.LoadInt32(&ticks) < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}

func TestNewSchedulerPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("零间隔应 panic")
		}
	}()
	NewScheduler(SchedulerOptions{}, noopLogger())
}
