package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"swap-triggers/internal/evaluate"
	"swap-triggers/internal/execution"
	"swap-triggers/internal/trigger"
)

// AdvisoryLocker guards a tick against concurrent engine instances.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Options tune the evaluation loop.
type Options struct {
	// TriggerDelay spaces out triggers in sequential mode so shared
	// rate-limited metric sources are not burst.
	TriggerDelay time.Duration
	// Parallelism > 1 evaluates triggers concurrently with that bound.
	Parallelism int
	// LockKey enables the advisory lock when non-zero and a locker is set.
	LockKey int64
}

// Engine is the top-level periodic driver: each tick lists the ACTIVE
// triggers, evaluates each predicate, and hands matches to the coordinator.
// Each engine owns its scheduler and cache wiring; nothing is process-global.
type Engine struct {
	sched       *Scheduler
	store       trigger.Store
	evaluator   *evaluate.Evaluator
	coordinator *execution.Coordinator
	logger      zerolog.Logger

	delay       time.Duration
	parallelism int
	locker      AdvisoryLocker
	lockKey     int64
}

// New constructs the engine. locker may be nil.
func New(sched *Scheduler, store trigger.Store, evaluator *evaluate.Evaluator, coordinator *execution.Coordinator, locker AdvisoryLocker, opts Options, logger zerolog.Logger) *Engine {
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	return &Engine{
		sched:       sched,
		store:       store,
		evaluator:   evaluator,
		coordinator: coordinator,
		logger:      logger.With().Str("component", "engine").Logger(),
		delay:       opts.TriggerDelay,
		parallelism: parallelism,
		locker:      locker,
		lockKey:     opts.LockKey,
	}
}

// Run starts the periodic loop and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.sched == nil {
		return errors.New("engine: scheduler not configured")
	}
	return e.sched.Run(ctx, e.Tick)
}

// Tick evaluates every ACTIVE trigger once. One trigger's failure never
// aborts the rest of the tick.
func (e *Engine) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		e.logger.Debug().Time("tick", at).Msg("skip tick, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	triggers, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active triggers: %w", err)
	}
	if len(triggers) == 0 {
		e.logger.Debug().Time("tick", at).Msg("no active triggers")
		return nil
	}

	e.logger.Info().Time("tick", at).Int("active", len(triggers)).Msg("evaluating triggers")

	if e.parallelism > 1 {
		group := new(errgroup.Group)
		group.SetLimit(e.parallelism)
		for _, trig := range triggers {
			group.Go(func() error {
				e.process(ctx, trig)
				return nil
			})
		}
		return group.Wait()
	}

	for i, trig := range triggers {
		if i > 0 && e.delay > 0 {
			timer := time.NewTimer(e.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		e.process(ctx, trig)
	}
	return nil
}

func (e *Engine) process(ctx context.Context, trig trigger.Trigger) {
	logger := e.logger.With().Str("trigger_id", trig.ID).Str("symbol", trig.Symbol).Logger()

	outcome, err := e.evaluator.Evaluate(ctx, trig, nil)
	if err != nil {
		// Malformed predicates are skipped, never matched; the trigger stays
		// ACTIVE so the owner can fix it.
		logger.Warn().Err(err).Msg("trigger evaluation failed, skipping")
		return
	}

	logTrail(logger, outcome)
	if !outcome.Matched {
		return
	}

	logger.Info().Str("observed_price", outcome.Price.String()).Msg("predicate matched, attempting execution")
	exec, err := e.coordinator.Attempt(ctx, trig, outcome.Price)
	switch {
	case errors.Is(err, trigger.ErrClaimConflict), errors.Is(err, execution.ErrAttemptInFlight):
		logger.Debug().Msg("execution already claimed elsewhere")
	case errors.Is(err, trigger.ErrNotActive):
		logger.Debug().Msg("trigger no longer active")
	case err != nil:
		logger.Error().Err(err).Msg("execution attempt failed to resolve")
	case exec.Status == trigger.ExecSuccess:
		logger.Info().Str("execution_id", exec.ID).Str("tx", exec.TxReference).Msg("trigger executed")
	default:
		logger.Warn().Str("execution_id", exec.ID).Str("detail", exec.ErrorDetail).Msg("execution attempt failed")
	}
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.lockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func logTrail(logger zerolog.Logger, outcome evaluate.Outcome) {
	for _, step := range outcome.Trail {
		event := logger.Debug().
			Str("metric", string(step.Metric)).
			Str("operator", step.Operator).
			Str("target", step.Target.String()).
			Bool("passed", step.Passed)
		if step.Err != "" {
			event = event.Str("error", step.Err)
		} else {
			event = event.Str("observed", step.Observed.String())
		}
		event.Msg("condition evaluated")
	}
}
