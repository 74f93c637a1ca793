package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"swap-triggers/internal/alerting"
	"swap-triggers/internal/swap"
	"swap-triggers/internal/trigger"
)

// ErrAttemptInFlight signals a concurrent attempt on the same trigger within
// this process. The later caller backs off with no side effects.
var ErrAttemptInFlight = errors.New("execution: attempt already in flight for trigger")

// DefaultRetryable is the allow-list of failure kinds that leave the trigger
// ACTIVE for another attempt. Everything else is terminal; in particular an
// unclassified error does not retry.
func DefaultRetryable() []swap.Kind {
	return []swap.Kind{swap.KindTimeout, swap.KindRPC, swap.KindLiquidity, swap.KindRateLimited}
}

// Options tune the coordinator.
type Options struct {
	SettleTimeout time.Duration
	Retryable     []swap.Kind
}

// Coordinator owns the state machine of a single trigger activation: claim,
// settle, finalise, notify. At most one attempt per trigger runs at a time,
// and at most one PENDING execution per trigger exists in the store.
type Coordinator struct {
	store     trigger.Store
	executor  swap.Executor
	notifier  alerting.Notifier
	logger    zerolog.Logger
	timeout   time.Duration
	retryable map[swap.Kind]struct{}
	locks     *keyedLocks
	clock     func() time.Time
}

// New constructs a coordinator. A nil notifier disables notifications.
func New(store trigger.Store, executor swap.Executor, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Coordinator {
	timeout := opts.SettleTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	kinds := opts.Retryable
	if kinds == nil {
		kinds = DefaultRetryable()
	}
	retryable := make(map[swap.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		retryable[k] = struct{}{}
	}

	return &Coordinator{
		store:     store,
		executor:  executor,
		notifier:  notifier,
		logger:    logger.With().Str("component", "coordinator").Logger(),
		timeout:   timeout,
		retryable: retryable,
		locks:     newKeyedLocks(),
		clock:     time.Now,
	}
}

// Attempt drives one execution attempt to a terminal state. A settlement
// failure is recorded on the returned execution, not reported as an error;
// the error return covers claim conflicts and store failures only.
func (c *Coordinator) Attempt(ctx context.Context, trig trigger.Trigger, observedPrice decimal.Decimal) (trigger.Execution, error) {
	if !c.locks.tryAcquire(trig.ID) {
		return trigger.Execution{}, ErrAttemptInFlight
	}
	defer c.locks.release(trig.ID)

	claimed, err := c.store.TryClaimExecution(ctx, trigger.Execution{
		ID:            uuid.NewString(),
		TriggerID:     trig.ID,
		Symbol:        trig.Symbol,
		Side:          trig.Side,
		Amount:        trig.Amount,
		ObservedPrice: observedPrice,
		Status:        trigger.ExecPending,
		CreatedAt:     c.clock(),
	})
	if err != nil {
		return trigger.Execution{}, err
	}

	logger := c.logger.With().
		Str("trigger_id", trig.ID).
		Str("execution_id", claimed.ID).
		Str("symbol", trig.Symbol).
		Str("side", string(trig.Side)).
		Logger()
	logger.Info().Str("observed_price", observedPrice.String()).Msg("execution claimed, settling")

	settleCtx, cancel := context.WithTimeout(ctx, c.timeout)
	txRef, settleErr := c.executor.Settle(settleCtx, trig.Owner, trig.Side, trig.Amount, trig.Symbol)
	cancel()

	// A shutdown or user cancellation between claim and settle resolution must
	// still record the outcome.
	finishCtx, cancelFinish := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFinish()

	if settleErr != nil {
		return c.finishFailed(finishCtx, logger, trig, claimed, settleErr)
	}
	return c.finishSucceeded(finishCtx, logger, trig, claimed, txRef)
}

func (c *Coordinator) finishSucceeded(ctx context.Context, logger zerolog.Logger, trig trigger.Trigger, exec trigger.Execution, txRef string) (trigger.Execution, error) {
	if err := c.store.FinalizeExecution(ctx, exec.ID, trigger.ExecSuccess, txRef, ""); err != nil {
		return trigger.Execution{}, err
	}
	if err := c.store.SetTriggerStatus(ctx, trig.ID, trigger.StatusExecuted); err != nil {
		// The trigger may have been cancelled mid-settlement; the execution
		// record stands either way.
		logger.Warn().Err(err).Msg("could not mark trigger executed")
	}

	exec.Status = trigger.ExecSuccess
	exec.TxReference = txRef
	exec.ExecutedAt = c.clock()
	logger.Info().Str("tx", txRef).Msg("execution settled")

	c.notify(ctx, trig, exec)
	return exec, nil
}

func (c *Coordinator) finishFailed(ctx context.Context, logger zerolog.Logger, trig trigger.Trigger, exec trigger.Execution, settleErr error) (trigger.Execution, error) {
	detail := settleErr.Error()
	if err := c.store.FinalizeExecution(ctx, exec.ID, trigger.ExecFailed, "", detail); err != nil {
		return trigger.Execution{}, err
	}

	exec.Status = trigger.ExecFailed
	exec.ErrorDetail = detail
	exec.ExecutedAt = c.clock()

	kind := swap.KindOf(settleErr)
	if _, ok := c.retryable[kind]; ok {
		logger.Warn().Str("kind", string(kind)).Str("detail", detail).Msg("settlement failed, trigger stays active")
		return exec, nil
	}

	logger.Error().Str("kind", string(kind)).Str("detail", detail).Msg("settlement failed terminally, disabling trigger")
	if err := c.store.SetTriggerStatus(ctx, trig.ID, trigger.StatusFailed); err != nil {
		logger.Warn().Err(err).Msg("could not mark trigger failed")
	}
	return exec, nil
}

func (c *Coordinator) notify(ctx context.Context, trig trigger.Trigger, exec trigger.Execution) {
	if c.notifier == nil {
		return
	}

	err := c.notifier.Notify(ctx, alerting.Notification{
		Owner:         trig.Owner,
		TriggerID:     trig.ID,
		Symbol:        exec.Symbol,
		Side:          exec.Side,
		Amount:        exec.Amount,
		ObservedPrice: exec.ObservedPrice,
		TxReference:   exec.TxReference,
		ExecutedAt:    exec.ExecutedAt,
	})
	if err != nil {
		c.logger.Warn().Str("trigger_id", trig.ID).Err(err).Msg("notification failed")
	}
}
