package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"swap-triggers/internal/trigger"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createTriggerSQL = `INSERT INTO triggers (
        id,
        owner,
        symbol,
        side,
        amount,
        predicate,
        status,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	triggerColumns = `id, owner, symbol, side, amount, predicate, status, created_at`

	listActiveTriggersSQL = `SELECT ` + triggerColumns + `
    FROM triggers
    WHERE status = 'ACTIVE'
    ORDER BY created_at;`

	listTriggersSQL = `SELECT ` + triggerColumns + `
    FROM triggers
    ORDER BY created_at DESC
    LIMIT $1;`

	getTriggerSQL = `SELECT ` + triggerColumns + `
    FROM triggers
    WHERE id = $1;`

	getTriggerStatusSQL = `SELECT status FROM triggers WHERE id = $1;`

	setTriggerStatusSQL = `UPDATE triggers
    SET status = $2
    WHERE id = $1
      AND status = 'ACTIVE';`

	tryClaimExecutionSQL = `INSERT INTO executions (
        id,
        trigger_id,
        symbol,
        side,
        amount,
        observed_price,
        status,
        created_at
    )
    SELECT $1, t.id, t.symbol, t.side, t.amount, $3, 'PENDING', $4
    FROM triggers t
    WHERE t.id = $2
      AND t.status = 'ACTIVE'
      AND NOT EXISTS (
          SELECT 1 FROM executions e
          WHERE e.trigger_id = t.id AND e.status = 'PENDING'
      )
    RETURNING id, trigger_id, symbol, side, amount, observed_price, status, tx_reference, error_detail, executed_at, created_at;`

	finalizeExecutionSQL = `UPDATE executions
    SET status = $2,
        tx_reference = $3,
        error_detail = $4,
        executed_at = $5
    WHERE id = $1
      AND status = 'PENDING';`

	executionColumns = `id, trigger_id, symbol, side, amount, observed_price, status, tx_reference, error_detail, executed_at, created_at`

	listRecentExecutionsSQL = `SELECT ` + executionColumns + `
    FROM executions
    ORDER BY created_at DESC
    LIMIT $1;`

	listExecutionsBetweenSQL = `SELECT ` + executionColumns + `
    FROM executions
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL implementation of the trigger/execution persistence
// contract plus the reporting queries the CLI uses.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateTrigger persists a new trigger after validating it.
func (s *Store) CreateTrigger(ctx context.Context, trig trigger.Trigger) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := trig.Validate(); err != nil {
		return err
	}

	predicate, err := encodePredicate(trig)
	if err != nil {
		return err
	}

	status := trig.Status
	if status == "" {
		status = trigger.StatusActive
	}
	createdAt := trig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, execErr := pool.Exec(ctx, createTriggerSQL,
		trig.ID,
		trig.Owner,
		trig.Symbol,
		string(trig.Side),
		trig.Amount.String(),
		predicate,
		string(status),
		createdAt,
	)
	if execErr != nil {
		return fmt.Errorf("create trigger: %w", execErr)
	}
	return nil
}

// GetTrigger loads one trigger by id.
func (s *Store) GetTrigger(ctx context.Context, id string) (trigger.Trigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return trigger.Trigger{}, err
	}

	row := pool.QueryRow(ctx, getTriggerSQL, id)
	trig, scanErr := scanTrigger(row)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return trigger.Trigger{}, trigger.ErrNotFound
	}
	if scanErr != nil {
		return trigger.Trigger{}, scanErr
	}
	return trig, nil
}

// ListActive returns every trigger eligible for evaluation.
func (s *Store) ListActive(ctx context.Context) ([]trigger.Trigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveTriggersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active triggers: %w", queryErr)
	}
	defer rows.Close()

	return collectTriggers(rows)
}

// ListTriggers returns the most recently created triggers.
func (s *Store) ListTriggers(ctx context.Context, limit int) ([]trigger.Trigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list triggers: %w", queryErr)
	}
	defer rows.Close()

	return collectTriggers(rows)
}

// SetTriggerStatus transitions an ACTIVE trigger. Terminal states are
// immutable: updating a non-ACTIVE trigger returns ErrNotActive.
func (s *Store) SetTriggerStatus(ctx context.Context, triggerID string, status trigger.Status) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if !trigger.CanTransition(trigger.StatusActive, status) {
		return fmt.Errorf("storage: invalid trigger status transition to %s", status)
	}

	cmdTag, execErr := pool.Exec(ctx, setTriggerStatusSQL, triggerID, string(status))
	if execErr != nil {
		return fmt.Errorf("set trigger status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return trigger.ErrNotActive
	}
	return nil
}

// CancelTrigger is the user-initiated terminal transition.
func (s *Store) CancelTrigger(ctx context.Context, triggerID string) error {
	return s.SetTriggerStatus(ctx, triggerID, trigger.StatusCancelled)
}

// TryClaimExecution atomically creates a PENDING execution for an ACTIVE
// trigger with no other PENDING execution. The conditional insert plus the
// partial unique index make this the de-duplication point.
func (s *Store) TryClaimExecution(ctx context.Context, exec trigger.Execution) (trigger.Execution, error) {
	pool, err := s.getPool()
	if err != nil {
		return trigger.Execution{}, err
	}

	createdAt := exec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, tryClaimExecutionSQL,
		exec.ID,
		exec.TriggerID,
		exec.ObservedPrice.String(),
		createdAt,
	)

	claimed, scanErr := scanExecution(row)
	if scanErr == nil {
		return claimed, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(scanErr, &pgErr) && pgErr.Code == "23505" {
		// Lost the race against a concurrent claimant.
		return trigger.Execution{}, trigger.ErrClaimConflict
	}
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		return trigger.Execution{}, fmt.Errorf("claim execution: %w", scanErr)
	}

	// No row inserted: either the trigger left ACTIVE or a PENDING execution
	// already exists. Disambiguate for the caller.
	var status string
	statusErr := pool.QueryRow(ctx, getTriggerStatusSQL, exec.TriggerID).Scan(&status)
	if errors.Is(statusErr, pgx.ErrNoRows) {
		return trigger.Execution{}, trigger.ErrNotFound
	}
	if statusErr != nil {
		return trigger.Execution{}, fmt.Errorf("claim execution: %w", statusErr)
	}
	if trigger.Status(status) != trigger.StatusActive {
		return trigger.Execution{}, trigger.ErrNotActive
	}
	return trigger.Execution{}, trigger.ErrClaimConflict
}

// FinalizeExecution moves a PENDING execution to its terminal status.
func (s *Store) FinalizeExecution(ctx context.Context, executionID string, status trigger.ExecStatus, txRef, errorDetail string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if status != trigger.ExecSuccess && status != trigger.ExecFailed {
		return fmt.Errorf("storage: invalid execution status %s", status)
	}

	var txRefArg, detailArg interface{}
	if txRef != "" {
		txRefArg = txRef
	}
	if errorDetail != "" {
		detailArg = errorDetail
	}

	cmdTag, execErr := pool.Exec(ctx, finalizeExecutionSQL,
		executionID,
		string(status),
		txRefArg,
		detailArg,
		time.Now().UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("finalize execution: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return trigger.ErrNotPending
	}
	return nil
}

// ListRecentExecutions lists the most recent execution records.
func (s *Store) ListRecentExecutions(ctx context.Context, limit int) ([]trigger.Execution, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentExecutionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent executions: %w", queryErr)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListExecutionsBetween lists executions within a time window.
func (s *Store) ListExecutionsBetween(ctx context.Context, from, to time.Time) ([]trigger.Execution, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listExecutionsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list executions between: %w", queryErr)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func collectTriggers(rows pgx.Rows) ([]trigger.Trigger, error) {
	triggers := make([]trigger.Trigger, 0)
	for rows.Next() {
		trig, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		triggers = append(triggers, trig)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return triggers, nil
}

func collectExecutions(rows pgx.Rows) ([]trigger.Execution, error) {
	executions := make([]trigger.Execution, 0)
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		executions = append(executions, exec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return executions, nil
}

func scanTrigger(row pgx.Row) (trigger.Trigger, error) {
	var (
		trig      trigger.Trigger
		side      string
		amountStr string
		predicate []byte
		status    string
	)

	if err := row.Scan(
		&trig.ID,
		&trig.Owner,
		&trig.Symbol,
		&side,
		&amountStr,
		&predicate,
		&status,
		&trig.CreatedAt,
	); err != nil {
		return trigger.Trigger{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return trigger.Trigger{}, fmt.Errorf("parse trigger amount: %w", err)
	}
	trig.Amount = amount
	trig.Side = trigger.Side(side)
	trig.Status = trigger.Status(status)

	if err := decodePredicate(predicate, &trig); err != nil {
		return trigger.Trigger{}, err
	}
	return trig, nil
}

func scanExecution(row pgx.Row) (trigger.Execution, error) {
	var (
		exec        trigger.Execution
		side        string
		amountStr   string
		observedStr string
		status      string
		txRef       sql.NullString
		errDetail   sql.NullString
		executedAt  sql.NullTime
	)

	if err := row.Scan(
		&exec.ID,
		&exec.TriggerID,
		&exec.Symbol,
		&side,
		&amountStr,
		&observedStr,
		&status,
		&txRef,
		&errDetail,
		&executedAt,
		&exec.CreatedAt,
	); err != nil {
		return trigger.Execution{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return trigger.Execution{}, fmt.Errorf("parse execution amount: %w", err)
	}
	observed, err := decimal.NewFromString(observedStr)
	if err != nil {
		return trigger.Execution{}, fmt.Errorf("parse observed price: %w", err)
	}

	exec.Amount = amount
	exec.ObservedPrice = observed
	exec.Side = trigger.Side(side)
	exec.Status = trigger.ExecStatus(status)
	if txRef.Valid {
		exec.TxReference = txRef.String
	}
	if errDetail.Valid {
		exec.ErrorDetail = errDetail.String
	}
	if executedAt.Valid {
		exec.ExecutedAt = executedAt.Time
	}
	return exec, nil
}

var _ trigger.Store = (*Store)(nil)
