package trigger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecStatus is the lifecycle state of one execution attempt. An execution
// moves PENDING -> SUCCESS or PENDING -> FAILED exactly once.
type ExecStatus string

const (
	ExecPending ExecStatus = "PENDING"
	ExecSuccess ExecStatus = "SUCCESS"
	ExecFailed  ExecStatus = "FAILED"
)

// Execution records one attempt to settle a matched trigger.
type Execution struct {
	ID            string
	TriggerID     string
	Symbol        string
	Side          Side
	Amount        decimal.Decimal
	ObservedPrice decimal.Decimal
	Status        ExecStatus
	TxReference   string
	ErrorDetail   string
	ExecutedAt    time.Time
	CreatedAt     time.Time
}
