package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"swap-triggers/internal/trigger"
)

// Kind classifies settlement failures for the retry policy.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindRPC               Kind = "rpc"
	KindLiquidity         Kind = "liquidity"
	KindRateLimited       Kind = "rate_limited"
	KindAuthorization     Kind = "authorization"
	KindInvalidParams     Kind = "invalid_params"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindRejected          Kind = "rejected"
	KindUnknown           Kind = "unknown"
)

// Error is a settlement failure carrying its classification.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("swap: %s", e.Kind)
	}
	return fmt.Sprintf("swap: %s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classification from a settlement error. Anything the
// executor did not classify is KindUnknown, which the coordinator treats as
// non-retryable.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Executor settles a swap against a liquidity venue and returns a transaction
// reference. The call honours ctx cancellation and deadline.
type Executor interface {
	Settle(ctx context.Context, owner string, side trigger.Side, amount decimal.Decimal, symbol string) (string, error)
}
