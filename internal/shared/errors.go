package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the entity does not exist or belongs to another
	// team. Both cases look identical to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a status change not permitted from the
	// current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrBalanceExceeded indicates an amount exceeds an available balance.
	ErrBalanceExceeded = errors.New("amount exceeds available balance")
	// ErrPeriodLocked indicates the operation would mutate a document dated
	// inside a filed GST period.
	ErrPeriodLocked = errors.New("period is locked by a filed GST return")
	// ErrConcurrency surfaces database serialization failures. The caller
	// should retry the whole operation.
	ErrConcurrency = errors.New("concurrent update detected, retry")
	// ErrForbidden indicates the actor's role does not permit the operation.
	ErrForbidden = errors.New("operation not permitted for role")
)

// TransitionError carries the current and requested states of a rejected
// transition.
func TransitionError(current, requested string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
}

// MapPgError translates retryable SQLSTATEs into ErrConcurrency and leaves
// everything else untouched.
func MapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConcurrency, pgErr.Code)
		}
	}
	return err
}

// IsBusinessError reports whether err belongs to the expected business-rule
// taxonomy that handlers render as {error: message}.
func IsBusinessError(err error) bool {
	for _, sentinel := range []error{
		ErrNotFound,
		ErrInvalidTransition,
		ErrBalanceExceeded,
		ErrPeriodLocked,
		ErrConcurrency,
		ErrForbidden,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
