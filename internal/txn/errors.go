package txn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInTransaction is returned by Commit and Rollback when no
	// transaction is open.
	ErrNotInTransaction = errors.New("not in a transaction")
	// ErrAlreadyInTransaction is returned when an outermost-only begin is
	// attempted while a transaction is open.
	ErrAlreadyInTransaction = errors.New("already in a transaction")
	// ErrBrokenTransaction is returned by every operation once a commit
	// failure left the connection in an unrecoverable state.
	ErrBrokenTransaction = errors.New("transaction manager is broken")
)

// CommitError reports a failed COMMIT or RELEASE SAVEPOINT together with the
// outcome of the recovery rollback. RollbackErr is nil when the rollback
// succeeded or was not needed.
type CommitError struct {
	CommitErr   error
	RollbackErr error
}

func (e *CommitError) Error() string {
	if e.RollbackErr == nil {
		return fmt.Sprintf("commit failed: %v", e.CommitErr)
	}
	return fmt.Sprintf("commit failed: %v (rollback: %v)", e.CommitErr, e.RollbackErr)
}

func (e *CommitError) Unwrap() []error {
	if e.RollbackErr == nil {
		return []error{e.CommitErr}
	}
	return []error{e.CommitErr, e.RollbackErr}
}
