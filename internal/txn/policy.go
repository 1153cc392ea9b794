package txn

// CommitAction is what the transaction manager does after a failed commit.
type CommitAction int

const (
	// CommitActionRollback runs the fallback rollback, closes the level and
	// returns the commit error with the rollback outcome.
	CommitActionRollback CommitAction = iota
	// CommitActionReturn closes the level without a rollback; used when the
	// server has already discarded the transaction.
	CommitActionReturn
	// CommitActionMarkBroken puts the connection into the broken state.
	CommitActionMarkBroken
)

func (a CommitAction) String() string {
	switch a {
	case CommitActionReturn:
		return "return"
	case CommitActionMarkBroken:
		return "mark_broken"
	default:
		return "rollback"
	}
}

// CommitFailure is the input to a CommitErrorPolicy.
type CommitFailure struct {
	Err error
	// ConnBroken is set when the connection already knows it is unusable.
	ConnBroken bool
}

// CommitErrorPolicy classifies commit failures. Implementations must be
// total and must not perform I/O. The returned error is the one surfaced as
// CommitError.CommitErr.
type CommitErrorPolicy interface {
	Classify(f CommitFailure) (CommitAction, error)
}

// CommitErrorPolicyFunc adapts a function to CommitErrorPolicy.
type CommitErrorPolicyFunc func(f CommitFailure) (CommitAction, error)

func (fn CommitErrorPolicyFunc) Classify(f CommitFailure) (CommitAction, error) { return fn(f) }

// RollbackOnCommitError rolls back after every commit failure unless the
// connection is already known to be broken.
var RollbackOnCommitError CommitErrorPolicy = CommitErrorPolicyFunc(func(f CommitFailure) (CommitAction, error) {
	if f.ConnBroken {
		return CommitActionMarkBroken, f.Err
	}
	return CommitActionRollback, f.Err
})
