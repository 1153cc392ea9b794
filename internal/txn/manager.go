package txn

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/metrics"
)

// DefaultSavepointPrefix names savepoints "<prefix>_<depth>".
const DefaultSavepointPrefix = "sqlcore_savepoint"

// Connection is what the manager needs from a connection. Transaction
// control statements always go through ExecuteUncached.
type Connection interface {
	TransactionState() *State
	ExecuteUncached(ctx context.Context, sql string) error
}

// ConnectionHealth is implemented by connections that can tell whether the
// underlying session is already unusable.
type ConnectionHealth interface {
	IsConnectionBroken() bool
}

// Manager drives BEGIN/SAVEPOINT/COMMIT/ROLLBACK for a connection's State.
// It holds no per-connection data and can be shared.
type Manager struct {
	Policy          CommitErrorPolicy
	SavepointPrefix string
}

// NewManager returns a manager using policy, or RollbackOnCommitError when
// policy is nil.
func NewManager(policy CommitErrorPolicy) *Manager {
	return &Manager{Policy: policy, SavepointPrefix: DefaultSavepointPrefix}
}

func (m *Manager) policy() CommitErrorPolicy {
	if m.Policy == nil {
		return RollbackOnCommitError
	}
	return m.Policy
}

func (m *Manager) savepoint(depth uint32) string {
	prefix := m.SavepointPrefix
	if prefix == "" {
		prefix = DefaultSavepointPrefix
	}
	return prefix + "_" + strconv.FormatUint(uint64(depth), 10)
}

// Depth returns the connection's transaction depth.
func (m *Manager) Depth(conn Connection) (Depth, error) {
	return conn.TransactionState().Depth()
}

// IsBroken is the pool hook: a connection is not reusable when its manager
// is broken or it still has an open transaction.
func (m *Manager) IsBroken(conn Connection) bool {
	depth, err := conn.TransactionState().Depth()
	if err != nil {
		return true
	}
	_, open := depth.Get()
	return open
}

// Begin opens a transaction, or a savepoint when one is already open.
func (m *Manager) Begin(ctx context.Context, conn Connection) (err error) {
	defer func() { metrics.Default().IncTxOp("begin", err == nil) }()
	state := conn.TransactionState()
	depth, err := state.Depth()
	if err != nil {
		return err
	}
	sql := "BEGIN"
	if n, open := depth.Get(); open {
		sql = "SAVEPOINT " + m.savepoint(n)
	}
	if err := conn.ExecuteUncached(ctx, sql); err != nil {
		return err
	}
	state.incrementDepth()
	return nil
}

// BeginWithSQL opens the outermost transaction with a custom statement such
// as "BEGIN IMMEDIATE". It fails with ErrAlreadyInTransaction when a
// transaction is open.
func (m *Manager) BeginWithSQL(ctx context.Context, conn Connection, sql string) (err error) {
	defer func() { metrics.Default().IncTxOp("begin", err == nil) }()
	state := conn.TransactionState()
	depth, err := state.Depth()
	if err != nil {
		return err
	}
	if _, open := depth.Get(); open {
		return ErrAlreadyInTransaction
	}
	if err := conn.ExecuteUncached(ctx, sql); err != nil {
		return err
	}
	state.incrementDepth()
	return nil
}

// Rollback rolls back the innermost level. On failure the depth is left as is.
func (m *Manager) Rollback(ctx context.Context, conn Connection) (err error) {
	defer func() { metrics.Default().IncTxOp("rollback", err == nil) }()
	state := conn.TransactionState()
	depth, err := state.Depth()
	if err != nil {
		return err
	}
	n, open := depth.Get()
	if !open {
		return ErrNotInTransaction
	}
	sql := "ROLLBACK"
	if n > 1 {
		sql = "ROLLBACK TO SAVEPOINT " + m.savepoint(n-1)
	}
	if err := conn.ExecuteUncached(ctx, sql); err != nil {
		return err
	}
	state.decrementDepth()
	return nil
}

// Commit commits the innermost level. When the commit statement fails the
// policy decides between rolling back, returning directly, or marking the
// connection broken; every path returns a *CommitError.
func (m *Manager) Commit(ctx context.Context, conn Connection) (err error) {
	defer func() { metrics.Default().IncTxOp("commit", err == nil) }()
	state := conn.TransactionState()
	depth, err := state.Depth()
	if err != nil {
		return err
	}
	n, open := depth.Get()
	if !open {
		return ErrNotInTransaction
	}
	commitSQL, rollbackSQL := "COMMIT", "ROLLBACK"
	if n > 1 {
		name := m.savepoint(n - 1)
		commitSQL = "RELEASE SAVEPOINT " + name
		rollbackSQL = "ROLLBACK TO SAVEPOINT " + name
	}

	commitErr := conn.ExecuteUncached(ctx, commitSQL)
	if commitErr == nil {
		state.decrementDepth()
		return nil
	}

	failure := CommitFailure{Err: commitErr}
	if h, ok := conn.(ConnectionHealth); ok {
		failure.ConnBroken = h.IsConnectionBroken()
	}
	action, surfaced := m.policy().Classify(failure)
	if surfaced == nil {
		surfaced = commitErr
	}

	switch action {
	case CommitActionReturn:
		state.decrementDepth()
		return &CommitError{CommitErr: surfaced}
	case CommitActionMarkBroken:
		state.markBroken()
		metrics.Default().IncBrokenConn()
		log.Printf("transaction manager broken after failed %q: %v", commitSQL, surfaced)
		return &CommitError{CommitErr: surfaced, RollbackErr: ErrBrokenTransaction}
	default:
		rollbackErr := conn.ExecuteUncached(ctx, rollbackSQL)
		state.decrementDepth()
		return &CommitError{CommitErr: surfaced, RollbackErr: rollbackErr}
	}
}

// Transaction runs fn inside Begin and Commit, rolling back when fn returns
// an error or panics.
func (m *Manager) Transaction(ctx context.Context, conn Connection, fn func(ctx context.Context) error) error {
	if err := m.Begin(ctx, conn); err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			_ = m.Rollback(ctx, conn)
		}
	}()

	fnErr := fn(ctx)
	finished = true
	if fnErr != nil {
		if rbErr := m.Rollback(ctx, conn); rbErr != nil && !errors.Is(rbErr, ErrBrokenTransaction) {
			return errors.Join(fnErr, rbErr)
		}
		return fnErr
	}
	return m.Commit(ctx, conn)
}
