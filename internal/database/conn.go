package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/backend"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// ErrConnClosed is returned by operations on a closed Conn.
var ErrConnClosed = errors.New("connection is closed")

// Stmt is a prepared statement that is either owned by the connection's
// cache or by the caller.
type Stmt = stmtcache.MaybeCached[*sql.Stmt]

// Conn is one physical connection with its own statement cache and
// transaction state. A Conn is not safe for concurrent use; the pool hands
// it to one borrower at a time.
type Conn struct {
	id      uuid.UUID
	raw     *sql.Conn
	backend backend.Backend
	cache   *stmtcache.Cache[*sql.Stmt]
	state   txn.State
	manager *txn.Manager
	broken  bool
	closed  bool
}

func newConn(raw *sql.Conn, b backend.Backend, manager *txn.Manager, size stmtcache.CacheSize) *Conn {
	return &Conn{
		id:      uuid.New(),
		raw:     raw,
		backend: b,
		cache:   stmtcache.New[*sql.Stmt](size),
		manager: manager,
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() uuid.UUID { return c.id }

// Backend returns the dialect statements are rendered for.
func (c *Conn) Backend() backend.Backend { return c.backend }

// TransactionState implements txn.Connection.
func (c *Conn) TransactionState() *txn.State { return &c.state }

// ExecuteUncached implements txn.Connection. The statement never touches
// the cache.
func (c *Conn) ExecuteUncached(ctx context.Context, sqlText string) error {
	if c.closed {
		return ErrConnClosed
	}
	_, err := c.raw.ExecContext(ctx, sqlText)
	c.noteErr(err)
	return err
}

// IsConnectionBroken implements txn.ConnectionHealth.
func (c *Conn) IsConnectionBroken() bool { return c.broken }

func (c *Conn) noteErr(err error) {
	if err == nil || c.broken {
		return
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		c.broken = true
		metrics.Default().IncBrokenConn()
		log.Printf("Connection %s reported unusable: %v", c.id, err)
	}
}

// StatementName derives a server-side statement name from the SQL text and
// the cache counter at prepare time.
func StatementName(sqlText string, counter uint64) string {
	return fmt.Sprintf("stmt_%016x_%d", xxhash.Sum64String(sqlText), counter)
}

func (c *Conn) prepareFunc(ctx context.Context) func(string, stmtcache.PrepareForCache, []stmtcache.TypeMetadata) (*sql.Stmt, error) {
	return func(sqlText string, p stmtcache.PrepareForCache, _ []stmtcache.TypeMetadata) (*sql.Stmt, error) {
		stmt, err := c.raw.PrepareContext(ctx, sqlText)
		if err != nil {
			c.noteErr(err)
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		if counter, ok := p.Counter(); ok {
			log.Printf("Connection %s cached statement %s", c.id, StatementName(sqlText, counter))
		}
		return stmt, nil
	}
}

// Prepare returns the cached statement for st, preparing it on a miss.
// Callers must Close the result; closing a cached statement is a no-op.
func (c *Conn) Prepare(ctx context.Context, st query.Statement) (Stmt, error) {
	if c.closed {
		return Stmt{}, ErrConnClosed
	}
	bindTypes := backend.BindTypes(c.backend, st.Args())
	return c.cache.GetOrPrepare(stmtcache.QueryIDOf(st), st, c.backend, bindTypes, c.prepareFunc(ctx))
}

// PrepareAsync prepares st on a separate goroutine. The connection must not
// be used again until the returned future has been awaited.
func (c *Conn) PrepareAsync(ctx context.Context, st query.Statement) *stmtcache.Future[Stmt] {
	if c.closed {
		return stmtcache.Ready(Stmt{}, ErrConnClosed)
	}
	prepare := c.prepareFunc(ctx)
	bindTypes := backend.BindTypes(c.backend, st.Args())
	return c.cache.GetOrPrepareAsync(stmtcache.QueryIDOf(st), st, c.backend, bindTypes,
		func(sqlText string, p stmtcache.PrepareForCache, bindTypes []stmtcache.TypeMetadata) *stmtcache.Future[*sql.Stmt] {
			return stmtcache.Go(func() (*sql.Stmt, error) { return prepare(sqlText, p, bindTypes) })
		})
}

// Exec runs st and returns its result.
func (c *Conn) Exec(ctx context.Context, st query.Statement) (res sql.Result, err error) {
	done := metrics.TimeOp("exec")
	defer func() { done(err == nil) }()

	stmt, err := c.Prepare(ctx, st)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	res, err = stmt.Stmt().ExecContext(ctx, st.Args()...)
	c.noteErr(err)
	return res, err
}

// Rows wraps sql.Rows and releases an uncached statement on Close.
type Rows struct {
	*sql.Rows
	stmt Stmt
}

func (r *Rows) Close() error {
	return errors.Join(r.Rows.Close(), r.stmt.Close())
}

// Query runs st and returns its rows. The caller must Close them.
func (c *Conn) Query(ctx context.Context, st query.Statement) (rows *Rows, err error) {
	done := metrics.TimeOp("query")
	defer func() { done(err == nil) }()

	stmt, err := c.Prepare(ctx, st)
	if err != nil {
		return nil, err
	}
	r, err := stmt.Stmt().QueryContext(ctx, st.Args()...)
	if err != nil {
		c.noteErr(err)
		_ = stmt.Close()
		return nil, err
	}
	return &Rows{Rows: r, stmt: stmt}, nil
}

// Row is the result of QueryRow.
type Row struct {
	rows *Rows
	err  error
}

// Scan copies the first row into dest, or returns sql.ErrNoRows.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := r.rows.Scan(dest...); err != nil {
		return err
	}
	return r.rows.Close()
}

// Err returns the error from running the query, if any.
func (r *Row) Err() error { return r.err }

// QueryRow runs st expecting at most one row.
func (c *Conn) QueryRow(ctx context.Context, st query.Statement) *Row {
	rows, err := c.Query(ctx, st)
	return &Row{rows: rows, err: err}
}

// Begin opens a transaction or a nested savepoint.
func (c *Conn) Begin(ctx context.Context) error { return c.manager.Begin(ctx, c) }

// BeginWithSQL opens the outermost transaction with a custom statement.
func (c *Conn) BeginWithSQL(ctx context.Context, sqlText string) error {
	return c.manager.BeginWithSQL(ctx, c, sqlText)
}

// BeginImmediate opens a SQLite write transaction that takes the reserved
// lock up front.
func (c *Conn) BeginImmediate(ctx context.Context) error {
	if c.backend.Name() != "sqlite" {
		return fmt.Errorf("BEGIN IMMEDIATE is not supported by the %s backend", c.backend.Name())
	}
	return c.manager.BeginWithSQL(ctx, c, "BEGIN IMMEDIATE")
}

func (c *Conn) Commit(ctx context.Context) error { return c.manager.Commit(ctx, c) }

func (c *Conn) Rollback(ctx context.Context) error { return c.manager.Rollback(ctx, c) }

// Transaction runs fn inside a transaction, or a savepoint when one is
// already open.
func (c *Conn) Transaction(ctx context.Context, fn func(ctx context.Context, conn *Conn) error) error {
	return c.manager.Transaction(ctx, c, func(ctx context.Context) error { return fn(ctx, c) })
}

// TransactionDepth returns the nesting level, 0 when no transaction is open.
func (c *Conn) TransactionDepth() (uint32, error) {
	depth, err := c.manager.Depth(c)
	if err != nil {
		return 0, err
	}
	n, _ := depth.Get()
	return n, nil
}

// IsBroken reports whether the connection must not go back to the pool.
func (c *Conn) IsBroken() bool {
	return c.closed || c.broken || c.manager.IsBroken(c)
}

// SetCacheSize replaces the statement cache strategy. Cached statements are
// closed when the size changes.
func (c *Conn) SetCacheSize(size stmtcache.CacheSize) error {
	size = size.Normalize()
	if size == c.cache.CacheSize() {
		return nil
	}
	log.Printf("Connection %s statement cache %s -> %s", c.id, c.cache.CacheSize(), size)
	return c.cache.SetCacheSize(size)
}

// CacheStats is a snapshot of the statement cache.
type CacheStats struct {
	Size    stmtcache.CacheSize
	Len     int
	Counter uint64
}

func (c *Conn) CacheStats() CacheStats {
	return CacheStats{Size: c.cache.CacheSize(), Len: c.cache.Len(), Counter: c.cache.Counter()}
}

// Close releases cached statements and the underlying connection. A broken
// connection, or one left inside a transaction, is dropped from the
// database/sql pool instead of being returned to it.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	discard := c.IsBroken()
	c.closed = true
	cacheErr := c.cache.Close()
	if discard {
		// database/sql closes the driver connection when Raw reports ErrBadConn.
		_ = c.raw.Raw(func(any) error { return driver.ErrBadConn })
		return cacheErr
	}
	return errors.Join(cacheErr, c.raw.Close())
}
