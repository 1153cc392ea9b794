// Package sqlcore is the library entry point: a connection pool whose
// connections each carry a prepared statement cache and a nested
// transaction manager.
//
//	pool, err := sqlcore.Open(ctx, &sqlcore.Config{URL: "file:app.db"})
//	err = pool.WithConn(ctx, func(ctx context.Context, c *sqlcore.Conn) error {
//		return c.Transaction(ctx, func(ctx context.Context, c *sqlcore.Conn) error {
//			_, err := c.Exec(ctx, sqlcore.Text("INSERT INTO users (name) VALUES (?)", "Sean"))
//			return err
//		})
//	})
package sqlcore

import (
	"context"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

type (
	Pool       = database.Pool
	PoolStats  = database.PoolStats
	Conn       = database.Conn
	Rows       = database.Rows
	Row        = database.Row
	CacheStats = database.CacheStats
	Statement  = query.Statement
	Shape      = query.Shape
	Backend    = stmtcache.Backend
	CacheSize  = stmtcache.CacheSize
	Status     = stmtcache.Status

	StaticQuery[T Shape] = query.StaticQuery[T]

	CommitError       = txn.CommitError
	CommitErrorPolicy = txn.CommitErrorPolicy
)

const (
	CacheSizeUnbounded = stmtcache.CacheSizeUnbounded
	CacheSizeDisabled  = stmtcache.CacheSizeDisabled
)

var (
	ErrNotInTransaction     = txn.ErrNotInTransaction
	ErrAlreadyInTransaction = txn.ErrAlreadyInTransaction
	ErrBrokenTransaction    = txn.ErrBrokenTransaction
	ErrConnClosed           = database.ErrConnClosed
	ErrPoolClosed           = database.ErrPoolClosed
)

var (
	Text           = query.Text
	Raw            = query.Raw
	In             = query.In
	Bun            = query.Bun
	ParseCacheSize = stmtcache.ParseCacheSize
)

// Static binds args to the statically known statement T.
func Static[T Shape](args ...any) StaticQuery[T] { return query.Static[T](args...) }

// Open validates cfg and opens a pool.
func Open(ctx context.Context, cfg *Config) (*Pool, error) {
	return database.Open(ctx, cfg.toInternal())
}
