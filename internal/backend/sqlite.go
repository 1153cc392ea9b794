package backend

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// SQLiteType is a SQLite storage class.
type SQLiteType string

const (
	SQLiteInteger SQLiteType = "INTEGER"
	SQLiteReal    SQLiteType = "REAL"
	SQLiteText    SQLiteType = "TEXT"
	SQLiteBlob    SQLiteType = "BLOB"
	SQLiteNull    SQLiteType = "NULL"
)

// SQLite is the libSQL / SQLite dialect.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) BindPlaceholder(int) string { return "?" }

func (SQLite) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// TypeOf maps every integer kind and bool to INTEGER, so e.g. int32 and
// int64 binds share a cache key.
func (SQLite) TypeOf(v any) stmtcache.TypeMetadata {
	v = valueOf(v)
	switch v.(type) {
	case nil:
		return SQLiteNull
	case []byte:
		return SQLiteBlob
	case string, time.Time:
		return SQLiteText
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return SQLiteInteger
	case reflect.Float32, reflect.Float64:
		return SQLiteReal
	case reflect.String:
		return SQLiteText
	case reflect.Slice:
		if reflect.TypeOf(v).Elem().Kind() == reflect.Uint8 {
			return SQLiteBlob
		}
	}
	return SQLiteText
}

func (SQLite) CommitErrorPolicy() txn.CommitErrorPolicy { return SQLitePolicy }

// SQLitePolicy marks the connection broken when the driver reports it
// unusable and otherwise rolls back. A busy COMMIT leaves the SQLite
// transaction open, so the rollback is required.
var SQLitePolicy txn.CommitErrorPolicy = txn.CommitErrorPolicyFunc(func(f txn.CommitFailure) (txn.CommitAction, error) {
	if f.ConnBroken || errors.Is(f.Err, driver.ErrBadConn) || errors.Is(f.Err, sql.ErrConnDone) {
		return txn.CommitActionMarkBroken, f.Err
	}
	return txn.CommitActionRollback, f.Err
})
