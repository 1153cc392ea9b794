// Package backend holds the SQL dialects the statement cache renders for:
// placeholder syntax, identifier quoting, bind type metadata, and how each
// backend's commit failures are classified.
package backend

import (
	"database/sql/driver"
	"fmt"
	"reflect"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// Backend is a stmtcache.Backend that also knows its bind types and commit
// error policy.
type Backend interface {
	stmtcache.Backend
	// TypeOf maps a host value to the backend type it binds as.
	TypeOf(v any) stmtcache.TypeMetadata
	// CommitErrorPolicy classifies failed COMMIT / RELEASE SAVEPOINT.
	CommitErrorPolicy() txn.CommitErrorPolicy
}

// BindTypes returns the bind type metadata for args in order.
func BindTypes(b Backend, args []any) []stmtcache.TypeMetadata {
	if len(args) == 0 {
		return nil
	}
	types := make([]stmtcache.TypeMetadata, len(args))
	for i, a := range args {
		types[i] = b.TypeOf(a)
	}
	return types
}

// ForDriver returns the backend for a database/sql driver name.
func ForDriver(name string) (Backend, error) {
	switch name {
	case "libsql", "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "pgx":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("backend: unsupported driver %q", name)
	}
}

// valueOf resolves driver.Valuer implementations so wrapper types bind as
// the type they produce. A nil pointer binds as NULL without calling Value,
// as database/sql does.
func valueOf(v any) any {
	valuer, ok := v.(driver.Valuer)
	if !ok {
		return v
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	inner, err := valuer.Value()
	if err != nil {
		return v
	}
	return inner
}
