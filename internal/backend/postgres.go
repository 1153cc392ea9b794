package backend

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// PgType identifies a Postgres type by OID.
type PgType struct {
	OID uint32
}

var (
	PgBool        = PgType{OID: 16}
	PgBytea       = PgType{OID: 17}
	PgInt8        = PgType{OID: 20}
	PgInt2        = PgType{OID: 21}
	PgInt4        = PgType{OID: 23}
	PgText        = PgType{OID: 25}
	PgFloat4      = PgType{OID: 700}
	PgFloat8      = PgType{OID: 701}
	PgUnknown     = PgType{OID: 705}
	PgTimestamptz = PgType{OID: 1184}
	PgNumeric     = PgType{OID: 1700}
)

var pgTypeNames = map[PgType]string{
	PgBool:        "bool",
	PgBytea:       "bytea",
	PgInt8:        "int8",
	PgInt2:        "int2",
	PgInt4:        "int4",
	PgText:        "text",
	PgFloat4:      "float4",
	PgFloat8:      "float8",
	PgUnknown:     "unknown",
	PgTimestamptz: "timestamptz",
	PgNumeric:     "numeric",
}

func (t PgType) String() string {
	if name, ok := pgTypeNames[t]; ok {
		return name
	}
	return "oid:" + strconv.FormatUint(uint64(t.OID), 10)
}

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) BindPlaceholder(position int) string { return "$" + strconv.Itoa(position) }

func (Postgres) QuoteIdentifier(name string) string { return pq.QuoteIdentifier(name) }

func (Postgres) TypeOf(v any) stmtcache.TypeMetadata {
	v = valueOf(v)
	switch v.(type) {
	case nil:
		return PgUnknown
	case []byte:
		return PgBytea
	case time.Time:
		return PgTimestamptz
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Bool:
		return PgBool
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return PgInt2
	case reflect.Int32, reflect.Uint16:
		return PgInt4
	case reflect.Int, reflect.Int64, reflect.Uint32:
		return PgInt8
	case reflect.Uint, reflect.Uint64:
		return PgNumeric
	case reflect.Float32:
		return PgFloat4
	case reflect.Float64:
		return PgFloat8
	case reflect.String:
		return PgText
	}
	return PgUnknown
}

func (Postgres) CommitErrorPolicy() txn.CommitErrorPolicy { return PostgresPolicy }

// PostgresPolicy classifies commit failures by SQLSTATE class. Class 40
// (serialization failure, deadlock) means the server already rolled the
// transaction back. Class 08 and admin shutdown codes mean the session is
// gone.
var PostgresPolicy txn.CommitErrorPolicy = txn.CommitErrorPolicyFunc(func(f txn.CommitFailure) (txn.CommitAction, error) {
	if f.ConnBroken || errors.Is(f.Err, driver.ErrBadConn) || errors.Is(f.Err, sql.ErrConnDone) {
		return txn.CommitActionMarkBroken, f.Err
	}
	var pqErr *pq.Error
	if !errors.As(f.Err, &pqErr) {
		return txn.CommitActionRollback, f.Err
	}
	switch pqErr.Code.Class() {
	case "40":
		return txn.CommitActionReturn, f.Err
	case "08":
		return txn.CommitActionMarkBroken, f.Err
	}
	switch pqErr.Code {
	case "57P01", "57P02", "57P03":
		return txn.CommitActionMarkBroken, f.Err
	}
	return txn.CommitActionRollback, f.Err
})
