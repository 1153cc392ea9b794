// Package query provides the statement sources executed through a
// connection's statement cache.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
)

// Statement is a cacheable source together with its bind values.
type Statement interface {
	stmtcache.Source
	Args() []any
}

// Shape renders the SQL of a statically known statement. Implementations
// are usually empty structs; the SQL must not depend on field values.
type Shape interface {
	SQL(b stmtcache.Backend) (string, error)
}

// StaticQuery is a statement tagged by its Shape type. Cache lookups for it
// never render SQL.
type StaticQuery[T Shape] struct {
	shape T
	args  []any
}

// Static binds args to the shape T.
func Static[T Shape](args ...any) StaticQuery[T] {
	var shape T
	return StaticQuery[T]{shape: shape, args: args}
}

func (q StaticQuery[T]) ToSQL(b stmtcache.Backend) (string, error) { return q.shape.SQL(b) }

func (StaticQuery[T]) IsSafeToCache(stmtcache.Backend) (bool, error) { return true, nil }

func (StaticQuery[T]) QueryID() (stmtcache.QueryID, bool) { return stmtcache.StaticQueryID[T](), true }

func (q StaticQuery[T]) Args() []any { return q.args }

// TextQuery is caller-written SQL with a fixed number of placeholders. It is
// cached by its text and bind types.
type TextQuery struct {
	sql  string
	args []any
}

func Text(sql string, args ...any) TextQuery { return TextQuery{sql: sql, args: args} }

func (q TextQuery) ToSQL(stmtcache.Backend) (string, error) { return q.sql, nil }

func (TextQuery) IsSafeToCache(stmtcache.Backend) (bool, error) { return true, nil }

func (q TextQuery) Args() []any { return q.args }

// RawQuery is an opaque SQL fragment, possibly built at runtime. It is never
// cached.
type RawQuery struct {
	sql  string
	args []any
}

func Raw(sql string, args ...any) RawQuery { return RawQuery{sql: sql, args: args} }

func (q RawQuery) ToSQL(stmtcache.Backend) (string, error) { return q.sql, nil }

func (RawQuery) IsSafeToCache(stmtcache.Backend) (bool, error) { return false, nil }

func (q RawQuery) Args() []any { return q.args }

// InQuery renders "<prefix> <column> IN (<n placeholders>) <suffix>". The
// placeholder count follows the values, so it is never cached.
type InQuery struct {
	Prefix     string
	PrefixArgs []any
	Column     string
	Values     []any
	Suffix     string
}

// In builds an IN-list filter on column appended to prefix.
func In(prefix, column string, values ...any) InQuery {
	return InQuery{Prefix: prefix, Column: column, Values: values}
}

func (q InQuery) ToSQL(b stmtcache.Backend) (string, error) {
	if q.Column == "" {
		return "", errors.New("query: IN list without column")
	}
	var sb strings.Builder
	sb.WriteString(q.Prefix)
	if q.Prefix != "" && !strings.HasSuffix(q.Prefix, " ") {
		sb.WriteByte(' ')
	}
	if len(q.Values) == 0 {
		sb.WriteString("1 = 0")
	} else {
		sb.WriteString(b.QuoteIdentifier(q.Column))
		sb.WriteString(" IN (")
		for i := range q.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.BindPlaceholder(len(q.PrefixArgs) + i + 1))
		}
		sb.WriteByte(')')
	}
	if q.Suffix != "" {
		sb.WriteByte(' ')
		sb.WriteString(q.Suffix)
	}
	return sb.String(), nil
}

func (InQuery) IsSafeToCache(stmtcache.Backend) (bool, error) { return false, nil }

func (q InQuery) Args() []any {
	args := make([]any, 0, len(q.PrefixArgs)+len(q.Values))
	args = append(args, q.PrefixArgs...)
	return append(args, q.Values...)
}

// BunQuery adapts a bun query builder. Bun interpolates bind values into
// the text, so the result is never cached and carries no args.
type BunQuery struct {
	q bun.Query
}

func Bun(q bun.Query) BunQuery { return BunQuery{q: q} }

func (q BunQuery) ToSQL(stmtcache.Backend) (sql string, err error) {
	s, ok := q.q.(fmt.Stringer)
	if !ok {
		return "", fmt.Errorf("query: bun %s query cannot be rendered", q.q.Operation())
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query: render bun %s query: %v", q.q.Operation(), r)
		}
	}()
	return s.String(), nil
}

func (BunQuery) IsSafeToCache(stmtcache.Backend) (bool, error) { return false, nil }

func (BunQuery) Args() []any { return nil }
