package stmtcache

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// QueryID is an opaque tag for statements whose SQL is fixed by their type.
// The zero value means "no static tag".
type QueryID struct {
	t reflect.Type
}

// StaticQueryID returns the tag for T. Pointer types are unwrapped so *T and
// T share a tag.
func StaticQueryID[T any]() QueryID {
	return queryIDFor(reflect.TypeFor[T]())
}

// QueryIDOf returns the static tag of src, if it has one.
func QueryIDOf(src Source) QueryID {
	if qi, ok := src.(QueryIdentifier); ok {
		if id, ok := qi.QueryID(); ok {
			return id
		}
	}
	return QueryID{}
}

func queryIDFor(t reflect.Type) QueryID {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return QueryID{t: t}
}

// IsZero reports whether id carries no tag.
func (id QueryID) IsZero() bool { return id.t == nil }

func (id QueryID) String() string {
	if id.t == nil {
		return "<none>"
	}
	return id.t.String()
}

// CacheKey identifies one cached statement, either by QueryID or by SQL text
// plus bind parameter types.
type CacheKey struct {
	id        QueryID
	sql       string
	bindTypes []TypeMetadata
}

// keyID is the comparable form of a CacheKey used as the map key.
type keyID struct {
	byType    bool
	id        QueryID
	sql       string
	bindTypes string
}

// ByType builds a key from a static tag.
func ByType(id QueryID) CacheKey {
	return CacheKey{id: id}
}

// BySQL builds a key from statement text and bind types. bindTypes is copied.
func BySQL(sql string, bindTypes []TypeMetadata) CacheKey {
	return CacheKey{sql: sql, bindTypes: slices.Clone(bindTypes)}
}

// DeriveKey computes the cache key for src. A non-zero id short-circuits
// without rendering SQL; otherwise src is rendered exactly once.
func DeriveKey(id QueryID, src Source, b Backend, bindTypes []TypeMetadata) (CacheKey, error) {
	if !id.IsZero() {
		return ByType(id), nil
	}
	sql, err := src.ToSQL(b)
	if err != nil {
		return CacheKey{}, err
	}
	return BySQL(sql, bindTypes), nil
}

// IsByType reports whether the key was built from a static tag.
func (k CacheKey) IsByType() bool { return !k.id.IsZero() }

// SQL returns the statement text for SQL keys.
func (k CacheKey) SQL() (string, bool) {
	if k.IsByType() {
		return "", false
	}
	return k.sql, true
}

// BindTypes returns the bind types of SQL keys.
func (k CacheKey) BindTypes() []TypeMetadata { return k.bindTypes }

// Equal reports structural equality per variant.
func (k CacheKey) Equal(other CacheKey) bool {
	return k.identity() == other.identity()
}

func (k CacheKey) String() string {
	if k.IsByType() {
		return "type:" + k.id.String()
	}
	return fmt.Sprintf("sql:%q [%s]", k.sql, encodeBindTypes(k.bindTypes))
}

func (k CacheKey) identity() keyID {
	if k.IsByType() {
		return keyID{byType: true, id: k.id}
	}
	return keyID{sql: k.sql, bindTypes: encodeBindTypes(k.bindTypes)}
}

// encodeBindTypes renders bind types so equal descriptors produce equal text
// and descriptors of different Go types never collide.
func encodeBindTypes(types []TypeMetadata) string {
	if len(types) == 0 {
		return ""
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%T=%v", t, t)
	}
	return strings.Join(parts, "\x00")
}
