package stmtcache

// Backend describes the SQL dialect statements are rendered for.
type Backend interface {
	// Name identifies the backend, e.g. "sqlite" or "postgres".
	Name() string
	// BindPlaceholder renders the placeholder for the 1-based bind position.
	BindPlaceholder(position int) string
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string
}

// TypeMetadata is a backend type descriptor for one bind parameter. Values
// must be comparable; two host types that bind as the same backend type
// must produce equal TypeMetadata.
type TypeMetadata any

// Source is a statement that can render itself for a backend.
type Source interface {
	// ToSQL renders the statement text.
	ToSQL(b Backend) (string, error)
	// IsSafeToCache reports whether the rendered text is bounded by the
	// statement's shape. Statements with a variable number of placeholders
	// or opaque SQL fragments are never safe.
	IsSafeToCache(b Backend) (bool, error)
}

// QueryIdentifier is implemented by sources whose SQL is fully determined by
// their static type. QueryID must not render SQL.
type QueryIdentifier interface {
	QueryID() (QueryID, bool)
}
