package apptype

// ExecuteArgs represents the arguments for the execute tool
type ExecuteArgs struct {
	SQL       string `json:"sql" jsonschema:"The SQL statement to run. Use ? placeholders for SQLite and $n for Postgres."`
	Args      []any  `json:"args,omitempty" jsonschema:"Bind values for the statement placeholders, in order."`
	Cacheable bool   `json:"cacheable,omitempty" jsonschema:"Keep the prepared statement in the connection's statement cache. Only set this for statements with a fixed shape."`
}

// ExecuteResult reports the outcome of the execute tool
type ExecuteResult struct {
	RowsAffected int64 `json:"rowsAffected"`
	LastInsertID int64 `json:"lastInsertId"`
}

// QueryArgs represents the arguments for the query tool
type QueryArgs struct {
	SQL       string `json:"sql" jsonschema:"The SQL query to run."`
	Args      []any  `json:"args,omitempty" jsonschema:"Bind values for the query placeholders, in order."`
	Cacheable bool   `json:"cacheable,omitempty" jsonschema:"Keep the prepared statement in the connection's statement cache."`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of rows to return (default 100)."`
}

// QueryResult holds the rows returned by the query tool
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// BeginArgs represents the arguments for the begin tool
type BeginArgs struct {
	Immediate bool `json:"immediate,omitempty" jsonschema:"Use BEGIN IMMEDIATE (SQLite only). Fails when a transaction is already open."`
}

// TransactionArgs is used by commit and rollback, which take no input.
type TransactionArgs struct{}

// TransactionResult reports the transaction depth after a begin/commit/rollback.
type TransactionResult struct {
	Depth uint32 `json:"depth"`
}

// StatusArgs represents the arguments for the status tool
type StatusArgs struct{}

// StatusResult describes the session connection, its statement cache and the pool.
type StatusResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuildDate     string `json:"buildDate"`
	Backend       string `json:"backend"`
	ConnectionID  string `json:"connectionId"`
	Depth         uint32 `json:"depth"`
	Broken        bool   `json:"broken"`
	CacheSize     string `json:"cacheSize"`
	CacheLen      int    `json:"cacheLen"`
	CacheCounter  uint64 `json:"cacheCounter"`
	PoolInUse     int    `json:"poolInUse"`
	PoolIdle      int    `json:"poolIdle"`
	PoolDiscarded uint64 `json:"poolDiscarded"`
}

// SetCacheSizeArgs represents the arguments for the set_cache_size tool
type SetCacheSizeArgs struct {
	Size string `json:"size" jsonschema:"unbounded, disabled, or a positive number of statements to keep (least recently used are evicted)."`
}
