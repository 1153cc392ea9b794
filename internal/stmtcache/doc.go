// Package stmtcache decides, for every statement a connection wants to run,
// whether the driver should prepare it once and reuse the handle or prepare
// it for a single use.
//
// # Keys
//
// A statement is identified either by a static QueryID (its SQL depends only
// on its shape) or by its rendered SQL text together with the backend types
// of its bind parameters. Deriving a QueryID key never renders SQL.
//
// # Strategies
//
// The cache map is owned by a Strategy selected from a CacheSize value:
//
//   - CacheSizeUnbounded keeps every cacheable statement for the life of the cache
//   - CacheSizeDisabled never keeps anything
//   - a positive CacheSize keeps the most recently used statements up to that bound
//
// Swapping the size always starts from an empty map. Handles dropped from the
// map are closed when they implement io.Closer.
//
// # Sync and async drivers
//
// Prepare holds the orchestration once and is parameterized over a
// Completion, which maps whatever the driver's prepare callback returns into
// the wrapped result. GetOrPrepare uses a direct (S, error) callback;
// GetOrPrepareAsync uses a Future and only inserts into the map once the
// future has resolved on the awaiting goroutine.
//
// A Cache is owned by one connection and performs no locking.
package stmtcache
