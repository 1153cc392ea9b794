package stmtcache

import (
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/metrics"
)

// PrepareForCache tells the prepare callback whether the handle it returns
// will be kept, and if so the cache counter it may use to name the
// statement on the server.
type PrepareForCache struct {
	cached  bool
	counter uint64
}

func (p PrepareForCache) WillBeCached() bool { return p.cached }

// Counter returns the cache counter for handles that will be cached.
func (p PrepareForCache) Counter() (uint64, bool) { return p.counter, p.cached }

// PrepareFunc asks the driver to prepare sql. R is either a direct result or
// a deferred one, see Completion.
type PrepareFunc[R any] func(sql string, p PrepareForCache, bindTypes []TypeMetadata) R

// Cache is the per-connection prepared statement cache.
type Cache[S any] struct {
	strategy   Strategy[S]
	counter    uint64
	generation uint64
}

// New returns a cache using the built-in strategy for size.
func New[S any](size CacheSize) *Cache[S] {
	return &Cache[S]{strategy: NewStrategy[S](size)}
}

// NewWithStrategy returns a cache backed by a custom strategy.
func NewWithStrategy[S any](strategy Strategy[S]) *Cache[S] {
	return &Cache[S]{strategy: strategy}
}

func (c *Cache[S]) CacheSize() CacheSize { return c.strategy.CacheSize() }

// Len returns the number of resident statements.
func (c *Cache[S]) Len() int { return c.strategy.Len() }

// Counter returns the number of statements inserted so far.
func (c *Cache[S]) Counter() uint64 { return c.counter }

// SetCacheSize replaces the strategy when size differs from the current one.
// The new strategy starts empty.
func (c *Cache[S]) SetCacheSize(size CacheSize) error {
	size = size.Normalize()
	if size == c.strategy.CacheSize() {
		return nil
	}
	return c.SetStrategy(NewStrategy[S](size))
}

// SetStrategy releases the current strategy and installs strategy.
// Registrations still pending against the old strategy are not inserted.
func (c *Cache[S]) SetStrategy(strategy Strategy[S]) error {
	old := c.strategy
	c.strategy = strategy
	c.generation++
	return old.Release()
}

// Close drops every cached handle. The cache keeps working afterwards with
// caching disabled.
func (c *Cache[S]) Close() error {
	return c.SetStrategy(disabledStrategy[S]{})
}

// plan is the outcome of the shared, callback-independent part of Prepare.
type plan[S any] struct {
	key  CacheKey
	sql  string
	hit  *S
	slot Slot[S]
}

func (c *Cache[S]) plan(id QueryID, src Source, b Backend, bindTypes []TypeMetadata) (plan[S], error) {
	key, err := DeriveKey(id, src, b, bindTypes)
	if err != nil {
		return plan[S]{}, err
	}
	safe, err := src.IsSafeToCache(b)
	if err != nil {
		return plan[S]{}, err
	}

	p := plan[S]{key: key}
	if safe {
		lookup := c.strategy.Lookup(key)
		if ref, ok := lookup.Hit(); ok {
			p.hit = ref
			return p, nil
		}
		p.slot, _ = lookup.Slot()
	}

	sql, ok := key.SQL()
	if !ok {
		sql, err = src.ToSQL(b)
		if err != nil {
			return plan[S]{}, err
		}
	}
	p.sql = sql
	return p, nil
}

// register returns the insertion callback for a slot obtained under the
// current generation.
func (c *Cache[S]) register(slot Slot[S]) Register[S] {
	gen := c.generation
	return func(stmt S) MaybeCached[S] {
		if gen != c.generation {
			return uncached(stmt)
		}
		ref, inserted := slot.Insert(stmt)
		if !inserted {
			_ = closeHandle(stmt)
			return MaybeCached[S]{status: CacheHit, ref: ref}
		}
		c.counter++
		return MaybeCached[S]{status: CacheInserted, ref: ref}
	}
}

// Prepare returns a cached handle for src or prepares one through prepare.
// prepare runs at most once per key while an entry for that key is resident.
func Prepare[S, R, W any](
	c *Cache[S],
	id QueryID,
	src Source,
	b Backend,
	bindTypes []TypeMetadata,
	prepare PrepareFunc[R],
	completion Completion[S, R, W],
) W {
	p, err := c.plan(id, src, b, bindTypes)
	if err != nil {
		return completion.FromError(err)
	}

	rec := metrics.Default()
	switch {
	case p.hit != nil:
		rec.IncStmtCache("hit")
		return completion.MapToCache(p.hit)
	case p.slot == nil:
		rec.IncStmtCache("uncached")
		rec.IncPrepare(false)
		return completion.MapToNoCache(prepare(p.sql, PrepareForCache{}, bindTypes))
	default:
		rec.IncStmtCache("miss")
		rec.IncPrepare(true)
		raw := prepare(p.sql, PrepareForCache{cached: true, counter: c.counter}, bindTypes)
		return completion.RegisterCache(raw, c.register(p.slot))
	}
}

// GetOrPrepare is Prepare for a synchronous prepare callback.
func (c *Cache[S]) GetOrPrepare(
	id QueryID,
	src Source,
	b Backend,
	bindTypes []TypeMetadata,
	prepare func(sql string, p PrepareForCache, bindTypes []TypeMetadata) (S, error),
) (MaybeCached[S], error) {
	res := Prepare[S, Result[S], Result[MaybeCached[S]]](c, id, src, b, bindTypes,
		func(sql string, p PrepareForCache, bindTypes []TypeMetadata) Result[S] {
			stmt, err := prepare(sql, p, bindTypes)
			return Result[S]{Value: stmt, Err: err}
		},
		syncCompletion[S]{},
	)
	return res.Unwrap()
}

// GetOrPrepareAsync is Prepare for a callback returning a Future. Nothing is
// inserted until the returned future has been awaited to completion.
func (c *Cache[S]) GetOrPrepareAsync(
	id QueryID,
	src Source,
	b Backend,
	bindTypes []TypeMetadata,
	prepare func(sql string, p PrepareForCache, bindTypes []TypeMetadata) *Future[S],
) *Future[MaybeCached[S]] {
	return Prepare[S, *Future[S], *Future[MaybeCached[S]]](c, id, src, b, bindTypes, prepare, asyncCompletion[S]{})
}
