package stmtcache

// Status tells where a MaybeCached handle came from.
type Status int

const (
	// Uncached handles were prepared for a single use.
	Uncached Status = iota
	// CacheHit handles were already resident.
	CacheHit
	// CacheInserted handles were prepared by this call and are now resident.
	CacheInserted
)

func (s Status) String() string {
	switch s {
	case CacheHit:
		return "hit"
	case CacheInserted:
		return "inserted"
	default:
		return "uncached"
	}
}

// MaybeCached wraps a prepared handle together with its cache status.
// Cached handles are owned by the cache and stay valid until the next
// operation on it; uncached handles belong to the caller.
type MaybeCached[S any] struct {
	status Status
	stmt   S
	ref    *S
}

func uncached[S any](stmt S) MaybeCached[S] {
	return MaybeCached[S]{status: Uncached, stmt: stmt}
}

func (m MaybeCached[S]) Status() Status { return m.status }

func (m MaybeCached[S]) IsCached() bool { return m.status != Uncached }

// Stmt returns the prepared handle.
func (m MaybeCached[S]) Stmt() S {
	if m.ref != nil {
		return *m.ref
	}
	return m.stmt
}

// Close releases uncached handles. Cached handles are left to the cache.
func (m MaybeCached[S]) Close() error {
	if m.status != Uncached {
		return nil
	}
	return closeHandle(m.stmt)
}

// Result is the synchronous outcome of a prepare callback.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) Unwrap() (T, error) { return r.Value, r.Err }

// Register inserts a resolved handle into the cache slot reserved for it.
type Register[S any] func(stmt S) MaybeCached[S]

// Completion maps the raw return value R of a prepare callback into the
// wrapped return value W. Prepare only talks to the callback's result through
// these four operations.
type Completion[S, R, W any] interface {
	FromError(err error) W
	MapToNoCache(raw R) W
	MapToCache(ref *S) W
	RegisterCache(raw R, register Register[S]) W
}

type syncCompletion[S any] struct{}

func (syncCompletion[S]) FromError(err error) Result[MaybeCached[S]] {
	return Result[MaybeCached[S]]{Err: err}
}

func (syncCompletion[S]) MapToNoCache(raw Result[S]) Result[MaybeCached[S]] {
	if raw.Err != nil {
		return Result[MaybeCached[S]]{Err: raw.Err}
	}
	return Result[MaybeCached[S]]{Value: uncached(raw.Value)}
}

func (syncCompletion[S]) MapToCache(ref *S) Result[MaybeCached[S]] {
	return Result[MaybeCached[S]]{Value: MaybeCached[S]{status: CacheHit, ref: ref}}
}

func (syncCompletion[S]) RegisterCache(raw Result[S], register Register[S]) Result[MaybeCached[S]] {
	if raw.Err != nil {
		return Result[MaybeCached[S]]{Err: raw.Err}
	}
	return Result[MaybeCached[S]]{Value: register(raw.Value)}
}

type asyncCompletion[S any] struct{}

func (asyncCompletion[S]) FromError(err error) *Future[MaybeCached[S]] {
	return Ready(MaybeCached[S]{}, err)
}

func (asyncCompletion[S]) MapToNoCache(raw *Future[S]) *Future[MaybeCached[S]] {
	return Then(raw, func(stmt S, err error) (MaybeCached[S], error) {
		if err != nil {
			return MaybeCached[S]{}, err
		}
		return uncached(stmt), nil
	})
}

func (asyncCompletion[S]) MapToCache(ref *S) *Future[MaybeCached[S]] {
	return Ready(MaybeCached[S]{status: CacheHit, ref: ref}, nil)
}

func (asyncCompletion[S]) RegisterCache(raw *Future[S], register Register[S]) *Future[MaybeCached[S]] {
	return Then(raw, func(stmt S, err error) (MaybeCached[S], error) {
		if err != nil {
			return MaybeCached[S]{}, err
		}
		return register(stmt), nil
	})
}
