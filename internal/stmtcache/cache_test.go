package stmtcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getOrPrepare(t *testing.T, c *Cache[*fakeStmt], src Source, p *preparer) MaybeCached[*fakeStmt] {
	t.Helper()
	stmt, err := c.GetOrPrepare(QueryIDOf(src), src, testBackend{}, nil, p.prepare)
	require.NoError(t, err)
	return stmt
}

func TestGetOrPrepare_PreparesOnceWhenUnbounded(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}

	first := getOrPrepare(t, c, newUsersByName("Sean"), p)
	assert.Equal(t, CacheInserted, first.Status())

	for _, name := range []string{"Tess", "Sean", "Kim"} {
		next := getOrPrepare(t, c, newUsersByName(name), p)
		assert.Equal(t, CacheHit, next.Status())
		assert.Same(t, first.Stmt(), next.Stmt())
	}

	require.Len(t, p.calls, 1)
	assert.True(t, p.calls[0].WillBeCached())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(1), c.Counter())
}

func TestGetOrPrepare_HitDoesNotRenderTypedSQL(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	getOrPrepare(t, c, newUsersByName("a"), p)

	src := newUsersByName("b")
	getOrPrepare(t, c, src, p)
	assert.Zero(t, src.renders)
}

func TestGetOrPrepare_DisabledNeverCaches(t *testing.T) {
	c := New[*fakeStmt](CacheSizeDisabled)
	p := &preparer{}

	const n = 4
	for i := 0; i < n; i++ {
		stmt := getOrPrepare(t, c, newUsersByName("Sean"), p)
		assert.Equal(t, Uncached, stmt.Status())
		assert.False(t, stmt.IsCached())
	}

	require.Len(t, p.calls, n)
	for _, call := range p.calls {
		assert.False(t, call.WillBeCached())
	}
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Counter())
}

func TestGetOrPrepare_UnsafeSourceBypassesCache(t *testing.T) {
	for _, size := range []CacheSize{CacheSizeUnbounded, CacheSize(8)} {
		t.Run(size.String(), func(t *testing.T) {
			c := New[*fakeStmt](size)
			p := &preparer{}
			src := &fakeSource{sql: "SELECT * FROM t WHERE id IN ($1, $2)", safe: false}

			for i := 0; i < 3; i++ {
				stmt := getOrPrepare(t, c, src, p)
				assert.Equal(t, Uncached, stmt.Status())
			}

			assert.Zero(t, c.Len())
			assert.Len(t, p.calls, 3)
			assert.Equal(t, 3, src.renders, "SQL keys reuse the rendered text")
		})
	}
}

func TestGetOrPrepare_UnsafeTypedSourceRendersOnce(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	src := newUsersByName("x")
	src.safe = false

	stmt := getOrPrepare(t, c, src, p)
	assert.Equal(t, Uncached, stmt.Status())
	assert.Equal(t, 1, src.renders)
	assert.Equal(t, []string{"SELECT id FROM users WHERE name = $1"}, p.sqls)
}

func TestGetOrPrepare_SQLKeys(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	prepare := func(src Source, types ...TypeMetadata) MaybeCached[*fakeStmt] {
		stmt, err := c.GetOrPrepare(QueryID{}, src, testBackend{}, types, p.prepare)
		require.NoError(t, err)
		return stmt
	}

	a := prepare(&fakeSource{sql: "SELECT $1", safe: true}, textType("int4"))
	b := prepare(&fakeSource{sql: "SELECT $1", safe: true}, textType("int4"))
	d := prepare(&fakeSource{sql: "SELECT $1", safe: true}, textType("text"))

	assert.Equal(t, CacheInserted, a.Status())
	assert.Equal(t, CacheHit, b.Status())
	assert.Equal(t, CacheInserted, d.Status())
	assert.Equal(t, 2, c.Len())
	assert.Len(t, p.calls, 2)
}

func TestGetOrPrepare_CounterPassedToDriver(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}

	for i, sql := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		stmt := getOrPrepare(t, c, &fakeSource{sql: sql, safe: true}, p)
		assert.Equal(t, uint64(i), stmt.Stmt().counter)
		assert.True(t, stmt.Stmt().cached)
	}
	assert.Equal(t, uint64(3), c.Counter())
}

func TestGetOrPrepare_ErrorsLeaveCacheUntouched(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}

	_, err := c.GetOrPrepare(QueryID{}, &fakeSource{sqlErr: errRender}, testBackend{}, nil, p.prepare)
	assert.ErrorIs(t, err, errRender)

	_, err = c.GetOrPrepare(QueryID{}, &fakeSource{sql: "SELECT 1", safeErr: errRender}, testBackend{}, nil, p.prepare)
	assert.ErrorIs(t, err, errRender)

	typed := newUsersByName("x")
	typed.sqlErr = errRender
	_, err = c.GetOrPrepare(QueryIDOf(typed), typed, testBackend{}, nil, p.prepare)
	assert.ErrorIs(t, err, errRender)

	p.err = errRender
	_, err = c.GetOrPrepare(QueryID{}, &fakeSource{sql: "SELECT 1", safe: true}, testBackend{}, nil, p.prepare)
	assert.ErrorIs(t, err, errRender)

	assert.Zero(t, c.Len())
	assert.Zero(t, c.Counter())
	assert.Len(t, p.calls, 1, "render and cacheability failures never reach the driver")
}

func TestSetCacheSize_SwapClearsCache(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}

	sqls := []string{"SELECT 1", "SELECT 2", "SELECT 3"}
	var first []*fakeStmt
	for _, sql := range sqls {
		first = append(first, getOrPrepare(t, c, &fakeSource{sql: sql, safe: true}, p).Stmt())
	}
	require.Equal(t, 3, c.Len())

	require.NoError(t, c.SetCacheSize(CacheSizeDisabled))
	assert.Zero(t, c.Len())
	for _, stmt := range first {
		assert.Equal(t, 1, stmt.closed, "dropped handles are released")
	}

	require.NoError(t, c.SetCacheSize(CacheSizeUnbounded))
	for _, sql := range sqls {
		stmt := getOrPrepare(t, c, &fakeSource{sql: sql, safe: true}, p)
		assert.Equal(t, CacheInserted, stmt.Status())
	}
	assert.Len(t, p.calls, 6)
}

func TestSetCacheSize_SameSizeKeepsEntries(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	getOrPrepare(t, c, &fakeSource{sql: "SELECT 1", safe: true}, p)

	require.NoError(t, c.SetCacheSize(CacheSizeUnbounded))
	assert.Equal(t, 1, c.Len())
}

func TestBoundedCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[*fakeStmt](CacheSize(2))
	p := &preparer{}
	a := &fakeSource{sql: "SELECT 'a'", safe: true}
	b := &fakeSource{sql: "SELECT 'b'", safe: true}
	d := &fakeSource{sql: "SELECT 'd'", safe: true}

	sa := getOrPrepare(t, c, a, p).Stmt()
	sb := getOrPrepare(t, c, b, p).Stmt()
	assert.Equal(t, CacheHit, getOrPrepare(t, c, a, p).Status())

	getOrPrepare(t, c, d, p)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, sb.closed, "b was least recently used")
	assert.Zero(t, sa.closed)

	assert.Equal(t, CacheHit, getOrPrepare(t, c, a, p).Status())
	assert.Equal(t, CacheInserted, getOrPrepare(t, c, b, p).Status())
	assert.Equal(t, CacheSize(2), c.CacheSize())
}

func TestBoundedCache_SwapClosesEveryHandle(t *testing.T) {
	c := New[*fakeStmt](CacheSize(4))
	p := &preparer{}
	a := getOrPrepare(t, c, &fakeSource{sql: "SELECT 'a'", safe: true}, p).Stmt()
	b := getOrPrepare(t, c, &fakeSource{sql: "SELECT 'b'", safe: true}, p).Stmt()
	b.closeErr = errors.New("close b")

	err := c.SetCacheSize(CacheSizeUnbounded)
	assert.ErrorIs(t, err, b.closeErr)
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Zero(t, c.Len())
}

func TestBoundedCache_EvictionCloseErrorIsDropped(t *testing.T) {
	c := New[*fakeStmt](CacheSize(1))
	p := &preparer{}
	a := getOrPrepare(t, c, &fakeSource{sql: "SELECT 'a'", safe: true}, p).Stmt()
	a.closeErr = errors.New("close a")

	getOrPrepare(t, c, &fakeSource{sql: "SELECT 'b'", safe: true}, p)
	assert.Equal(t, 1, a.closed)
	assert.NoError(t, c.Close())
}

func TestSetCacheSize_NegativeSizesAreDisabled(t *testing.T) {
	c := New[*fakeStmt](CacheSizeDisabled)
	before := c.generation

	require.NoError(t, c.SetCacheSize(CacheSize(-5)))
	assert.Equal(t, before, c.generation, "no strategy swap")
	assert.Equal(t, CacheSizeDisabled, c.CacheSize())
	assert.Equal(t, CacheSizeDisabled, CacheSize(-42).Normalize())
	assert.Equal(t, CacheSize(3), CacheSize(3).Normalize())
}

func TestMaybeCached_CloseOnlyReleasesUncached(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}

	cached := getOrPrepare(t, c, &fakeSource{sql: "SELECT 1", safe: true}, p)
	require.NoError(t, cached.Close())
	assert.Zero(t, cached.Stmt().closed)

	once := getOrPrepare(t, c, &fakeSource{sql: "SELECT 1", safe: false}, p)
	require.NoError(t, once.Close())
	assert.Equal(t, 1, once.Stmt().closed)
}

func TestClose_ReleasesAndDisables(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	stmt := getOrPrepare(t, c, &fakeSource{sql: "SELECT 1", safe: true}, p).Stmt()

	require.NoError(t, c.Close())
	assert.Equal(t, 1, stmt.closed)
	assert.Equal(t, CacheSizeDisabled, c.CacheSize())
	assert.Equal(t, Uncached, getOrPrepare(t, c, &fakeSource{sql: "SELECT 1", safe: true}, p).Status())
}

func asyncPrepare(p *preparer, release <-chan struct{}) func(string, PrepareForCache, []TypeMetadata) *Future[*fakeStmt] {
	return func(sql string, pc PrepareForCache, types []TypeMetadata) *Future[*fakeStmt] {
		stmt, err := p.prepare(sql, pc, types)
		return Go(func() (*fakeStmt, error) {
			if release != nil {
				<-release
			}
			return stmt, err
		})
	}
}

func TestGetOrPrepareAsync_InsertsAfterAwait(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	ctx := context.Background()
	src := newUsersByName("Sean")

	fut := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, nil))
	assert.Zero(t, c.Len(), "nothing is inserted before the future resolves")

	stmt, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, CacheInserted, stmt.Status())
	assert.Equal(t, 1, c.Len())

	again, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Same(t, stmt.Stmt(), again.Stmt())
	assert.Equal(t, 1, c.Len())

	hit, err := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, nil)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, hit.Status())
	assert.Len(t, p.calls, 1)
}

func TestGetOrPrepareAsync_CancelledAwaitDoesNotInsert(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	release := make(chan struct{})
	src := newUsersByName("Sean")

	fut := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, release))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fut.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Counter())

	close(release)
	stmt, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CacheInserted, stmt.Status())
	assert.Equal(t, 1, c.Len())
}

func TestGetOrPrepareAsync_ConcurrentAwaitersHonourTheirOwnContext(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	release := make(chan struct{})
	src := newUsersByName("Sean")

	fut := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, release))

	type outcome struct {
		stmt MaybeCached[*fakeStmt]
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		stmt, err := fut.Await(context.Background())
		first <- outcome{stmt, err}
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := fut.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	select {
	case got := <-first:
		require.NoError(t, got.err)
		assert.Equal(t, CacheInserted, got.stmt.Status())
	case <-time.After(5 * time.Second):
		t.Fatal("first awaiter never resolved")
	}
	assert.Equal(t, 1, c.Len())

	again, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CacheInserted, again.Status())
}

func TestGetOrPrepareAsync_StaleRegistrationIsNotInserted(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	src := newUsersByName("Sean")

	fut := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, nil))
	require.NoError(t, c.SetCacheSize(CacheSize(4)))

	stmt, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Uncached, stmt.Status())
	assert.Zero(t, c.Len())
}

func TestGetOrPrepareAsync_DuplicateRegistrationReusesResident(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	ctx := context.Background()
	src := newUsersByName("Sean")

	first := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, nil))
	second := c.GetOrPrepareAsync(QueryIDOf(src), src, testBackend{}, nil, asyncPrepare(p, nil))

	a, err := first.Await(ctx)
	require.NoError(t, err)
	b, err := second.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, CacheInserted, a.Status())
	assert.Equal(t, CacheHit, b.Status())
	assert.Same(t, a.Stmt(), b.Stmt())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(1), c.Counter())
}

func TestGetOrPrepareAsync_Errors(t *testing.T) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}

	_, err := c.GetOrPrepareAsync(QueryID{}, &fakeSource{sqlErr: errRender}, testBackend{}, nil, asyncPrepare(p, nil)).Await(context.Background())
	assert.ErrorIs(t, err, errRender)

	p.err = errRender
	_, err = c.GetOrPrepareAsync(QueryID{}, &fakeSource{sql: "SELECT 1", safe: true}, testBackend{}, nil, asyncPrepare(p, nil)).Await(context.Background())
	assert.ErrorIs(t, err, errRender)
	assert.Zero(t, c.Len())
}

func TestParseCacheSize(t *testing.T) {
	cases := map[string]CacheSize{
		"":          CacheSizeUnbounded,
		"unbounded": CacheSizeUnbounded,
		"Disabled":  CacheSizeDisabled,
		"128":       CacheSize(128),
	}
	for in, want := range cases {
		got, err := ParseCacheSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"0", "-3", "lots"} {
		_, err := ParseCacheSize(bad)
		assert.Error(t, err, bad)
	}
}

func FuzzParseCacheSize(f *testing.F) {
	f.Add("unbounded")
	f.Add("disabled")
	f.Add("64")
	f.Add("-1")
	f.Fuzz(func(t *testing.T, s string) {
		size, err := ParseCacheSize(s)
		if err != nil {
			return
		}
		round, err := ParseCacheSize(size.String())
		if err != nil {
			t.Fatalf("String() of %v does not parse: %v", size, err)
		}
		if round != size {
			t.Fatalf("round trip %q -> %v -> %v", s, size, round)
		}
	})
}

func BenchmarkGetOrPrepare_Hit(b *testing.B) {
	c := New[*fakeStmt](CacheSizeUnbounded)
	p := &preparer{}
	src := newUsersByName("Sean")
	id := QueryIDOf(src)
	if _, err := c.GetOrPrepare(id, src, testBackend{}, nil, p.prepare); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.GetOrPrepare(id, src, testBackend{}, nil, p.prepare); err != nil {
			b.Fatal(err)
		}
	}
}
