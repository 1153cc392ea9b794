package database

import (
	"context"
	"strconv"
	"testing"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
)

func setupBenchConn(b *testing.B, size stmtcache.CacheSize) (*Conn, func()) {
	b.Helper()
	cfg := NewConfig()
	cfg.URL = "file:benchdb-" + size.String() + "?mode=memory&cache=shared"
	cfg.MaxConns = 1
	cfg.CacheSize = size
	ctx := context.Background()
	pool, err := Open(ctx, cfg)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	conn, err := pool.Get(ctx)
	if err != nil {
		b.Fatalf("Get: %v", err)
	}
	if _, err := conn.Exec(ctx, query.Raw("CREATE TABLE IF NOT EXISTS bench (id INTEGER PRIMARY KEY, name TEXT)")); err != nil {
		b.Fatalf("create: %v", err)
	}
	return conn, func() {
		pool.Put(conn)
		_ = pool.Close()
	}
}

func benchmarkInsert(b *testing.B, size stmtcache.CacheSize) {
	conn, cleanup := setupBenchConn(b, size)
	defer cleanup()
	ctx := context.Background()

	if err := conn.Begin(ctx); err != nil {
		b.Fatalf("Begin: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Exec(ctx, query.Static[insertBench]("n"+strconv.Itoa(i))); err != nil {
			b.Fatalf("Exec: %v", err)
		}
	}
	b.StopTimer()
	if err := conn.Rollback(ctx); err != nil {
		b.Fatalf("Rollback: %v", err)
	}
}

type insertBench struct{}

func (insertBench) SQL(b stmtcache.Backend) (string, error) {
	return "INSERT INTO bench (name) VALUES (" + b.BindPlaceholder(1) + ")", nil
}

func BenchmarkExec_Cached(b *testing.B)   { benchmarkInsert(b, stmtcache.CacheSizeUnbounded) }
func BenchmarkExec_Uncached(b *testing.B) { benchmarkInsert(b, stmtcache.CacheSizeDisabled) }
