package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/backend"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("pool is closed")

// Pool hands out Conns exclusively, at most MaxConns at a time.
type Pool struct {
	db      *sql.DB
	cfg     *Config
	backend backend.Backend
	manager *txn.Manager
	sem     chan struct{}

	mu        sync.Mutex
	idle      []*Conn
	inUse     int
	discarded uint64
	closed    bool
}

// PoolStats is a snapshot of the pool.
type PoolStats struct {
	MaxConns  int
	InUse     int
	Idle      int
	Discarded uint64
}

// Open validates cfg, opens the database and checks it is reachable.
func Open(ctx context.Context, cfg *Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driverName := cfg.DriverName()
	b, err := backend.ForDriver(driverName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleSec) * time.Second)
	}
	if cfg.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeSec) * time.Second)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Pool{
		db:      db,
		cfg:     cfg,
		backend: b,
		manager: &txn.Manager{Policy: b.CommitErrorPolicy(), SavepointPrefix: cfg.SavepointPrefix},
		sem:     make(chan struct{}, cfg.MaxConns),
	}, nil
}

// Backend returns the dialect of the pool's connections.
func (p *Pool) Backend() backend.Backend { return p.backend }

// Get checks out a connection, waiting for one to be returned when MaxConns
// are in use.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.observeLocked()
		p.mu.Unlock()
		return c, nil
	}
	p.inUse++
	p.mu.Unlock()

	raw, err := p.db.Conn(ctx)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		<-p.sem
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	c := newConn(raw, p.backend, p.manager, p.cfg.CacheSize)
	log.Printf("Opened connection %s (%s, statement cache %s)", c.ID(), p.backend.Name(), p.cfg.CacheSize)

	p.mu.Lock()
	p.observeLocked()
	p.mu.Unlock()
	return c, nil
}

// Put returns a connection. Broken connections, and connections still
// inside a transaction, are closed instead of reused.
func (p *Pool) Put(c *Conn) {
	if c == nil {
		return
	}
	defer func() { <-p.sem }()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--

	if p.closed || c.IsBroken() {
		if !p.closed {
			p.discarded++
			log.Printf("Discarding connection %s: broken or inside a transaction", c.ID())
		}
		if err := c.Close(); err != nil {
			log.Printf("Error closing connection %s: %v", c.ID(), err)
		}
		p.observeLocked()
		return
	}
	p.idle = append(p.idle, c)
	p.observeLocked()
}

// WithConn runs fn with a checked-out connection and returns it afterwards.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, c *Conn) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return fn(ctx, c)
}

func (p *Pool) observeLocked() {
	metrics.Default().ObservePoolStats(p.inUse, len(p.idle))
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{MaxConns: cap(p.sem), InUse: p.inUse, Idle: len(p.idle), Discarded: p.discarded}
}

// Close closes idle connections and the database. Connections still checked
// out are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		errs = append(errs, c.Close())
	}
	errs = append(errs, p.db.Close())
	return errors.Join(errs...)
}
