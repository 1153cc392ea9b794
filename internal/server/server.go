package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
)

const (
	serverName        = "sqlcore-libsql-go"
	defaultQueryLimit = 100
)

// MCPServer exposes one SQL session over MCP. All tool calls share a single
// pinned connection so transactions span calls.
type MCPServer struct {
	server *mcp.Server
	pool   *database.Pool

	mu   sync.Mutex
	conn *database.Conn
}

// NewMCPServer creates a new MCP server
func NewMCPServer(pool *database.Pool) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	s := &MCPServer{
		server: server,
		pool:   pool,
	}
	s.setupToolHandlers()
	return s
}

func schemaFor[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T]()
	if err != nil {
		var zero T
		panic(fmt.Sprintf("failed to create schema for %T: %v", zero, err))
	}
	return schema
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "execute",
		Title:        "Execute Statement",
		Description:  "Run a SQL statement that returns no rows on the session connection.",
		InputSchema:  schemaFor[apptype.ExecuteArgs](),
		OutputSchema: schemaFor[apptype.ExecuteResult](),
	}, s.handleExecute)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  &mcp.ToolAnnotations{Title: "Query"},
		Name:         "query",
		Title:        "Query",
		Description:  "Run a SQL query on the session connection and return its rows.",
		InputSchema:  schemaFor[apptype.QueryArgs](),
		OutputSchema: schemaFor[apptype.QueryResult](),
	}, s.handleQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "begin",
		Title:        "Begin Transaction",
		Description:  "Open a transaction, or a savepoint when one is already open.",
		InputSchema:  schemaFor[apptype.BeginArgs](),
		OutputSchema: schemaFor[apptype.TransactionResult](),
	}, s.handleBegin)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "commit",
		Title:        "Commit",
		Description:  "Commit the innermost transaction level.",
		InputSchema:  schemaFor[apptype.TransactionArgs](),
		OutputSchema: schemaFor[apptype.TransactionResult](),
	}, s.handleCommit)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "rollback",
		Title:        "Rollback",
		Description:  "Roll back the innermost transaction level.",
		InputSchema:  schemaFor[apptype.TransactionArgs](),
		OutputSchema: schemaFor[apptype.TransactionResult](),
	}, s.handleRollback)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  &mcp.ToolAnnotations{Title: "Status"},
		Name:         "status",
		Title:        "Status",
		Description:  "Report transaction depth, statement cache and pool state.",
		InputSchema:  schemaFor[apptype.StatusArgs](),
		OutputSchema: schemaFor[apptype.StatusResult](),
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "set_cache_size",
		Title:        "Set Statement Cache Size",
		Description:  "Replace the session's statement cache strategy. Cached statements are released.",
		InputSchema:  schemaFor[apptype.SetCacheSizeArgs](),
		OutputSchema: schemaFor[apptype.StatusResult](),
	}, s.handleSetCacheSize)
}

// session returns the pinned connection, replacing it when the previous one
// became unusable.
func (s *MCPServer) session(ctx context.Context) (*database.Conn, error) {
	if s.conn != nil && (s.conn.IsConnectionBroken() || s.conn.TransactionState().IsBroken()) {
		log.Printf("Replacing broken session connection %s", s.conn.ID())
		s.pool.Put(s.conn)
		s.conn = nil
	}
	if s.conn == nil {
		conn, err := s.pool.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		s.conn = conn
	}
	return s.conn, nil
}

// withSession serializes tool calls on the pinned connection.
func (s *MCPServer) withSession(ctx context.Context, fn func(conn *database.Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.session(ctx)
	if err != nil {
		return err
	}
	return fn(conn)
}

func statement(sql string, args []any, cacheable bool) query.Statement {
	args = normalizeArgs(args)
	if cacheable {
		return query.Text(sql, args...)
	}
	return query.Raw(sql, args...)
}

// normalizeArgs turns integral JSON numbers back into integers so they bind
// as INTEGER rather than REAL.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, ok := a.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			out[i] = int64(f)
			continue
		}
		out[i] = a
	}
	return out
}

func (s *MCPServer) handleExecute(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ExecuteArgs],
) (*mcp.CallToolResultFor[apptype.ExecuteResult], error) {
	done := metrics.TimeTool("execute")
	var success bool
	defer func() { done(success) }()

	args := params.Arguments
	var res apptype.ExecuteResult
	err := s.withSession(ctx, func(conn *database.Conn) error {
		r, err := conn.Exec(ctx, statement(args.SQL, args.Args, args.Cacheable))
		if err != nil {
			return err
		}
		// Not every driver reports these; zero is fine.
		res.RowsAffected, _ = r.RowsAffected()
		res.LastInsertID, _ = r.LastInsertId()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.ExecuteResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d row(s) affected", res.RowsAffected)},
		},
		StructuredContent: res,
	}, nil
}

func (s *MCPServer) handleQuery(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.QueryArgs],
) (*mcp.CallToolResultFor[apptype.QueryResult], error) {
	done := metrics.TimeTool("query")
	var success bool
	defer func() { done(success) }()

	args := params.Arguments
	limit := args.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var res apptype.QueryResult
	err := s.withSession(ctx, func(conn *database.Conn) error {
		rows, err := conn.Query(ctx, statement(args.SQL, args.Args, args.Cacheable))
		if err != nil {
			return err
		}
		res, err = collectRows(rows, limit)
		return errors.Join(err, rows.Close())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.QueryResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d row(s)", len(res.Rows))},
		},
		StructuredContent: res,
	}, nil
}

func collectRows(rows *database.Rows, limit int) (apptype.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return apptype.QueryResult{}, err
	}
	res := apptype.QueryResult{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return apptype.QueryResult{}, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

// transactionOp runs a transaction operation and reports the resulting depth.
func (s *MCPServer) transactionOp(ctx context.Context, tool string, op func(conn *database.Conn) error) (*mcp.CallToolResultFor[apptype.TransactionResult], error) {
	done := metrics.TimeTool(tool)
	var success bool
	defer func() { done(success) }()

	var res apptype.TransactionResult
	err := s.withSession(ctx, func(conn *database.Conn) error {
		if err := op(conn); err != nil {
			return err
		}
		depth, err := conn.TransactionDepth()
		res.Depth = depth
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", tool, err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.TransactionResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("transaction depth %d", res.Depth)},
		},
		StructuredContent: res,
	}, nil
}

func (s *MCPServer) handleBegin(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.BeginArgs],
) (*mcp.CallToolResultFor[apptype.TransactionResult], error) {
	return s.transactionOp(ctx, "begin", func(conn *database.Conn) error {
		if params.Arguments.Immediate {
			return conn.BeginImmediate(ctx)
		}
		return conn.Begin(ctx)
	})
}

func (s *MCPServer) handleCommit(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TransactionArgs],
) (*mcp.CallToolResultFor[apptype.TransactionResult], error) {
	return s.transactionOp(ctx, "commit", func(conn *database.Conn) error { return conn.Commit(ctx) })
}

func (s *MCPServer) handleRollback(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TransactionArgs],
) (*mcp.CallToolResultFor[apptype.TransactionResult], error) {
	return s.transactionOp(ctx, "rollback", func(conn *database.Conn) error { return conn.Rollback(ctx) })
}

func (s *MCPServer) status(conn *database.Conn) apptype.StatusResult {
	cache := conn.CacheStats()
	pool := s.pool.Stats()
	metrics.Default().ObservePoolStats(pool.InUse, pool.Idle)
	res := apptype.StatusResult{
		Name:          serverName,
		Version:       buildinfo.Version,
		Revision:      buildinfo.Revision,
		BuildDate:     buildinfo.BuildDate,
		Backend:       conn.Backend().Name(),
		ConnectionID:  conn.ID().String(),
		CacheSize:     cache.Size.String(),
		CacheLen:      cache.Len,
		CacheCounter:  cache.Counter,
		PoolInUse:     pool.InUse,
		PoolIdle:      pool.Idle,
		PoolDiscarded: pool.Discarded,
	}
	depth, err := conn.TransactionDepth()
	res.Depth = depth
	res.Broken = err != nil || conn.IsConnectionBroken()
	return res
}

func (s *MCPServer) handleStatus(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.StatusArgs],
) (*mcp.CallToolResultFor[apptype.StatusResult], error) {
	done := metrics.TimeTool("status")
	var success bool
	defer func() { done(success) }()

	var res apptype.StatusResult
	err := s.withSession(ctx, func(conn *database.Conn) error {
		res = s.status(conn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	success = true
	return &mcp.CallToolResultFor[apptype.StatusResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

func (s *MCPServer) handleSetCacheSize(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SetCacheSizeArgs],
) (*mcp.CallToolResultFor[apptype.StatusResult], error) {
	done := metrics.TimeTool("set_cache_size")
	var success bool
	defer func() { done(success) }()

	size, err := stmtcache.ParseCacheSize(params.Arguments.Size)
	if err != nil {
		return nil, err
	}
	var res apptype.StatusResult
	err = s.withSession(ctx, func(conn *database.Conn) error {
		if err := conn.SetCacheSize(size); err != nil {
			return err
		}
		res = s.status(conn)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.StatusResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "statement cache " + size.String()}},
		StructuredContent: res,
	}, nil
}

// Close returns the session connection to the pool.
func (s *MCPServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.pool.Put(s.conn)
		s.conn = nil
	}
}

func (s *MCPServer) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := s.pool.Stats()
				metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
			}
		}
	}()
}

// Run starts the MCP server over stdio
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportPoolStats(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.reportPoolStats(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("SSE MCP server listening on %s%s", addr, endpoint)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
