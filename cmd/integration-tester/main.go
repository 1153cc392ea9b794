package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	Table      string       `json:"table"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	sseURL := flag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(*sseURL, nil)

	// Unique table so repeated runs against a file database do not collide.
	table := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	start := time.Now()
	report := Report{SSEURL: *sseURL, Table: table, StartedAt: start}
	steps := make([]StepResult, 0, 16)

	tConn := time.Now()
	connRes := StepResult{Name: "connect"}
	session, err := client.Connect(ctx, transport)
	if err != nil {
		connRes.Error = err.Error()
		connRes.ElapsedMs = elapsedMsSince(tConn)
		report.Steps = append(steps, connRes)
		report.DurationMs = elapsedMsSince(start)
		writeReport(report)
		os.Exit(1)
	}
	defer session.Close()
	connRes.Success = true
	connRes.ElapsedMs = elapsedMsSince(tConn)
	steps = append(steps, connRes)

	insert := fmt.Sprintf("INSERT INTO %s (name) VALUES (?)", table)
	steps = append(steps, runListTools(ctx, session))
	steps = append(steps, runTool(ctx, session, "create_table", "execute",
		apptype.ExecuteArgs{SQL: fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY, name TEXT)", table)}, nil))
	steps = append(steps, runTool(ctx, session, "begin", "begin", apptype.BeginArgs{}, expectDepth(1)))
	steps = append(steps, runTool(ctx, session, "insert_a", "execute", apptype.ExecuteArgs{SQL: insert, Args: []any{"a"}, Cacheable: true}, nil))
	steps = append(steps, runTool(ctx, session, "insert_b", "execute", apptype.ExecuteArgs{SQL: insert, Args: []any{"b"}, Cacheable: true}, nil))
	steps = append(steps, runTool(ctx, session, "savepoint", "begin", apptype.BeginArgs{}, expectDepth(2)))
	steps = append(steps, runTool(ctx, session, "insert_discarded", "execute", apptype.ExecuteArgs{SQL: insert, Args: []any{"x"}, Cacheable: true}, nil))
	steps = append(steps, runTool(ctx, session, "rollback_savepoint", "rollback", apptype.TransactionArgs{}, expectDepth(1)))
	steps = append(steps, runTool(ctx, session, "commit", "commit", apptype.TransactionArgs{}, expectDepth(0)))
	steps = append(steps, runTool(ctx, session, "query", "query",
		apptype.QueryArgs{SQL: fmt.Sprintf("SELECT name FROM %s ORDER BY id", table)}, expectRows(2)))
	steps = append(steps, runTool(ctx, session, "status", "status", apptype.StatusArgs{}, expectCached))
	steps = append(steps, runTool(ctx, session, "drop_table", "execute",
		apptype.ExecuteArgs{SQL: fmt.Sprintf("DROP TABLE %s", table)}, nil))

	report.Steps = steps
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}
	writeReport(report)

	if !report.Passed {
		os.Exit(1)
	}
}

func writeReport(report Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func runListTools(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "list_tools"}
	if _, err := session.ListTools(ctx, &mcp.ListToolsParams{}); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// runTool calls tool and passes its structured content to check, if set.
func runTool(ctx context.Context, session *mcp.ClientSession, step, tool string, args any, check func(json.RawMessage) error) (res StepResult) {
	t0 := time.Now()
	res = StepResult{Name: step}
	defer func() { res.ElapsedMs = elapsedMsSince(t0) }()

	raw, _ := json.Marshal(args)
	out, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: json.RawMessage(raw)})
	switch {
	case err != nil:
		res.Error = err.Error()
		return res
	case out.IsError:
		res.Error = tool + " returned an error result"
		return res
	}
	if check != nil {
		content, _ := json.Marshal(out.StructuredContent)
		if err := check(content); err != nil {
			res.Error = err.Error()
			return res
		}
	}
	res.Success = true
	return res
}

func expectDepth(want uint32) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var tx apptype.TransactionResult
		if err := json.Unmarshal(raw, &tx); err != nil {
			return err
		}
		if tx.Depth != want {
			return fmt.Errorf("depth %d, want %d", tx.Depth, want)
		}
		return nil
	}
}

func expectRows(want int) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var q apptype.QueryResult
		if err := json.Unmarshal(raw, &q); err != nil {
			return err
		}
		if len(q.Rows) != want {
			return fmt.Errorf("%d rows, want %d", len(q.Rows), want)
		}
		return nil
	}
}

func expectCached(raw json.RawMessage) error {
	var st apptype.StatusResult
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	if st.Broken {
		return errors.New("session connection reported broken")
	}
	if st.CacheSize != "disabled" && st.CacheLen == 0 {
		return errors.New("statement cache is empty after cacheable inserts")
	}
	return nil
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}
