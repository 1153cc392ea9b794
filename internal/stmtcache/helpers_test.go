package stmtcache

import (
	"errors"
	"fmt"
)

type testBackend struct{}

func (testBackend) Name() string                        { return "test" }
func (testBackend) BindPlaceholder(position int) string { return fmt.Sprintf("$%d", position) }
func (testBackend) QuoteIdentifier(name string) string  { return `"` + name + `"` }

// fakeSource renders a fixed SQL text and counts how often it was rendered.
type fakeSource struct {
	sql      string
	safe     bool
	sqlErr   error
	safeErr  error
	renders  int
	safeCall int
}

func (s *fakeSource) ToSQL(Backend) (string, error) {
	s.renders++
	if s.sqlErr != nil {
		return "", s.sqlErr
	}
	return s.sql, nil
}

func (s *fakeSource) IsSafeToCache(Backend) (bool, error) {
	s.safeCall++
	if s.safeErr != nil {
		return false, s.safeErr
	}
	return s.safe, nil
}

// usersByName is a statically tagged statement; the bound name is a runtime
// value that never reaches the SQL text.
type usersByName struct {
	fakeSource
	name string
}

func newUsersByName(name string) *usersByName {
	return &usersByName{fakeSource: fakeSource{sql: "SELECT id FROM users WHERE name = $1", safe: true}, name: name}
}

func (*usersByName) QueryID() (QueryID, bool) { return StaticQueryID[usersByName](), true }

type fakeStmt struct {
	sql      string
	counter  uint64
	cached   bool
	closed   int
	closeErr error
}

func (s *fakeStmt) Close() error {
	s.closed++
	return s.closeErr
}

// preparer records every call the cache makes to the driver.
type preparer struct {
	calls []PrepareForCache
	sqls  []string
	err   error
}

func (p *preparer) prepare(sql string, pc PrepareForCache, _ []TypeMetadata) (*fakeStmt, error) {
	p.calls = append(p.calls, pc)
	p.sqls = append(p.sqls, sql)
	if p.err != nil {
		return nil, p.err
	}
	counter, cached := pc.Counter()
	return &fakeStmt{sql: sql, counter: counter, cached: cached}, nil
}

var errRender = errors.New("render failed")
