package sqlcore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/pkg/sqlcore"
)

type countNotes struct{}

func (countNotes) SQL(sqlcore.Backend) (string, error) {
	return "SELECT COUNT(*) FROM notes", nil
}

func TestOpen_TransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool, err := sqlcore.Open(ctx, &sqlcore.Config{URL: "file:pkg-sqlcore?mode=memory&cache=shared", MaxConns: 1})
	require.NoError(t, err)
	defer pool.Close()

	boom := errors.New("boom")
	err = pool.WithConn(ctx, func(ctx context.Context, c *sqlcore.Conn) error {
		if _, err := c.Exec(ctx, sqlcore.Raw("CREATE TABLE notes (body TEXT)")); err != nil {
			return err
		}
		err := c.Transaction(ctx, func(ctx context.Context, c *sqlcore.Conn) error {
			if _, err := c.Exec(ctx, sqlcore.Text("INSERT INTO notes (body) VALUES (?)", "kept")); err != nil {
				return err
			}
			rbErr := c.Transaction(ctx, func(ctx context.Context, c *sqlcore.Conn) error {
				if _, err := c.Exec(ctx, sqlcore.Text("INSERT INTO notes (body) VALUES (?)", "dropped")); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, rbErr, boom)
			return nil
		})
		if err != nil {
			return err
		}

		var n int
		if err := c.QueryRow(ctx, sqlcore.Static[countNotes]()).Scan(&n); err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		assert.ErrorIs(t, c.Commit(ctx), sqlcore.ErrNotInTransaction)
		assert.Equal(t, 2, c.CacheStats().Len)
		return nil
	})
	require.NoError(t, err)
}

func TestOpen_DisabledCache(t *testing.T) {
	ctx := context.Background()
	pool, err := sqlcore.Open(ctx, &sqlcore.Config{
		URL:       "file:pkg-sqlcore-disabled?mode=memory&cache=shared",
		CacheSize: sqlcore.CacheSizeDisabled,
		MaxConns:  1,
	})
	require.NoError(t, err)
	defer pool.Close()

	c, err := pool.Get(ctx)
	require.NoError(t, err)
	defer pool.Put(c)
	_, err = c.Exec(ctx, sqlcore.Text("SELECT 1"))
	require.NoError(t, err)
	assert.Zero(t, c.CacheStats().Len)
	assert.Equal(t, sqlcore.CacheSizeDisabled, c.CacheStats().Size)
}
