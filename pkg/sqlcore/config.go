package sqlcore

import (
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// Config exposes a stable wrapper for database configuration in package mode.
// It does not read the environment: every field is taken as given, and only
// URL, MaxConns and SavepointPrefix fall back to defaults when empty.
// CacheSize's zero value is CacheSizeUnbounded.
type Config struct {
	URL       string
	AuthToken string
	// Driver is "libsql" or "postgres"; derived from URL when empty.
	Driver          string
	CacheSize       CacheSize
	MaxConns        int
	SavepointPrefix string
	MaxIdleConns    int
	ConnMaxIdleSec  int
	ConnMaxLifeSec  int
}

// DefaultURL is used when Config.URL is empty.
const DefaultURL = "file:./sqlcore.db"

// DefaultMaxConns is used when Config.MaxConns is zero.
const DefaultMaxConns = 4

func (c *Config) toInternal() *database.Config {
	cfg := &database.Config{
		URL:             c.URL,
		AuthToken:       c.AuthToken,
		Driver:          c.Driver,
		CacheSize:       c.CacheSize,
		MaxConns:        c.MaxConns,
		SavepointPrefix: c.SavepointPrefix,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxIdleSec:  c.ConnMaxIdleSec,
		ConnMaxLifeSec:  c.ConnMaxLifeSec,
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.SavepointPrefix == "" {
		cfg.SavepointPrefix = txn.DefaultSavepointPrefix
	}
	return cfg
}
