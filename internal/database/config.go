package database

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/stmtcache"
	"github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/txn"
)

// Config holds the database configuration
type Config struct {
	URL       string
	AuthToken string
	// Driver is the database/sql driver name; derived from URL when empty.
	Driver          string
	CacheSize       stmtcache.CacheSize
	MaxConns        int
	SavepointPrefix string
	// Optional pool tuning
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	dbURL := os.Getenv("LIBSQL_URL")
	if dbURL == "" {
		dbURL = "file:./sqlcore.db"
	}

	cfg := &Config{
		URL:             dbURL,
		AuthToken:       os.Getenv("LIBSQL_AUTH_TOKEN"),
		Driver:          os.Getenv("DB_DRIVER"),
		CacheSize:       stmtcache.CacheSizeUnbounded,
		MaxConns:        4,
		SavepointPrefix: txn.DefaultSavepointPrefix,
	}

	if v := os.Getenv("STMT_CACHE_SIZE"); v != "" {
		size, err := stmtcache.ParseCacheSize(v)
		if err != nil {
			log.Printf("Ignoring STMT_CACHE_SIZE=%q: %v", v, err)
		} else {
			cfg.CacheSize = size
		}
	}
	if v := os.Getenv("SAVEPOINT_PREFIX"); v != "" {
		cfg.SavepointPrefix = v
	}
	cfg.MaxConns = envInt("MAX_CONNS", cfg.MaxConns)
	cfg.MaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 0)
	cfg.ConnMaxIdleSec = envInt("DB_CONN_MAX_IDLE_SEC", 0)
	cfg.ConnMaxLifeSec = envInt("DB_CONN_MAX_LIFETIME_SEC", 0)
	return cfg
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Ignoring %s=%q: %v", name, v, err)
		return def
	}
	return n
}

// Validate checks the configuration and returns a *ConfigError for the
// first invalid field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return &ConfigError{Field: "URL", Message: "must not be empty"}
	}
	switch c.DriverName() {
	case "libsql", "postgres":
	default:
		return &ConfigError{Field: "Driver", Message: "unsupported driver " + strconv.Quote(c.Driver)}
	}
	if c.MaxConns < 1 {
		return &ConfigError{Field: "MaxConns", Message: "must be at least 1"}
	}
	if !isIdentifier(c.SavepointPrefix) {
		return &ConfigError{Field: "SavepointPrefix", Message: "must be a non-empty identifier of letters, digits and underscores"}
	}
	if c.MaxIdleConns < 0 || c.ConnMaxIdleSec < 0 || c.ConnMaxLifeSec < 0 {
		return &ConfigError{Field: "Pool", Message: "tuning values must not be negative"}
	}
	return nil
}

// DriverName returns Driver, or the driver implied by the URL scheme.
func (c *Config) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	if strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://") {
		return "postgres"
	}
	return "libsql"
}

// DSN returns the data source name passed to sql.Open. Remote libSQL URLs
// get the auth token as a query parameter.
func (c *Config) DSN() string {
	if c.DriverName() != "libsql" || strings.HasPrefix(c.URL, "file:") || c.AuthToken == "" {
		return c.URL
	}
	if u, err := url.Parse(c.URL); err == nil {
		q := u.Query()
		q.Set("authToken", c.AuthToken)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(c.URL, "?") {
		return c.URL + "&authToken=" + url.QueryEscape(c.AuthToken)
	}
	return c.URL + "?authToken=" + url.QueryEscape(c.AuthToken)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
