//go:build go1.18

package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// FuzzConfigValidate checks that savepoint prefixes accepted by Validate can
// be spliced into SQL without quoting.
func FuzzConfigValidate(f *testing.F) {
	f.Add("sqlcore_savepoint")
	f.Add("")
	f.Add("sp; DROP TABLE x")
	f.Add("1abc")
	f.Fuzz(func(t *testing.T, prefix string) {
		cfg := &Config{URL: "file:x.db", MaxConns: 1, SavepointPrefix: prefix}
		if cfg.Validate() != nil {
			return
		}
		for _, r := range prefix {
			ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			require.True(t, ok, "prefix %q accepted with %q", prefix, r)
		}
	})
}
