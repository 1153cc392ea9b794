// Package buildinfo carries version metadata stamped at link time:
//
//	go build -ldflags "-X github.com/ZanzyTHEbar/sqlcore-libsql-go/internal/buildinfo.Version=v1.2.3"
package buildinfo

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
