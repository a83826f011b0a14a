// Package version holds build identification, overridden at link time.
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
