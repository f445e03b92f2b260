// Package version holds build-time version information for the novelt binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/novelt-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/novelt-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/novelt-go/internal/version.BuildDate=2025-01-01"
//
// Without ldflags the values fall back to "dev" and "unknown".
package version

import "fmt"

// Version is the semantic version of the binary (e.g. "v1.2.3").
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders the version line printed by `novelt version`.
func String() string {
	return fmt.Sprintf("novelt %s (commit %s, built %s)", Version, Commit, BuildDate)
}
