// Package buildinfo carries build-time metadata injected via ldflags,
// separate from user configuration.
package buildinfo

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X github.com/pictora/pictora-go/internal/buildinfo.Version=v1.2.3"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// String returns a single-line version description.
func String() string {
	return fmt.Sprintf("pictora %s (built %s)", Version, BuildDate)
}
