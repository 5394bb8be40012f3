package breakwater

import (
	"runtime"
	"strings"
)

// Build metadata. GitCommit and BuildDate are empty unless injected at link
// time via -ldflags "-X".
var (
	Version   = "v0.3.0"
	GitCommit = ""
	BuildDate = ""
)

// VersionString returns a one-line description of this build for logs.
func VersionString() string {
	parts := []string{"breakwater", Version}
	if GitCommit != "" {
		parts = append(parts, "commit "+GitCommit)
	}
	if BuildDate != "" {
		parts = append(parts, "built "+BuildDate)
	}
	parts = append(parts, runtime.Version())
	return strings.Join(parts, " ")
}
