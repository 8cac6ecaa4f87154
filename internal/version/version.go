// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/alertcam/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for logs and the debug page.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("alertcam %s (%s, built %s)", Version, sha, BuildTime)
}
