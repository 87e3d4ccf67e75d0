// Package version carries build metadata stamped in with -ldflags.
package version

var (
	// Version is the release tag, or "dev" for untagged builds.
	Version = "dev"
	// GitCommit is the commit hash of the build.
	GitCommit = "unknown"
)
