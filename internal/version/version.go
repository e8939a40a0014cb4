// Package version carries the relay's build identity, stamped via -ldflags:
//
//	-X .../internal/version.Version=v0.2.0 \
//	-X .../internal/version.Commit=$(git rev-parse --short HEAD) \
//	-X .../internal/version.BuiltAt=$(date -u +%Y-%m-%dT%H:%M:%SZ)
package version

var (
	// Version is the relay release, overridden for tagged builds.
	Version = "v0.1.0"
	// Commit is the git revision the binaries were built from.
	Commit = "unknown"
	// BuiltAt is the UTC build timestamp.
	BuiltAt = "unknown"
)

// Info returns the bare release string, for health payloads.
func Info() string {
	return Version
}

// FullInfo returns the release, revision and build time in the key=value
// form the daemon logs at startup.
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}
