// Package version holds the amba version string.
package version

// Version is set at build time via -ldflags "-X ...version.Version=v1.2.3".
// Defaults to "dev" for local builds.
var Version = "dev"
