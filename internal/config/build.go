package config

import "fmt"

// Stamped at release time with
//
//	-ldflags "-X storefront/internal/config.version=... -X storefront/internal/config.commit=..."
//
// Local builds keep the defaults.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the metadata stamped into the running binary.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// String renders the metadata for --version output.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.BuildTime)
}
