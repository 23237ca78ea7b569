package config

import "testing"

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()

	if info.Version != "dev" || info.Commit != "none" || info.BuildTime != "unknown" {
		t.Errorf("NewBuildInfo() = %+v, want dev/none/unknown defaults", info)
	}
	if got, want := info.String(), "dev (commit none, built unknown)"; got != want {
		t.Errorf("BuildInfo.String() = %q, want %q", got, want)
	}
}
