/*
Package version reports the review-memory build.

Release builds set the values via ldflags:

	-X github.com/khanglvm/review-memory/internal/version.Version=v0.3.0
	-X github.com/khanglvm/review-memory/internal/version.Commit=abc1234
	-X github.com/khanglvm/review-memory/internal/version.Date=2026-10-01

Binaries built with `go install` fall back to the module version and VCS
stamp recorded by the toolchain.
*/
package version

import "runtime/debug"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// GetVersion returns the version string shown by --version.
func GetVersion() string {
	return FormatVersion(GetVersionComponents())
}

// FormatVersion formats version components into a display string.
func FormatVersion(version, commit, date string) string {
	if version == "dev" {
		return version + " (development build)"
	}
	return version + " (commit: " + commit + ", built: " + date + ")"
}

// GetVersionComponents returns the ldflags values, filled from the build
// info when they were not set.
func GetVersionComponents() (version, commit, date string) {
	version, commit, date = Version, Commit, Date
	if version != "dev" {
		return version, commit, date
	}

	info, ok := readBuildInfo()
	if !ok {
		return version, commit, date
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 7 {
				commit = s.Value[:7]
			} else if s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if len(s.Value) >= 10 {
				date = s.Value[:10]
			}
		}
	}
	return version, commit, date
}
