package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the released version of nudger. Override at build time:
//
//	go build -ldflags "-X github.com/hrygo/nudger/internal/version.Version=0.3.0"
var Version = "0.1.0"

// DevVersion is reported in dev and demo modes.
var DevVersion = Version + "-dev"

// Build metadata, set via ldflags.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

// IsValid reports whether version parses as semver, with or without the leading "v".
func IsValid(version string) bool {
	return semver.IsValid(canonical(version))
}

func canonical(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}

// String returns the version with the short commit hash appended when known.
func String() string {
	if commit := shortCommit(); commit != "" {
		return fmt.Sprintf("%s-%s", Version, commit)
	}
	return Version
}

// StringFull returns the version plus build metadata.
func StringFull() string {
	parts := []string{"Version=" + Version}
	if commit := shortCommit(); commit != "" {
		parts = append(parts, "Commit="+commit)
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, "BuildTime="+BuildTime)
	}
	return strings.Join(parts, " ")
}

func shortCommit() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return ""
	}
	if len(GitCommit) > 8 {
		return GitCommit[:8]
	}
	return GitCommit
}
