// Package version holds the build version, overridden at link time:
//
//	go build -ldflags "-X github.com/NielsdaWheelz/labforge/internal/version.Version=v0.3.0"
package version

import "runtime/debug"

// Version is the labforge release. "dev" for untagged builds.
var Version = "dev"

// String returns Version, falling back to the module version recorded in the
// binary when Version was not set at link time.
func String() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
