package infra

import (
	"fmt"
	"runtime"
)

const programName = "azhlf"

// Set at build time with -ldflags "-X".
var (
	Version   = "latest"
	CommitSHA = "development build"
	BuiltTime = "Mon Dec 21 19:00:00 2020"
)

// GetVersionInfo returns version information for the azhlf tool
func GetVersionInfo() string {
	return fmt.Sprintf("%s:\n Version: %s\n Go version: %s\n Git commit: %s\n Built: %s\n OS/Arch: %s\n",
		programName, Version, runtime.Version(), CommitSHA, BuiltTime,
		fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
}
