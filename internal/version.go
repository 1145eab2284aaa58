package internal

import (
	"fmt"
	"runtime"
)

// Version contains version and Git commit information.
//
// The placeholders are replaced on `git archive` using the `export-subst` attribute.
var Version = version("0.1.0", "$Format:%H$")

type VersionInfo struct {
	Version string
	Commit  string
}

func version(release, commit string) *VersionInfo {
	if len(commit) == 40 {
		return &VersionInfo{Version: release, Commit: commit}
	}

	return &VersionInfo{Version: release}
}

// Print writes version and build information of the named project to stdout.
func (v *VersionInfo) Print(project string) {
	fmt.Println(project, "version:", v.Version)
	fmt.Println()

	fmt.Println("Build information:")
	fmt.Printf("  Go version: %s (%s, %s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if v.Commit != "" {
		fmt.Println("  Git commit:", v.Commit)
	}
}
