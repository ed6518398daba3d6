// Package version reports the build of amanidx and the schema versions of
// the indexers compiled into it.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set via ldflags: -X github.com/Aman-CERP/amanidx/pkg/version.Version=$(VERSION)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	GoVersion = runtime.Version()
)

// Component is a versioned part of the build. Indices written by another
// version of an indexer component are rebuilt.
type Component struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string      `json:"version"`
	Commit    string      `json:"commit"`
	Date      string      `json:"date"`
	GoVersion string      `json:"go_version"`
	OS        string      `json:"os"`
	Arch      string      `json:"arch"`
	Indexers  []Component `json:"indexers,omitempty"`
}

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("amanidx %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns the build information together with indexers.
func GetInfo(indexers ...Component) BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Indexers:  indexers,
	}
}

// Text renders info as String followed by an indexers line.
func (info BuildInfo) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "amanidx %s (commit: %s, built: %s, go: %s)\n",
		info.Version, info.Commit, info.Date, info.GoVersion)
	if len(info.Indexers) > 0 {
		parts := make([]string, len(info.Indexers))
		for i, c := range info.Indexers {
			parts[i] = fmt.Sprintf("%s v%d", c.Name, c.Version)
		}
		fmt.Fprintf(&b, "indexers: %s\n", strings.Join(parts, ", "))
	}
	return b.String()
}
