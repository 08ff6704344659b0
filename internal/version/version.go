// Package version holds build metadata injected with -ldflags, for example
//
//	go build -ldflags "-X hwcast/internal/version.Version=v0.3.0 -X hwcast/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "runtime"

var (
	// Version is the release tag. Empty for dev builds.
	Version = ""
	// Commit is the short git SHA for the build.
	Commit = ""
	// Date is the UTC build timestamp in RFC3339 format.
	Date = ""
)

// String returns Version for releases, "dev-<sha>" for untagged builds and
// "dev" when nothing was injected.
func String() string {
	if Version != "" {
		return Version
	}
	if Commit != "" {
		return "dev-" + Commit
	}
	return "dev"
}

// Info is the payload served on /version.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Go      string `json:"go"`
}

// Current returns the build metadata of the running binary.
func Current() Info {
	return Info{Version: String(), Commit: Commit, Date: Date, Go: runtime.Version()}
}
