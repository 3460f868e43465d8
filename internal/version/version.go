package version

import "fmt"

// Build metadata, injected via -ldflags. Version is what the -V flag and
// the response envelope's PROGRAM line carry; an untagged build keeps
// the "dev" placeholder.
var (
	Version        = "dev"
	CommitHash     = "n/a"
	BuildTimestamp = "n/a"
)

// FormatVersion returns the long form used in diagnostic logging, with
// commit and build timestamp attached. The wire protocol never sees
// this string.
func FormatVersion() string {
	if Version == "dev" {
		return "development build"
	}

	return fmt.Sprintf("%s (%s, built at %s)", Version, CommitHash, BuildTimestamp)
}
