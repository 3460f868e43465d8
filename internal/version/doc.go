// Package version provides build-time information for the gpgkeys-ldap helper.
//
// Version information is injected at build time via -ldflags:
//
//	go build -ldflags="\
//	  -X 'github.com/netresearch/gpgkeys-ldap/internal/version.Version=v1.0.0' \
//	  -X 'github.com/netresearch/gpgkeys-ldap/internal/version.CommitHash=$(git rev-parse --short HEAD)' \
//	  -X 'github.com/netresearch/gpgkeys-ldap/internal/version.BuildTimestamp=$(date -u +%Y-%m-%dT%H:%M:%SZ)' \
//	" ./cmd/gpgkeys-ldap
//
// The -V process flag prints the fixed keyserver protocol
// version followed by this package's Version on two separate lines;
// it does not use FormatVersion, which is for diagnostic logging only.
package version
