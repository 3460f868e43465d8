package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stash(t *testing.T) {
	t.Helper()

	origVersion, origCommit, origBuild := Version, CommitHash, BuildTimestamp

	t.Cleanup(func() {
		Version, CommitHash, BuildTimestamp = origVersion, origCommit, origBuild
	})
}

func TestFormatVersion(t *testing.T) {
	stash(t)

	cases := []struct {
		name    string
		version string
		commit  string
		built   string
		want    string
	}{
		{
			name:    "untagged build",
			version: "dev",
			commit:  "n/a",
			built:   "n/a",
			want:    "development build",
		},
		{
			name:    "release build",
			version: "v1.2.3",
			commit:  "abc123def456",
			built:   "2025-09-30T10:00:00Z",
			want:    "v1.2.3 (abc123def456, built at 2025-09-30T10:00:00Z)",
		},
		{
			name:    "pre-release with build metadata",
			version: "v2.0.0-beta.1+build.123",
			commit:  "abc-123-def",
			built:   "2025-12-31T23:59:59Z",
			want:    "v2.0.0-beta.1+build.123 (abc-123-def, built at 2025-12-31T23:59:59Z)",
		},
		{
			name:    "only lowercase dev is the placeholder",
			version: "DEV",
			commit:  "test-commit",
			built:   "2025-01-01",
			want:    "DEV (test-commit, built at 2025-01-01)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			Version, CommitHash, BuildTimestamp = tc.version, tc.commit, tc.built

			assert.Equal(t, tc.want, FormatVersion())
		})
	}
}

func TestDefaults_NeverEmptyOnTheWire(t *testing.T) {
	// The -V output and the PROGRAM response line print Version
	// unconditionally, so even an un-ldflagged build must carry a value.
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, CommitHash)
	assert.NotEmpty(t, BuildTimestamp)
}
