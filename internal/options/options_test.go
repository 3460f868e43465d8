package options

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := Parse(nil, &stderr)
	require.NoError(t, err)

	assert.False(t, opts.Help)
	assert.False(t, opts.PrintVersion)
	assert.Empty(t, opts.OutputPath)
	assert.Empty(t, opts.InputPath)
	assert.Equal(t, zerolog.InfoLevel, opts.LogLevel)
	assert.Equal(t, RawEpoch, opts.PublishTimeEncoding)
}

func TestParse_Flags(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := Parse([]string{"-o", "out.txt", "-log-level", "debug", "input.txt"}, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "out.txt", opts.OutputPath)
	assert.Equal(t, "input.txt", opts.InputPath)
	assert.Equal(t, zerolog.DebugLevel, opts.LogLevel)
}

func TestParse_HelpAndVersion(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := Parse([]string{"-h"}, &stderr)
	require.NoError(t, err)
	assert.True(t, opts.Help)

	opts, err = Parse([]string{"-V"}, &stderr)
	require.NoError(t, err)
	assert.True(t, opts.PrintVersion)
}

func TestParse_BadLogLevel(t *testing.T) {
	var stderr bytes.Buffer

	_, err := Parse([]string{"-log-level", "not-a-level"}, &stderr)
	require.Error(t, err)

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "log-level", verr.Field)
}

func TestParse_TimeEncoding(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := Parse([]string{"-publish-time-encoding", "ldap-time"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, LDAPGeneralizedTime, opts.PublishTimeEncoding)

	_, err = Parse([]string{"-publish-time-encoding", "bogus"}, &stderr)
	require.Error(t, err)
}

func TestTimeEncoding_String(t *testing.T) {
	assert.Equal(t, "raw-epoch", RawEpoch.String())
	assert.Equal(t, "ldap-time", LDAPGeneralizedTime.String())
}
