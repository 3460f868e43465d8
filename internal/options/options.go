// Package options parses the gpgkeys-ldap process-level command line.
//
// This is distinct from internal/protocol, which parses the per-request
// header block the parent tool writes on stdin; options.Opts only covers
// the flags of the process invocation itself.
package options

import (
	"flag"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/netresearch/gpgkeys-ldap/internal/pgprecord"
)

// TimeEncoding selects how pgprecord encodes pgpKeyCreateTime/pgpKeyExpireTime
// during publish. It is an alias so callers can pass an
// Opts.PublishTimeEncoding straight into pgprecord.BuildAttrs without a
// conversion.
type TimeEncoding = pgprecord.TimeEncoding

const (
	// RawEpoch stores the raw decimal epoch seconds as the attribute value.
	// This is bug-compatible with the C gpgkeys_ldap, which computes
	// an LDAP generalized-time string and then discards it.
	RawEpoch = pgprecord.RawEpoch
	// LDAPGeneralizedTime stores the computed "YYYYMMDDHHmmssZ" string instead.
	LDAPGeneralizedTime = pgprecord.LDAPGeneralizedTime
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Opts holds the parsed process-level configuration.
type Opts struct {
	// Help requests that usage text be printed and the process exit
	// immediately with KEYSERVER_OK, without reading any request.
	Help bool
	// PrintVersion requests the -V banner be printed and the process
	// exit immediately with KEYSERVER_OK.
	PrintVersion bool
	// OutputPath, when non-empty, redirects the response stream to this
	// file instead of stdout ("-o <file>").
	OutputPath string
	// InputPath, when non-empty, is the positional request-stream path;
	// empty means read the request from stdin.
	InputPath string

	LogLevel zerolog.Level

	// PublishTimeEncoding resolves the bug-compatibility toggle for
	// pgpKeyCreateTime/pgpKeyExpireTime.
	PublishTimeEncoding TimeEncoding
}

// Parse parses os.Args[1:]-equivalent arguments into an Opts.
//
// It never touches the environment: this helper's entire configuration
// surface is its process flags plus the request envelope.
func Parse(args []string, stderr io.Writer) (*Opts, error) {
	fs := flag.NewFlagSet("gpgkeys-ldap", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		fHelp       = fs.Bool("h", false, "Show usage and exit.")
		fVersion    = fs.Bool("V", false, "Print the protocol and program version and exit.")
		fOutput     = fs.String("o", "", "Write the response envelope to this file instead of stdout.")
		fLogLevel   = fs.String("log-level", "info", "Diagnostic log level: trace, debug, info, warn, error.")
		fTimeEncode = fs.String("publish-time-encoding", "raw-epoch",
			"How pgpKeyCreateTime/pgpKeyExpireTime are encoded on publish: raw-epoch (bug-compatible) or ldap-time.")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	logLevel, err := zerolog.ParseLevel(*fLogLevel)
	if err != nil {
		return nil, ValidationError{Field: "log-level", Message: err.Error()}
	}

	var timeEncoding TimeEncoding

	switch *fTimeEncode {
	case "raw-epoch":
		timeEncoding = RawEpoch
	case "ldap-time":
		timeEncoding = LDAPGeneralizedTime
	default:
		return nil, ValidationError{
			Field:   "publish-time-encoding",
			Message: fmt.Sprintf("must be raw-epoch or ldap-time, got %q", *fTimeEncode),
		}
	}

	opts := &Opts{
		Help:                *fHelp,
		PrintVersion:        *fVersion,
		OutputPath:          *fOutput,
		LogLevel:            logLevel,
		PublishTimeEncoding: timeEncoding,
	}

	if fs.NArg() > 0 {
		opts.InputPath = fs.Arg(0)
	}

	return opts, nil
}

// Usage returns the -h usage text, matching the original gpgkeys_ldap's
// three-line summary.
func Usage() string {
	return "-h\thelp\n" +
		"-V\tversion\n" +
		"-o\toutput to this file\n"
}
