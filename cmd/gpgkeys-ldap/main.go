// Package main is the entry point for gpgkeys-ldap, a keyserver helper
// that speaks the line-framed stdin/stdout/stderr protocol on behalf of
// a key management tool and backs it with an LDAP-resident PGP key
// directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netresearch/gpgkeys-ldap/internal/dialect"
	"github.com/netresearch/gpgkeys-ldap/internal/directory"
	"github.com/netresearch/gpgkeys-ldap/internal/keyserver"
	"github.com/netresearch/gpgkeys-ldap/internal/options"
	"github.com/netresearch/gpgkeys-ldap/internal/protocol"
	"github.com/netresearch/gpgkeys-ldap/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout *os.File, stderr *os.File) int {
	opts, err := options.Parse(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return int(keyserver.CodeInternal)
	}

	if opts.Help {
		fmt.Fprint(stderr, options.Usage())
		return int(keyserver.CodeOK)
	}

	if opts.PrintVersion {
		fmt.Fprintf(stdout, "%d\n%s\n", protocol.ProtoVersion, version.Version)
		return int(keyserver.CodeOK)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: stderr}).Level(opts.LogLevel)
	log.Debug().Msgf("gpgkeys-ldap %s", version.FormatVersion())

	var input io.Reader = stdin

	if opts.InputPath != "" {
		f, err := os.Open(opts.InputPath)
		if err != nil {
			log.Error().Err(err).Str("path", opts.InputPath).Msg("unable to open input file")
			return int(keyserver.CodeGeneral)
		}
		defer f.Close()

		input = f
	}

	var output io.Writer = stdout

	if opts.OutputPath != "" {
		f, err := os.Create(opts.OutputPath)
		if err != nil {
			log.Error().Err(err).Str("path", opts.OutputPath).Msg("unable to open output file")
			return int(keyserver.CodeGeneral)
		}
		defer f.Close()

		output = f
	}

	lr := protocol.NewLineReader(input)
	rw := protocol.NewResponseWriter(output)

	req, err := protocol.ParseRequest(lr)
	if err != nil {
		code := keyserver.CodeInternal
		if errors.Is(err, protocol.ErrVersionMismatch) {
			code = keyserver.CodeVersionMismatch
		}

		log.Error().Err(err).Msg("failed to parse request")

		return int(code)
	}

	if err := rw.WritePreamble(version.Version); err != nil {
		log.Error().Err(err).Msg("failed to write response preamble")
		return int(keyserver.CodeInternal)
	}

	ctx := context.Background()

	gw, err := directory.Dial(ctx, directory.Config{
		Host:   req.Host,
		Port:   resolvePort(req),
		UseSSL: req.UseSSL,
	})
	if err != nil {
		log.Error().Err(err).Str("host", req.Host).Msg("unable to connect to directory")

		code := keyserver.MapLDAPError(err)
		keyserver.FailAll(rw, req, code)

		return int(code)
	}
	defer gw.Close()

	profile, err := dialect.Probe(ctx, gw, req.Options.Verbose, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("unable to determine server dialect")

		code := keyserver.CodeGeneral
		if !errors.Is(err, dialect.ErrBaseDNNotFound) {
			code = keyserver.MapLDAPError(err)
		}

		keyserver.FailAll(rw, req, code)

		return int(code)
	}

	if code, fatal := negotiateTLS(ctx, gw, profile, req); fatal {
		keyserver.FailAll(rw, req, code)
		return int(code)
	}

	if err := gw.Bind(ctx, "", ""); err != nil {
		log.Error().Err(err).Str("host", req.Host).Msg("unable to bind to directory")

		code := keyserver.MapLDAPError(err)
		keyserver.FailAll(rw, req, code)

		return int(code)
	}

	controller := &keyserver.Controller{
		Gateway:        gw,
		Profile:        profile,
		ResponseWriter: rw,
		TimeEncoding:   opts.PublishTimeEncoding,
		Logger:         log.Logger,
	}

	return int(controller.Dispatch(ctx, req, lr))
}

// negotiateTLS applies the request's transport-security settings once the
// dialect is known: legacy keyservers support neither LDAPS nor StartTLS,
// so against them LDAPS is always fatal, a required StartTLS is fatal,
// and a "try" StartTLS is skipped (loudly or silently per the option).
// Against a real LDAP server StartTLS is attempted, and only a required
// negotiation failure is fatal.
func negotiateTLS(ctx context.Context, gw *directory.LDAPGateway, profile *dialect.Profile, req *protocol.Request) (keyserver.Code, bool) {
	if req.UseSSL {
		if !profile.RealLDAP {
			log.Error().Msg("unable to make SSL connection: not supported by keyserver")
			return keyserver.CodeInternal, true
		}

		return keyserver.CodeOK, false
	}

	if req.Options.TLS == protocol.TLSOff {
		return keyserver.CodeOK, false
	}

	if !profile.RealLDAP {
		if req.Options.TLS >= protocol.TLSTryLoudly {
			log.Warn().Msg("unable to start TLS: not supported by keyserver")
		}

		if req.Options.TLS == protocol.TLSRequire {
			return keyserver.CodeInternal, true
		}

		return keyserver.CodeOK, false
	}

	if err := gw.StartTLS(ctx); err != nil {
		if req.Options.TLS >= protocol.TLSTryLoudly {
			log.Warn().Err(err).Msg("unable to start TLS")
		}

		if req.Options.TLS == protocol.TLSRequire {
			return keyserver.MapLDAPError(err), true
		}
	} else if req.Options.Verbose > 1 {
		log.Info().Msg("TLS started successfully")
	}

	return keyserver.CodeOK, false
}

func resolvePort(req *protocol.Request) int {
	if req.Port != 0 {
		return req.Port
	}

	if req.UseSSL {
		return 636
	}

	return 389
}
