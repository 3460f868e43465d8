// Package dialect determines which of the two server flavors this helper
// has been pointed at, a schema-bearing LDAP server or a legacy
// PGP-KEYSERVER-style directory, and derives the base DN and key
// attribute name operations search and publish under.
package dialect

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/netresearch/gpgkeys-ldap/internal/directory"
)

// Profile is the outcome of a successful probe.
type Profile struct {
	// RealLDAP is true when the server exposed namingContexts, meaning
	// it is a general-purpose LDAP server carrying the PGP key schema
	// rather than a dedicated legacy keyserver.
	RealLDAP bool

	// BaseDN is the search/publish base, "pgpCertID=<id>,<BaseDN>".
	BaseDN string

	// KeyAttribute is the attribute holding the exported key material:
	// "pgpKey" normally, or "pgpKeyV2" when a legacy server reports a
	// directory schema version greater than 1.
	KeyAttribute string
}

// ErrBaseDNNotFound is returned when the probe completes without error
// but no pgpServerInfo entry supplied a base DN.
var ErrBaseDNNotFound = fmt.Errorf("dialect: server did not advertise a base key space DN")

// Probe determines the server dialect against an already-connected
// gateway. verbose controls how much diagnostic detail is logged, the
// same "verbose" request option that gates diagnostic output elsewhere.
func Probe(ctx context.Context, gw directory.Gateway, verbose int, log zerolog.Logger) (*Profile, error) {
	namingContexts, err := gw.Search(ctx, "", directory.ScopeBase, "(objectClass=*)", []string{"namingContexts"})
	if err == nil && len(namingContexts) > 0 && len(namingContexts[0].Values("namingContexts")) > 0 {
		return probeRealLDAP(ctx, gw, namingContexts[0].Values("namingContexts"), verbose, log)
	}

	return probeLegacyKeyserver(ctx, gw, verbose, log)
}

func probeRealLDAP(ctx context.Context, gw directory.Gateway, contexts []string, verbose int, log zerolog.Logger) (*Profile, error) {
	profile := &Profile{RealLDAP: true, KeyAttribute: "pgpKey"}

	attrs := []string{"pgpBaseKeySpaceDN", "pgpVersion", "pgpSoftware"}

	for _, ctxDN := range contexts {
		if profile.BaseDN != "" {
			break
		}

		entries, err := gw.Search(ctx, ctxDN, directory.ScopeOneLevel, "(cn=pgpServerInfo)", attrs)
		if err != nil {
			return nil, fmt.Errorf("dialect: probing naming context %q: %w", ctxDN, err)
		}

		if len(entries) == 0 {
			continue
		}

		info := entries[0]

		if vals := info.Values("pgpBaseKeySpaceDN"); len(vals) > 0 {
			profile.BaseDN = vals[0]
		}

		if verbose > 1 {
			if vals := info.Values("pgpSoftware"); len(vals) > 0 {
				log.Info().Str("server", vals[0]).Msg("keyserver software")
			}

			if vals := info.Values("pgpVersion"); len(vals) > 0 {
				log.Info().Str("version", vals[0]).Msg("keyserver version")
			}
		}
	}

	if profile.BaseDN == "" {
		return nil, ErrBaseDNNotFound
	}

	return profile, nil
}

func probeLegacyKeyserver(ctx context.Context, gw directory.Gateway, verbose int, log zerolog.Logger) (*Profile, error) {
	// The requested attribute is pgpBaseKeySpaceDN but the value is read
	// back under baseKeySpaceDN, matching what the legacy servers
	// actually return.
	entries, err := gw.Search(ctx, "cn=pgpServerInfo", directory.ScopeBase, "(objectClass=*)",
		[]string{"pgpBaseKeySpaceDN", "version", "software"})
	if err != nil {
		return nil, fmt.Errorf("dialect: probing legacy server info: %w", err)
	}

	if len(entries) == 0 {
		return nil, ErrBaseDNNotFound
	}

	info := entries[0]

	profile := &Profile{RealLDAP: false, KeyAttribute: "pgpKey"}

	if vals := info.Values("baseKeySpaceDN"); len(vals) > 0 {
		profile.BaseDN = vals[0]
	}

	if profile.BaseDN == "" {
		return nil, ErrBaseDNNotFound
	}

	if verbose > 1 {
		if vals := info.Values("software"); len(vals) > 0 {
			log.Info().Str("server", vals[0]).Msg("keyserver software")
		}
	}

	if vals := info.Values("version"); len(vals) > 0 {
		if verbose > 1 {
			log.Info().Str("version", vals[0]).Msg("keyserver version")
		}

		// The new pgpKeyV2 attribute name is only adopted for legacy
		// servers reporting a schema version greater than 1; real LDAP
		// servers never trigger this upgrade.
		if n, convErr := strconv.Atoi(vals[0]); convErr == nil && n > 1 {
			profile.KeyAttribute = "pgpKeyV2"
		}
	}

	return profile, nil
}
