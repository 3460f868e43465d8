package keyserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/netresearch/gpgkeys-ldap/internal/dialect"
	"github.com/netresearch/gpgkeys-ldap/internal/directory"
	"github.com/netresearch/gpgkeys-ldap/internal/protocol"
)

// Fetch implements the "get" operation driver. It writes one BEGIN line
// for key, then either a single FAILED line (unsupported key, search
// error, no match) or one END or FAILED line for each distinct certid
// the search matched.
func Fetch(ctx context.Context, gw directory.Gateway, profile *dialect.Profile, key string, opts protocol.OptionSet, rw *protocol.ResponseWriter, log zerolog.Logger) *Failure {
	getkey := strings.TrimPrefix(key, "0x")

	if len(getkey) == 32 {
		_ = rw.Printf("KEY 0x%s BEGIN\n", getkey)
		_ = rw.Printf("KEY 0x%s FAILED %d\n", getkey, int(CodeNotSupported))

		return Fail(CodeNotSupported, nil)
	}

	filter := fetchFilter(getkey, opts.IncludeSubkeys)

	attrs := []string{profile.KeyAttribute, "pgpcertid"}
	if opts.Verbose > 0 {
		attrs = append(attrs,
			"pgpuserid", "pgpkeyid", "pgprevoked", "pgpdisabled",
			"pgpkeycreatetime", "modifytimestamp", "pgpkeysize", "pgpkeytype")
	}

	_ = rw.Printf("KEY 0x%s BEGIN\n", getkey)

	if opts.Verbose > 2 {
		log.Info().Str("filter", filter).Msg("directory fetch filter")
	}

	if opts.Verbose > 0 {
		log.Info().Str("key", getkey).Str("base_dn", profile.BaseDN).Msg("requesting key from directory")
	}

	entries, err := gw.Search(ctx, profile.BaseDN, directory.ScopeSubtree, filter, attrs)
	if err != nil {
		code := MapLDAPError(err)

		_ = rw.Printf("KEY 0x%s FAILED %d\n", getkey, int(code))

		return Fail(code, err)
	}

	if len(entries) < 1 {
		// A key that simply isn't there is reported through the FAILED
		// record but is not a process failure.
		log.Info().Str("key", getkey).Msg("key not found on keyserver")
		_ = rw.Printf("KEY 0x%s FAILED %d\n", getkey, int(CodeKeyNotFound))

		return nil
	}

	dedup := NewDedupSet()

	for _, entry := range entries {
		certids := entry.Values("pgpcertid")
		if len(certids) == 0 || dedup.SeenBefore(certids[0]) {
			continue
		}

		if opts.Verbose > 0 {
			logFetchDetail(log, entry, certids[0])
		}

		blob := entry.Values(profile.KeyAttribute)
		if len(blob) == 0 {
			log.Warn().Str("key", getkey).Msg("unable to retrieve key from keyserver")
			_ = rw.Printf("KEY 0x%s FAILED %d\n", getkey, int(CodeGeneral))

			continue
		}

		_ = rw.Printf("%sKEY 0x%s END\n", blob[0], getkey)
	}

	return nil
}

func fetchFilter(getkey string, includeSubkeys bool) string {
	switch {
	case len(getkey) > 16:
		offset := getkey[len(getkey)-16:]
		return subkeyAwareFilter(offset, includeSubkeys)
	case len(getkey) > 8:
		return subkeyAwareFilter(getkey, includeSubkeys)
	default:
		return fmt.Sprintf("(pgpkeyid=%s)", getkey)
	}
}

func subkeyAwareFilter(id string, includeSubkeys bool) string {
	if includeSubkeys {
		return fmt.Sprintf("(|(pgpcertid=%s)(pgpsubkeyid=%s))", id, id)
	}

	return fmt.Sprintf("(pgpcertid=%s)", id)
}

// logFetchDetail writes the verbose human-readable key summary to the
// diagnostic stream. Values come from the directory as UTF-8 byte
// strings and are logged verbatim; a user ID containing non-UTF-8-safe
// bytes can still produce an odd-looking log line.
func logFetchDetail(log zerolog.Logger, entry directory.Entry, certid string) {
	event := log.Info()

	if vals := entry.Values("pgpuserid"); len(vals) > 0 {
		event = event.Str("user_id", vals[0])
	}

	if vals := entry.Values("pgprevoked"); len(vals) > 0 && vals[0] == "1" {
		event = event.Bool("revoked", true)
	}

	if vals := entry.Values("pgpdisabled"); len(vals) > 0 && vals[0] == "1" {
		event = event.Bool("disabled", true)
	}

	if vals := entry.Values("pgpkeyid"); len(vals) > 0 {
		event = event.Str("short_key_id", vals[0])
	}

	event = event.Str("long_key_id", certid)

	if vals := entry.Values("pgpkeycreatetime"); len(vals) > 0 && len(vals[0]) == 15 {
		event = event.Str("created", formatLDAPDate(vals[0]))
	}

	if vals := entry.Values("modifytimestamp"); len(vals) > 0 && len(vals[0]) == 15 {
		event = event.Str("modified", formatLDAPDate(vals[0]))
	}

	if vals := entry.Values("pgpkeysize"); len(vals) > 0 {
		if n, err := strconv.Atoi(vals[0]); err == nil && n > 0 {
			event = event.Int("key_size", n)
		}
	}

	if vals := entry.Values("pgpkeytype"); len(vals) > 0 {
		event = event.Str("key_type", vals[0])
	}

	event.Msg("fetched key")
}

// formatLDAPDate renders a 15-character LDAP generalized-time string as
// "MM/DD/YYYY", matching the C helper's fprintf(console,
// "Key created:\t%.2s/%.2s/%.4s\n", &vals[0][4], &vals[0][6], vals[0]).
// Callers must check len(s) == 15 first.
func formatLDAPDate(s string) string {
	return s[4:6] + "/" + s[6:8] + "/" + s[0:4]
}
