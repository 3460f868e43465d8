package keyserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/netresearch/gpgkeys-ldap/internal/dialect"
	"github.com/netresearch/gpgkeys-ldap/internal/directory"
	"github.com/netresearch/gpgkeys-ldap/internal/pgprecord"
	"github.com/netresearch/gpgkeys-ldap/internal/protocol"
)

var searchAttrs = []string{
	"pgpcertid", "pgpuserid", "pgprevoked", "pgpdisabled",
	"pgpkeycreatetime", "pgpkeyexpiretime", "modifytimestamp",
	"pgpkeysize", "pgpkeytype",
}

// Search implements the "search" operation driver.
func Search(ctx context.Context, gw directory.Gateway, profile *dialect.Profile, terms []string, opts protocol.OptionSet, rw *protocol.ResponseWriter, log zerolog.Logger) *Failure {
	searchTerm := strings.Join(terms, "*")

	_ = rw.Printf("SEARCH %s BEGIN\n", searchTerm)

	filter := searchFilter(searchTerm, opts.IncludeDisabled, opts.IncludeRevoked)

	if opts.Verbose > 2 {
		log.Info().Str("filter", filter).Msg("directory search filter")
	}

	log.Info().Str("terms", searchTerm).Msg("searching directory")

	entries, err := gw.Search(ctx, profile.BaseDN, directory.ScopeSubtree, filter, searchAttrs)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		code := MapLDAPError(err)

		_ = rw.Printf("SEARCH %s FAILED %d\n", searchTerm, int(code))

		return Fail(code, err)
	}

	sizeLimited := ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded)

	count := countUnique(entries)
	if sizeLimited {
		log.Info().Int("returned", count).Msg("search results exceeded server limit")
	}

	if count < 1 {
		_ = rw.WriteString("info:1:0\n")
	} else {
		_ = rw.Printf("info:1:%d\n", count)
		writeSearchResults(rw, entries)
	}

	_ = rw.Printf("SEARCH %s END\n", searchTerm)

	return nil
}

func searchFilter(searchTerm string, includeDisabled, includeRevoked bool) string {
	inner := fmt.Sprintf("(pgpuserid=*%s*)", searchTerm)
	if includeDisabled && includeRevoked {
		return inner
	}

	clauses := inner
	if !includeDisabled {
		clauses += "(pgpdisabled=0)"
	}

	if !includeRevoked {
		clauses += "(pgprevoked=0)"
	}

	return "(&" + clauses + ")"
}

func countUnique(entries []directory.Entry) int {
	dedup := NewDedupSet()
	count := 0

	for _, e := range entries {
		certids := e.Values("pgpcertid")
		if len(certids) == 0 {
			continue
		}

		if !dedup.SeenBefore(certids[0]) {
			count++
		}
	}

	return count
}

func writeSearchResults(rw *protocol.ResponseWriter, entries []directory.Entry) {
	dedup := NewDedupSet()

	for _, e := range entries {
		certids := e.Values("pgpcertid")
		if len(certids) == 0 || dedup.SeenBefore(certids[0]) {
			continue
		}

		certid := certids[0]

		_ = rw.Printf("pub:%s:%s:%s:%s:%s:%s\n",
			certid,
			algoNumber(e.Values("pgpkeytype")),
			keySizeField(e.Values("pgpkeysize")),
			ldapTimeField(e.Values("pgpkeycreatetime")),
			ldapTimeField(e.Values("pgpkeyexpiretime")),
			flagsField(e.Values("pgprevoked"), e.Values("pgpdisabled")),
		)

		for _, uidEntry := range entries {
			c2 := uidEntry.Values("pgpcertid")
			if len(c2) == 0 || !strings.EqualFold(c2[0], certid) {
				continue
			}

			uid := ""
			if vals := uidEntry.Values("pgpuserid"); len(vals) > 0 {
				uid = pgprecord.EncodeUserID(vals[0])
			}

			_ = rw.Printf("uid:%s\n", uid)
		}
	}
}

func algoNumber(vals []string) string {
	if len(vals) == 0 {
		return ""
	}

	switch strings.ToUpper(vals[0]) {
	case "RSA":
		return "1"
	case "DSS/DH":
		return "17"
	default:
		return ""
	}
}

func keySizeField(vals []string) string {
	if len(vals) == 0 {
		return ""
	}

	if n, err := strconv.Atoi(vals[0]); err == nil && n > 0 {
		return strconv.Itoa(n)
	}

	return ""
}

func ldapTimeField(vals []string) string {
	if len(vals) == 0 || len(vals[0]) != 15 {
		return ""
	}

	epoch, ok := pgprecord.LDAPTimeToEpoch(vals[0])
	if !ok {
		return ""
	}

	return strconv.FormatInt(epoch, 10)
}

func flagsField(revoked, disabled []string) string {
	var b strings.Builder

	if len(revoked) > 0 && revoked[0] == "1" {
		b.WriteByte('r')
	}

	if len(disabled) > 0 && disabled[0] == "1" {
		b.WriteByte('d')
	}

	return b.String()
}
