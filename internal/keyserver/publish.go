package keyserver

import (
	"context"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/netresearch/gpgkeys-ldap/internal/dialect"
	"github.com/netresearch/gpgkeys-ldap/internal/directory"
	"github.com/netresearch/gpgkeys-ldap/internal/pgprecord"
	"github.com/netresearch/gpgkeys-ldap/internal/protocol"
)

// PublishReal implements the real-LDAP "send" operation driver: it
// parses one INFO/KEY record pair from lr, builds the
// attribute list, and adds it at pgpCertID=<keyid>,<baseDN>, retrying as
// a modify when the entry already exists. It returns eof=true once the
// input stream yields no further record (which is not itself a
// failure).
func PublishReal(ctx context.Context, gw directory.Gateway, profile *dialect.Profile, lr *protocol.LineReader, timeEncoding pgprecord.TimeEncoding, rw *protocol.ResponseWriter, log zerolog.Logger) (eof bool, failure *Failure) {
	keyid, found, err := scanUntilMarker(lr, "INFO", "BEGIN")
	if err != nil || !found {
		return true, nil
	}

	if len(keyid) != 16 {
		_ = rw.Printf("KEY %s FAILED %d\n", keyid, int(CodeKeyIncomplete))

		return true, Fail(CodeKeyIncomplete, nil)
	}

	list := pgprecord.NewAttrList()

	for {
		line, err := lr.ReadLine()
		if err != nil {
			_ = rw.Printf("KEY %s FAILED %d\n", keyid, int(CodeKeyIncomplete))

			return true, Fail(CodeKeyIncomplete, nil)
		}

		if id, kind := parseMarker(line); kind == "END" && id == "INFO:"+keyid {
			break
		}

		pgprecord.BuildAttrs(list, line, timeEncoding)
	}

	blobKeyid, found, err := scanUntilMarker(lr, "KEY", "BEGIN")
	if err != nil || !found {
		return true, nil
	}

	var blob strings.Builder

	for {
		line, err := lr.ReadLine()
		if err != nil {
			_ = rw.Printf("KEY %s FAILED %d\n", blobKeyid, int(CodeKeyIncomplete))

			return true, Fail(CodeKeyIncomplete, nil)
		}

		if id, kind := parseMarker(line); kind == "END" && id == "KEY:"+blobKeyid {
			break
		}

		blob.WriteString(line)
		blob.WriteString("\n")
	}

	list.Set("objectClass", "pgpKeyInfo")
	list.Set("pgpKey", blob.String())

	dn := "pgpCertID=" + keyid + "," + profile.BaseDN
	attrs := gatewayAttrs(list)

	err = gw.Add(ctx, dn, attrs)
	if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		err = gw.Modify(ctx, dn, attrs)
	}

	if err != nil {
		code := MapLDAPError(err)
		log.Warn().Err(err).Str("key", blobKeyid).Msg("error adding key to keyserver")
		_ = rw.Printf("KEY %s FAILED %d\n", blobKeyid, int(code))

		return false, Fail(code, err)
	}

	return false, nil
}

// PublishLegacy implements the legacy-keyserver "send" operation driver:
// it discards the INFO block implicitly (by scanning straight for the
// next KEY BEGIN marker) and stores the raw key blob under a single
// attribute at pgpCertid=virtual,<baseDN>.
func PublishLegacy(ctx context.Context, gw directory.Gateway, profile *dialect.Profile, lr *protocol.LineReader, rw *protocol.ResponseWriter, log zerolog.Logger) (eof bool, failure *Failure) {
	keyid, found, err := scanUntilMarker(lr, "KEY", "BEGIN")
	if err != nil || !found {
		return true, nil
	}

	var blob strings.Builder

	for {
		line, err := lr.ReadLine()
		if err != nil {
			_ = rw.Printf("KEY %s FAILED %d\n", keyid, int(CodeKeyIncomplete))

			return true, Fail(CodeKeyIncomplete, nil)
		}

		if id, kind := parseMarker(line); kind == "END" && id == "KEY:"+keyid {
			break
		}

		blob.WriteString(line)
		blob.WriteString("\n")
	}

	dn := "pgpCertid=virtual," + profile.BaseDN
	attrs := []directory.Attr{{Name: profile.KeyAttribute, Values: []string{blob.String()}}}

	err = gw.Add(ctx, dn, attrs)
	if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		// An already-existing virtual entry is a success for the legacy
		// dialect: there is nothing more specific to merge into.
		return false, nil
	}

	if err != nil {
		code := MapLDAPError(err)
		log.Warn().Err(err).Str("key", keyid).Msg("error adding key to keyserver")
		_ = rw.Printf("KEY %s FAILED %d\n", keyid, int(code))

		return false, Fail(code, err)
	}

	return false, nil
}

func gatewayAttrs(list *pgprecord.AttrList) []directory.Attr {
	attrs := list.Attrs()
	out := make([]directory.Attr, 0, len(attrs))

	for _, a := range attrs {
		out = append(out, directory.Attr{Name: a.Name, Values: a.Values})
	}

	return out
}

// scanUntilMarker reads lines until one matches "<block> <id> <marker>"
// (e.g. "INFO DEADBEEFDEADBEEF BEGIN"). Reaching EOF first is reported
// via found=false, err=nil: this is the normal end of the publish loop,
// not a failure.
func scanUntilMarker(lr *protocol.LineReader, block, marker string) (id string, found bool, err error) {
	for {
		line, readErr := lr.ReadLine()
		if readErr != nil {
			return "", false, nil //nolint:nilerr // EOF ends the publish loop, it is not an error.
		}

		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == block && fields[2] == marker {
			return fields[1], true, nil
		}
	}
}

// parseMarker reports the (block-qualified id, marker) of a "<block> <id>
// <marker>" line, or ("", "") if line does not match that shape. The
// returned id is prefixed with the block name so callers matching END
// markers for different blocks ("INFO" vs "KEY") cannot collide.
func parseMarker(line string) (id, marker string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", ""
	}

	return fields[0] + ":" + fields[1], fields[2]
}
