//go:build integration

package integration

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/gpgkeys-ldap/internal/dialect"
	"github.com/netresearch/gpgkeys-ldap/internal/directory"
	"github.com/netresearch/gpgkeys-ldap/internal/keyserver"
	"github.com/netresearch/gpgkeys-ldap/internal/pgprecord"
	"github.com/netresearch/gpgkeys-ldap/internal/protocol"
)

const testBaseDN = "dc=example,dc=org"

func dialAndProbe(t *testing.T, srv *LDAPServer) (*directory.LDAPGateway, *dialect.Profile) {
	t.Helper()

	ctx := context.Background()

	gw, err := directory.Dial(ctx, directory.Config{
		Host: srv.Host(),
		Port: srv.Port(),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = gw.Close() })

	profile, err := dialect.Probe(ctx, gw, 0, zerolog.Nop())
	require.NoError(t, err)

	// The helper binds anonymously in production; the container's access
	// rules only grant write access to the admin, so tests bind as admin
	// to exercise the publish path.
	require.NoError(t, gw.Bind(ctx, srv.AdminDN(), srv.AdminPassword()))

	return gw, profile
}

func TestRealDialectProbeFindsKeysOU(t *testing.T) {
	ctx := context.Background()

	srv, err := StartLDAPServer(ctx, testBaseDN)
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.Close(ctx) })

	require.NoError(t, srv.SeedLDIF(ctx, ""+
		"dn: ou=keys,"+testBaseDN+"\n"+
		"objectClass: organizationalUnit\n"+
		"ou: keys\n\n"+
		"dn: cn=pgpServerInfo,"+testBaseDN+"\n"+
		"objectClass: pgpServerInfo\n"+
		"cn: pgpServerInfo\n"+
		"pgpBaseKeySpaceDN: ou=keys,"+testBaseDN+"\n"+
		"pgpVersion: 1.0\n"+
		"pgpSoftware: gpgkeys-ldap-integration-test\n"))

	_, profile := dialAndProbe(t, srv)

	require.True(t, profile.RealLDAP)
	require.Equal(t, "ou=keys,"+testBaseDN, profile.BaseDN)
	require.Equal(t, "pgpKey", profile.KeyAttribute)
}

func TestPublishThenFetchRoundTrip(t *testing.T) {
	ctx := context.Background()

	srv, err := StartLDAPServer(ctx, testBaseDN)
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.Close(ctx) })

	require.NoError(t, srv.SeedLDIF(ctx, ""+
		"dn: ou=keys,"+testBaseDN+"\n"+
		"objectClass: organizationalUnit\n"+
		"ou: keys\n\n"+
		"dn: cn=pgpServerInfo,"+testBaseDN+"\n"+
		"objectClass: pgpServerInfo\n"+
		"cn: pgpServerInfo\n"+
		"pgpBaseKeySpaceDN: ou=keys,"+testBaseDN+"\n"+
		"pgpVersion: 1.0\n"+
		"pgpSoftware: gpgkeys-ldap-integration-test\n"))

	gw, profile := dialAndProbe(t, srv)

	publishBody := "INFO CAFEBABECAFEBABE BEGIN\n" +
		"pub:CAFEBABECAFEBABE:1:2048:1262304000::\n" +
		"uid:Round%20Trip <rt@example.org>\n" +
		"INFO CAFEBABECAFEBABE END\n" +
		"KEY CAFEBABECAFEBABE BEGIN\n" +
		"-----BEGIN PGP PUBLIC KEY BLOCK-----\n" +
		"integration-test-blob\n" +
		"-----END PGP PUBLIC KEY BLOCK-----\n" +
		"KEY CAFEBABECAFEBABE END\n"

	lr := protocol.NewLineReader(strings.NewReader(publishBody))

	var publishBuf bytes.Buffer

	publishRW := protocol.NewResponseWriter(&publishBuf)

	eof, failure := keyserver.PublishReal(ctx, gw, profile, lr, pgprecord.RawEpoch, publishRW, zerolog.Nop())
	require.Nil(t, failure)
	require.False(t, eof)

	var fetchBuf bytes.Buffer

	fetchRW := protocol.NewResponseWriter(&fetchBuf)

	fetchFailure := keyserver.Fetch(ctx, gw, profile, "CAFEBABECAFEBABE", protocol.OptionSet{}, fetchRW, zerolog.Nop())
	require.Nil(t, fetchFailure)
	require.Contains(t, fetchBuf.String(), "KEY 0xCAFEBABECAFEBABE BEGIN")
	require.Contains(t, fetchBuf.String(), "integration-test-blob")
	require.Contains(t, fetchBuf.String(), "KEY 0xCAFEBABECAFEBABE END")
}

func TestSearchColonInUserIDAgainstRealServer(t *testing.T) {
	ctx := context.Background()

	srv, err := StartLDAPServer(ctx, testBaseDN)
	require.NoError(t, err)

	t.Cleanup(func() { _ = srv.Close(ctx) })

	require.NoError(t, srv.SeedLDIF(ctx, ""+
		"dn: ou=keys,"+testBaseDN+"\n"+
		"objectClass: organizationalUnit\n"+
		"ou: keys\n\n"+
		"dn: cn=pgpServerInfo,"+testBaseDN+"\n"+
		"objectClass: pgpServerInfo\n"+
		"cn: pgpServerInfo\n"+
		"pgpBaseKeySpaceDN: ou=keys,"+testBaseDN+"\n"+
		"pgpVersion: 1.0\n"+
		"pgpSoftware: gpgkeys-ldap-integration-test\n"))

	gw, profile := dialAndProbe(t, srv)

	publishBody := "INFO FEEDFACEFEEDFACE BEGIN\n" +
		"pub:FEEDFACEFEEDFACE:1:2048:1262304000::\n" +
		"uid:Alice%3aExample <a@e>\n" +
		"INFO FEEDFACEFEEDFACE END\n" +
		"KEY FEEDFACEFEEDFACE BEGIN\n" +
		"blob\n" +
		"KEY FEEDFACEFEEDFACE END\n"

	lr := protocol.NewLineReader(strings.NewReader(publishBody))

	var publishBuf bytes.Buffer

	publishRW := protocol.NewResponseWriter(&publishBuf)

	// Search only decodes 15-character generalized times, so the key is
	// published with that encoding for the creation time to come back.
	_, failure := keyserver.PublishReal(ctx, gw, profile, lr, pgprecord.LDAPGeneralizedTime, publishRW, zerolog.Nop())
	require.Nil(t, failure)

	var searchBuf bytes.Buffer

	searchRW := protocol.NewResponseWriter(&searchBuf)

	searchFailure := keyserver.Search(ctx, gw, profile, []string{"alice"}, protocol.OptionSet{}, searchRW, zerolog.Nop())
	require.Nil(t, searchFailure)
	require.Contains(t, searchBuf.String(), "pub:FEEDFACEFEEDFACE:1:2048:1262304000::\n")
	require.Contains(t, searchBuf.String(), "uid:Alice%3aExample <a@e>\n")
}
