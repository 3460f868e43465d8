//go:build integration

package integration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/openldap"
)

// pgpSchemaLDIF registers the attribute types and object classes the
// directory package and keyserver drivers depend on. Real PGP
// keyserver deployments ship this schema as part of the server
// install; it is not bundled with a stock OpenLDAP image, so tests
// load it at cn=config before seeding any data.
const pgpSchemaLDIF = `dn: cn=pgpkeyserver,cn=schema,cn=config
objectClass: olcSchemaConfig
cn: pgpkeyserver
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.1 NAME 'pgpCertID' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.2 NAME 'pgpKeyID' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.3 NAME 'pgpUserID' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.4 NAME 'pgpKeyType' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.5 NAME 'pgpKeySize' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.6 NAME 'pgpKeyCreateTime' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.7 NAME 'pgpKeyExpireTime' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.8 NAME 'pgpSignerID' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.9 NAME 'pgpRevoked' EQUALITY integerMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.27 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.10 NAME 'pgpSubKeyID' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.11 NAME 'pgpKeyDisabled' EQUALITY integerMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.27 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.12 NAME 'pgpDisabled' EQUALITY integerMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.27 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.13 NAME 'pgpKey' EQUALITY octetStringMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.40 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.14 NAME 'pgpBaseKeySpaceDN' EQUALITY distinguishedNameMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.12 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.15 NAME 'pgpVersion' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.16 NAME 'pgpSoftware' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.17 NAME 'baseKeySpaceDN' EQUALITY distinguishedNameMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.12 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.18 NAME 'version' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcAttributeTypes: ( 1.3.6.1.4.1.3401.8.2.19 NAME 'software' EQUALITY caseIgnoreMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
olcObjectClasses: ( 1.3.6.1.4.1.3401.8.3.1 NAME 'pgpKeyInfo' SUP top STRUCTURAL MUST pgpCertID MAY ( pgpKeyID $ pgpUserID $ pgpKeyType $ pgpKeySize $ pgpKeyCreateTime $ pgpKeyExpireTime $ pgpSignerID $ pgpRevoked $ pgpSubKeyID $ pgpKeyDisabled $ pgpDisabled $ pgpKey ) )
olcObjectClasses: ( 1.3.6.1.4.1.3401.8.3.2 NAME 'pgpServerInfo' SUP top STRUCTURAL MUST ( cn ) MAY ( pgpBaseKeySpaceDN $ pgpVersion $ pgpSoftware $ baseKeySpaceDN $ version $ software ) )
`

// LDAPServer wraps a running OpenLDAP container and exposes the
// connection details the directory and dialect packages need.
type LDAPServer struct {
	container *openldap.OpenLDAPContainer
	host      string
	port      int
	baseDN    string
	adminDN   string
	adminPass string
}

// StartLDAPServer launches an OpenLDAP container, loads the PGP
// keyserver schema, and returns a ready-to-use handle. Callers must
// call Close.
func StartLDAPServer(ctx context.Context, baseDN string) (*LDAPServer, error) {
	const adminUsername = "admin"

	const adminPassword = "adminpassword"

	c, err := openldap.Run(ctx, "bitnami/openldap:2.6.6",
		openldap.WithAdminUsername(adminUsername),
		openldap.WithAdminPassword(adminPassword),
		openldap.WithRoot(baseDN),
	)
	if err != nil {
		return nil, fmt.Errorf("start openldap container: %w", err)
	}

	connStr, err := c.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("read connection string: %w", err)
	}

	host, port, err := splitConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string %q: %w", connStr, err)
	}

	srv := &LDAPServer{
		container: c,
		host:      host,
		port:      port,
		baseDN:    baseDN,
		adminDN:   "cn=" + adminUsername + "," + baseDN,
		adminPass: adminPassword,
	}

	if err := srv.waitForBind(ctx); err != nil {
		return nil, err
	}

	if err := srv.loadSchema(ctx); err != nil {
		return nil, err
	}

	return srv, nil
}

func splitConnectionString(connStr string) (string, int, error) {
	rest := strings.TrimPrefix(connStr, "ldap://")
	host, portStr, found := strings.Cut(rest, ":")

	if !found {
		return "", 0, fmt.Errorf("missing port in %q", connStr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}

	return host, port, nil
}

func (s *LDAPServer) waitForBind(ctx context.Context) error {
	deadline := time.Now().Add(30 * time.Second)

	for {
		_, _, err := s.container.Exec(ctx, []string{
			"ldapwhoami", "-x", "-H", "ldap://localhost",
			"-D", s.adminDN, "-w", s.adminPass,
		})
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("openldap did not become ready in time: %w", err)
		}

		time.Sleep(500 * time.Millisecond)
	}
}

func (s *LDAPServer) loadSchema(ctx context.Context) error {
	return s.ldapModify(ctx, pgpSchemaLDIF, "cn=config", "cn=config")
}

// ldapModify pipes ldif through ldapmodify over the ldapi socket with
// SASL EXTERNAL authentication; bindDN and bindPass are not used.
func (s *LDAPServer) ldapModify(ctx context.Context, ldif, bindDN, bindPass string) error {
	_ = bindDN
	_ = bindPass

	_, _, err := s.container.Exec(ctx, []string{
		"bash", "-c",
		fmt.Sprintf(`echo '%s' | ldapmodify -Y EXTERNAL -H ldapi:/// -Q`, escapeSingleQuotes(ldif)),
	})

	return err
}

// SeedLDIF applies arbitrary LDIF as the directory admin, used by
// tests to populate pgpServerInfo entries and pre-existing keys.
func (s *LDAPServer) SeedLDIF(ctx context.Context, ldif string) error {
	_, _, err := s.container.Exec(ctx, []string{
		"bash", "-c",
		fmt.Sprintf(`echo '%s' | ldapadd -x -H ldap://localhost -D "%s" -w "%s" -c`,
			escapeSingleQuotes(ldif), s.adminDN, s.adminPass),
	})

	return err
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'"'"'`)
}

// Host and Port identify the plaintext LDAP listener for
// directory.Config.
func (s *LDAPServer) Host() string   { return s.host }
func (s *LDAPServer) Port() int      { return s.port }
func (s *LDAPServer) BaseDN() string { return s.baseDN }

// AdminDN and AdminPassword let tests bind with write access; the helper
// itself only ever binds anonymously, but the container's access rules
// require authentication for adds and modifies.
func (s *LDAPServer) AdminDN() string       { return s.adminDN }
func (s *LDAPServer) AdminPassword() string { return s.adminPass }

// Close terminates the underlying container.
func (s *LDAPServer) Close(ctx context.Context) error {
	return testcontainers.TerminateContainer(s.container)
}
