// Package directory is the LDAP transport gateway: it owns
// the single connection to the directory server and exposes the handful
// of primitives the keyserver operation drivers need, synchronous
// search/add/modify, with no result caching or pooling.
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/netresearch/gpgkeys-ldap/internal/retry"
)

// Scope mirrors the three LDAP search scopes the drivers use.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOneLevel
	ScopeSubtree
)

func (s Scope) ldap() int {
	switch s {
	case ScopeOneLevel:
		return ldap.ScopeSingleLevel
	case ScopeSubtree:
		return ldap.ScopeWholeSubtree
	default:
		return ldap.ScopeBaseObject
	}
}

// Entry is one search result: its DN plus the attributes the caller asked
// for, in the order the server returned their values.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// Values returns the values stored under name. Attribute descriptions are
// case-insensitive in LDAP and servers are free to echo them back in
// schema case rather than requested case, so a miss on the exact name
// falls back to a case-folded scan, the same matching libldap's
// ldap_get_values does.
func (e Entry) Values(name string) []string {
	if vals, ok := e.Attributes[name]; ok {
		return vals
	}

	for k, vals := range e.Attributes {
		if strings.EqualFold(k, name) {
			return vals
		}
	}

	return nil
}

// Gateway is the transport-level contract the keyserver operation drivers
// depend on. It is implemented by *LDAPGateway and by test doubles.
type Gateway interface {
	Search(ctx context.Context, baseDN string, scope Scope, filter string, attrs []string) ([]Entry, error)
	Add(ctx context.Context, dn string, attrs []Attr) error
	Modify(ctx context.Context, dn string, attrs []Attr) error
	Close() error
}

// Attr is one attribute-modification pair sent to Add/Modify. It matches
// pgprecord.Attr's shape without introducing an import cycle.
type Attr struct {
	Name   string
	Values []string
}

// Config describes how to reach the directory server. TLS negotiation and
// binding are separate steps (StartTLS, Bind): the dialect probe runs
// first on the raw connection, because whether StartTLS is even worth
// attempting depends on which dialect the probe discovers.
type Config struct {
	Host   string
	Port   int
	UseSSL bool
}

// LDAPGateway is the Gateway implementation backed by a real LDAP
// connection.
type LDAPGateway struct {
	conn *ldap.Conn
	host string
}

// Dial opens the directory connection described by cfg, LDAPS when
// cfg.UseSSL is set and plaintext otherwise. Only dialing (and Bind) is
// retried, with internal/retry's LDAP backoff profile; once established,
// searches, adds, and modifies are issued once each.
func Dial(ctx context.Context, cfg Config) (*LDAPGateway, error) {
	return retry.DoWithResultConfig(ctx, retry.LDAPConfig(), func() (*LDAPGateway, error) {
		return dialOnce(cfg)
	})
}

func dialOnce(cfg Config) (*LDAPGateway, error) {
	scheme := "ldap"
	if cfg.UseSSL {
		scheme = "ldaps"
	}

	addr := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	conn, err := ldap.DialURL(addr)
	if err != nil {
		// Returned as-is, not wrapped: keyserver.MapLDAPError reads the
		// *ldap.Error result code to classify dial failures as unreachable.
		return nil, err
	}

	return &LDAPGateway{conn: conn, host: cfg.Host}, nil
}

// StartTLS upgrades the plaintext connection in place. Callers decide,
// based on the probed dialect and the request's tls option, whether a
// failure here is fatal.
func (g *LDAPGateway) StartTLS(ctx context.Context) error {
	return g.conn.StartTLS(&tls.Config{ServerName: g.host}) //nolint:gosec // StartTLS negotiation, not skip-verify.
}

// Bind performs a simple bind; empty dn and password mean anonymous,
// which is all the keyserver protocol itself ever uses.
func (g *LDAPGateway) Bind(ctx context.Context, dn, password string) error {
	return retry.DoWithConfig(ctx, retry.LDAPConfig(), func() error {
		if dn == "" && password == "" {
			return g.conn.UnauthenticatedBind("")
		}

		return g.conn.Bind(dn, password)
	})
}

// Search issues a single synchronous LDAP search. When the server cuts
// the result short (LDAP_SIZELIMIT_EXCEEDED and similar partial-result
// conditions), the entries received so far are returned together with
// the error; the search driver tolerates that case, every
// other caller treats it as a failure.
func (g *LDAPGateway) Search(ctx context.Context, baseDN string, scope Scope, filter string, attrs []string) ([]Entry, error) {
	req := ldap.NewSearchRequest(
		baseDN,
		scope.ldap(),
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attrs,
		nil,
	)

	res, err := g.conn.Search(req)
	if res == nil {
		// Returned as-is: keyserver classifies gateway errors with
		// ldap.IsErrorWithCode, which requires the concrete *ldap.Error
		// type, not a %w-wrapped one.
		return nil, err
	}

	entries := make([]Entry, 0, len(res.Entries))

	for _, e := range res.Entries {
		attrValues := make(map[string][]string, len(e.Attributes))
		for _, a := range e.Attributes {
			attrValues[a.Name] = a.Values
		}

		entries = append(entries, Entry{DN: e.DN, Attributes: attrValues})
	}

	return entries, err
}

// Add creates a new entry at dn with the given attributes.
func (g *LDAPGateway) Add(ctx context.Context, dn string, attrs []Attr) error {
	req := ldap.NewAddRequest(dn, nil)
	for _, a := range attrs {
		req.Attribute(a.Name, a.Values)
	}

	// Returned as-is: publish.go retries on ldap.IsErrorWithCode(err,
	// ldap.LDAPResultEntryAlreadyExists), which needs the concrete
	// *ldap.Error type, not a %w-wrapped one.
	return g.conn.Add(req)
}

// Modify replaces the given attributes on the existing entry at dn.
func (g *LDAPGateway) Modify(ctx context.Context, dn string, attrs []Attr) error {
	req := ldap.NewModifyRequest(dn, nil)
	for _, a := range attrs {
		req.Replace(a.Name, a.Values)
	}

	return g.conn.Modify(req)
}

// Close releases the underlying connection.
func (g *LDAPGateway) Close() error {
	return g.conn.Close()
}
