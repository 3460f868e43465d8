package directory

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestScope_MapsToLDAPConstants(t *testing.T) {
	assert.Equal(t, ldap.ScopeBaseObject, ScopeBase.ldap())
	assert.Equal(t, ldap.ScopeSingleLevel, ScopeOneLevel.ldap())
	assert.Equal(t, ldap.ScopeWholeSubtree, ScopeSubtree.ldap())
}

func TestEntry_Values_CaseInsensitive(t *testing.T) {
	e := Entry{Attributes: map[string][]string{"pgpCertID": {"DEADBEEFDEADBEEF"}}}

	assert.Equal(t, []string{"DEADBEEFDEADBEEF"}, e.Values("pgpCertID"))
	assert.Equal(t, []string{"DEADBEEFDEADBEEF"}, e.Values("pgpcertid"))
	assert.Nil(t, e.Values("pgpKey"))
}
