package ldap

import (
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var johnDoeGUID = []byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x34, 0x12, 0x12, 0x34, 0x56, 0x78, 0x90, 0x12, 0x34, 0x56}

// createMockUserEntry creates a mock LDAP entry for testing user operations.
func createMockUserEntry() *ldap.Entry {
	entry := ldap.NewEntry("CN=John Doe,OU=Users,DC=example,DC=com", map[string][]string{
		"distinguishedName":  {"CN=John Doe,OU=Users,DC=example,DC=com"},
		"objectSid":          {"S-1-5-21-123456789-123456789-123456789-1001"},
		"sAMAccountName":     {"john.doe"},
		"userPrincipalName":  {"john.doe@example.com"},
		"displayName":        {"John Doe"},
		"givenName":          {"John"},
		"sn":                 {"Doe"},
		"mail":               {"john.doe@example.com"},
		"userAccountControl": {"512"}, // Normal account, enabled
		"memberOf": {
			"CN=Engineers,OU=Groups,DC=example,DC=com",
			"CN=All Users,OU=Groups,DC=example,DC=com",
		},
	})
	entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{
		Name:       "objectGUID",
		ByteValues: [][]byte{johnDoeGUID},
	})
	return entry
}

// setAttribute replaces the values of an attribute on a mock entry.
func setAttribute(entry *ldap.Entry, name string, values ...string) {
	byteValues := make([][]byte, 0, len(values))
	for _, v := range values {
		byteValues = append(byteValues, []byte(v))
	}
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, name) {
			attr.Values = values
			attr.ByteValues = byteValues
			return
		}
	}
	entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{Name: name, Values: values, ByteValues: byteValues})
}

func TestNewUserMapper(t *testing.T) {
	tests := []struct {
		name      string
		attribute string
		expected  string
		wantErr   bool
	}{
		{name: "default", attribute: "", expected: AttrSAMAccountName},
		{name: "user principal name", attribute: AttrUserPrincipalName, expected: AttrUserPrincipalName},
		{name: "object GUID", attribute: AttrObjectGUID, expected: AttrObjectGUID},
		{name: "object SID", attribute: AttrObjectSID, expected: AttrObjectSID},
		{name: "unsupported", attribute: "employeeID", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapper, err := NewUserMapper(tt.attribute)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, mapper.externalIDAttribute)
		})
	}
}

func TestUserMapper_EntryToUser_ComprehensiveMapping(t *testing.T) {
	mapper, err := NewUserMapper("")
	require.NoError(t, err)

	user, err := mapper.EntryToUser(createMockUserEntry())
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, "john.doe", user.ExternalID)
	assert.Equal(t, "john.doe@example.com", user.PrincipalName)
	assert.Equal(t, "john.doe@example.com", user.Email)
	assert.Equal(t, "John", user.FirstName)
	assert.Equal(t, "Doe", user.LastName)
	assert.Equal(t, "John Doe", user.DisplayName)
	assert.Equal(t, "CN=John Doe,OU=Users,DC=example,DC=com", user.DistinguishedName)
	assert.Equal(t, "12345678-1234-1234-1234-567890123456", user.ObjectGUID)
	assert.Equal(t, "S-1-5-21-123456789-123456789-123456789-1001", user.ObjectSID)

	assert.Equal(t, []DirectoryGroup{
		{DistinguishedName: "CN=Engineers,OU=Groups,DC=example,DC=com", DisplayName: "Engineers"},
		{DistinguishedName: "CN=All Users,OU=Groups,DC=example,DC=com", DisplayName: "All Users"},
	}, user.Groups)
}

func TestUserMapper_EntryToUser_ExternalID(t *testing.T) {
	tests := []struct {
		name      string
		attribute string
		modify    func(*ldap.Entry)
		expected  string
		wantErr   bool
	}{
		{
			name:      "sAMAccountName",
			attribute: AttrSAMAccountName,
			expected:  "john.doe",
		},
		{
			name:      "userPrincipalName",
			attribute: AttrUserPrincipalName,
			expected:  "john.doe@example.com",
		},
		{
			name:      "objectGUID",
			attribute: AttrObjectGUID,
			expected:  "12345678-1234-1234-1234-567890123456",
		},
		{
			name:      "objectSid",
			attribute: AttrObjectSID,
			expected:  "S-1-5-21-123456789-123456789-123456789-1001",
		},
		{
			name:      "binary objectSid",
			attribute: AttrObjectSID,
			modify: func(e *ldap.Entry) {
				// S-1-5-21-1-2-3-1001
				sid := []byte{
					0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
					0x15, 0x00, 0x00, 0x00,
					0x01, 0x00, 0x00, 0x00,
					0x02, 0x00, 0x00, 0x00,
					0x03, 0x00, 0x00, 0x00,
					0xe9, 0x03, 0x00, 0x00,
				}
				for _, attr := range e.Attributes {
					if attr.Name == "objectSid" {
						attr.Values = []string{string(sid)}
						attr.ByteValues = [][]byte{sid}
					}
				}
			},
			expected: "S-1-5-21-1-2-3-1001",
		},
		{
			name:      "missing attribute",
			attribute: AttrUserPrincipalName,
			modify: func(e *ldap.Entry) {
				setAttribute(e, "userPrincipalName")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapper, err := NewUserMapper(tt.attribute)
			require.NoError(t, err)

			entry := createMockUserEntry()
			if tt.modify != nil {
				tt.modify(entry)
			}

			user, err := mapper.EntryToUser(entry)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, user.ExternalID)
		})
	}
}

func TestUserMapper_EntryToUser_PrincipalNameFallback(t *testing.T) {
	mapper, err := NewUserMapper("")
	require.NoError(t, err)

	entry := createMockUserEntry()
	setAttribute(entry, "userPrincipalName")

	user, err := mapper.EntryToUser(entry)
	require.NoError(t, err)
	assert.Equal(t, "john.doe", user.PrincipalName)
}

func TestUserMapper_EntryToUser_NilEntry(t *testing.T) {
	mapper, err := NewUserMapper("")
	require.NoError(t, err)

	_, err = mapper.EntryToUser(nil)
	assert.Error(t, err)
}

func TestGroupsFromMemberOf(t *testing.T) {
	tests := []struct {
		name     string
		memberOf []string
		expected []DirectoryGroup
	}{
		{
			name:     "empty",
			memberOf: nil,
			expected: []DirectoryGroup{},
		},
		{
			name:     "attribute types are upper-cased",
			memberOf: []string{"cn=Engineering,ou=Groups,dc=example,dc=com"},
			expected: []DirectoryGroup{
				{DistinguishedName: "CN=Engineering,OU=Groups,DC=example,DC=com", DisplayName: "Engineering"},
			},
		},
		{
			name: "duplicates differing in case are dropped",
			memberOf: []string{
				"CN=Engineering,OU=Groups,DC=example,DC=com",
				"cn=engineering,ou=groups,dc=example,dc=com",
				"CN=Sales,OU=Groups,DC=example,DC=com",
			},
			expected: []DirectoryGroup{
				{DistinguishedName: "CN=Engineering,OU=Groups,DC=example,DC=com", DisplayName: "Engineering"},
				{DistinguishedName: "CN=Sales,OU=Groups,DC=example,DC=com", DisplayName: "Sales"},
			},
		},
		{
			name:     "escaped characters survive",
			memberOf: []string{`CN=Doe\, John's Team,OU=Groups,DC=example,DC=com`},
			expected: []DirectoryGroup{
				{DistinguishedName: `CN=Doe\, John's Team,OU=Groups,DC=example,DC=com`, DisplayName: "Doe, John's Team"},
			},
		},
		{
			name:     "empty values are skipped",
			memberOf: []string{"", "  ", "CN=Ops,DC=example,DC=com"},
			expected: []DirectoryGroup{
				{DistinguishedName: "CN=Ops,DC=example,DC=com", DisplayName: "Ops"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, groupsFromMemberOf(tt.memberOf))
		})
	}
}

func TestAccountControlRejects(t *testing.T) {
	tests := []struct {
		name     string
		uac      string
		rejected bool
		reason   string
	}{
		{name: "normal enabled account", uac: "512"},
		{name: "missing attribute", uac: ""},
		{name: "unparseable", uac: "abc"},
		{name: "disabled account", uac: "514", rejected: true, reason: "account disabled"},
		{name: "locked out", uac: "528", rejected: true, reason: "account locked out"},
		{name: "password expired", uac: "8389120", rejected: true, reason: "password expired"},
		{name: "password never expires", uac: "66048"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := createMockUserEntry()
			if tt.uac == "" {
				setAttribute(entry, "userAccountControl")
			} else {
				setAttribute(entry, "userAccountControl", tt.uac)
			}

			reason, rejected := accountControlRejects(entry)
			assert.Equal(t, tt.rejected, rejected)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestUserSearchFilter(t *testing.T) {
	tests := []struct {
		name      string
		account   string
		principal string
		expected  string
	}{
		{
			name:      "plain",
			account:   "jdoe",
			principal: "jdoe@corp.example.org",
			expected:  "(&(objectCategory=person)(objectClass=user)(|(sAMAccountName=jdoe)(userPrincipalName=jdoe@corp.example.org)))",
		},
		{
			name:      "filter metacharacters are escaped",
			account:   "j*)(uid=*",
			principal: "j*)(uid=*",
			expected:  `(&(objectCategory=person)(objectClass=user)(|(sAMAccountName=j\2a\29\28uid=\2a)(userPrincipalName=j\2a\29\28uid=\2a)))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := userSearchFilter(tt.account, tt.principal)
			assert.Equal(t, tt.expected, filter)

			_, err := ldap.CompileFilter(filter)
			assert.NoError(t, err)
		})
	}
}

func TestSelectUserEntry(t *testing.T) {
	other := createMockUserEntry()
	setAttribute(other, "sAMAccountName", "jdoe2")
	setAttribute(other, "userPrincipalName", "jdoe2@example.com")

	match := createMockUserEntry()
	setAttribute(match, "sAMAccountName", "jdoe")
	setAttribute(match, "userPrincipalName", "jdoe@example.com")

	assert.Nil(t, selectUserEntry(nil, "jdoe", "jdoe@example.com"))
	assert.Same(t, match, selectUserEntry([]*ldap.Entry{other, match}, "JDOE", "jdoe@example.com"))
	assert.Same(t, match, selectUserEntry([]*ldap.Entry{other, match}, "nobody", "JDoe@Example.com"))
	assert.Same(t, other, selectUserEntry([]*ldap.Entry{other, match}, "nobody", "nobody@example.com"))
}
