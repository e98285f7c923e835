package ldap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// User Account Control flags consulted during authentication (from Microsoft documentation).
const (
	UACAccountDisabled int32 = 0x00000002 // Account is disabled
	UACLockout         int32 = 0x00000010 // Account is locked out
	UACPasswordExpired int32 = 0x00800000 // Password expired
)

// userAttributes are requested for every user search.
var userAttributes = []string{
	"distinguishedName",
	AttrSAMAccountName,
	AttrUserPrincipalName,
	AttrObjectGUID,
	AttrObjectSID,
	"givenName",
	"sn",
	"displayName",
	"mail",
	"memberOf",
	"userAccountControl",
}

// UserMapper converts directory entries into DirectoryUser records.
type UserMapper struct {
	externalIDAttribute string
	guidHandler         *GUIDHandler
	sidHandler          *SIDHandler
}

// NewUserMapper creates a mapper that takes the external identifier from the given attribute.
func NewUserMapper(externalIDAttribute string) (*UserMapper, error) {
	switch externalIDAttribute {
	case "":
		externalIDAttribute = AttrSAMAccountName
	case AttrSAMAccountName, AttrUserPrincipalName, AttrObjectGUID, AttrObjectSID:
	default:
		return nil, fmt.Errorf("unsupported external ID attribute: %s", externalIDAttribute)
	}

	return &UserMapper{
		externalIDAttribute: externalIDAttribute,
		guidHandler:         NewGUIDHandler(),
		sidHandler:          NewSIDHandler(),
	}, nil
}

// EntryToUser maps a user entry to a DirectoryUser.
func (m *UserMapper) EntryToUser(entry *ldap.Entry) (*DirectoryUser, error) {
	if entry == nil {
		return nil, fmt.Errorf("LDAP entry cannot be nil")
	}

	user := &DirectoryUser{
		DistinguishedName: entry.DN,
		PrincipalName:     entry.GetAttributeValue(AttrUserPrincipalName),
		Email:             entry.GetAttributeValue("mail"),
		FirstName:         entry.GetAttributeValue("givenName"),
		LastName:          entry.GetAttributeValue("sn"),
		DisplayName:       entry.GetAttributeValue("displayName"),
		ObjectGUID:        m.guidHandler.ExtractGUIDSafe(entry),
		ObjectSID:         m.sidHandler.ExtractSIDSafe(entry),
	}

	if user.PrincipalName == "" {
		user.PrincipalName = entry.GetAttributeValue(AttrSAMAccountName)
	}

	switch m.externalIDAttribute {
	case AttrObjectGUID:
		user.ExternalID = user.ObjectGUID
	case AttrObjectSID:
		user.ExternalID = user.ObjectSID
	default:
		user.ExternalID = entry.GetAttributeValue(m.externalIDAttribute)
	}

	if user.ExternalID == "" {
		return nil, fmt.Errorf("directory entry %s has no usable %s", entry.DN, m.externalIDAttribute)
	}

	user.Groups = groupsFromMemberOf(entry.GetAttributeValues("memberOf"))

	return user, nil
}

// groupsFromMemberOf converts memberOf DNs into DirectoryGroups, preserving order and dropping duplicates.
// The display name is the group's CN; DNs are normalized so the same group always has the same key.
func groupsFromMemberOf(memberOf []string) []DirectoryGroup {
	groups := make([]DirectoryGroup, 0, len(memberOf))
	seen := make(map[string]bool, len(memberOf))

	for _, dn := range memberOf {
		normalized, err := NormalizeDNCase(dn)
		if err != nil || normalized == "" {
			continue
		}

		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true

		name, err := ExtractRDNValue(normalized, "CN")
		if err != nil {
			name = normalized
		}

		groups = append(groups, DirectoryGroup{
			DistinguishedName: normalized,
			DisplayName:       name,
		})
	}

	return groups
}

// accountControlRejects reports the userAccountControl flag that forbids login, if any.
func accountControlRejects(entry *ldap.Entry) (string, bool) {
	uacStr := entry.GetAttributeValue("userAccountControl")
	if uacStr == "" {
		return "", false
	}

	uac, err := strconv.ParseInt(uacStr, 10, 32)
	if err != nil {
		return "", false
	}

	switch {
	case int32(uac)&UACAccountDisabled != 0:
		return "account disabled", true
	case int32(uac)&UACLockout != 0:
		return "account locked out", true
	case int32(uac)&UACPasswordExpired != 0:
		return "password expired", true
	default:
		return "", false
	}
}

// userSearchFilter builds the filter matching the user by account name or principal name.
func userSearchFilter(accountName, principalName string) string {
	return fmt.Sprintf("(&(objectCategory=person)(objectClass=user)(|(%s=%s)(%s=%s)))",
		AttrSAMAccountName, ldap.EscapeFilter(accountName),
		AttrUserPrincipalName, ldap.EscapeFilter(principalName))
}

// selectUserEntry picks the entry that matches the login exactly when the search returned several.
func selectUserEntry(entries []*ldap.Entry, accountName, principalName string) *ldap.Entry {
	if len(entries) == 0 {
		return nil
	}

	for _, entry := range entries {
		if strings.EqualFold(entry.GetAttributeValue(AttrSAMAccountName), accountName) ||
			strings.EqualFold(entry.GetAttributeValue(AttrUserPrincipalName), principalName) {
			return entry
		}
	}

	return entries[0]
}
