package ldap

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// SIDHandler provides SID operations for Active Directory.
// Active Directory stores SIDs in binary format that needs to be converted to human-readable strings.
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// ConvertBinarySIDToString converts a binary SID to its S-1-5-21-... representation.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}

	// revision, sub-authority count, 6-byte authority, then 4 bytes per sub-authority
	if len(binarySID) < 8 || len(binarySID) != 8+4*int(binarySID[1]) {
		return "", fmt.Errorf("invalid binary SID length: %d", len(binarySID))
	}

	sid := objectsid.Decode(binarySID)

	return sid.String(), nil
}

// ExtractSID extracts the objectSid from an LDAP entry and returns it as a string.
func (s *SIDHandler) ExtractSID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("LDAP entry cannot be nil")
	}

	sidBytes := entry.GetRawAttributeValue(AttrObjectSID)
	if len(sidBytes) == 0 {
		return "", fmt.Errorf("objectSid attribute not found in entry")
	}

	// Directory fixtures sometimes carry the string form
	if sidString := string(sidBytes); s.ValidateSIDString(sidString) == nil {
		return sidString, nil
	}

	return s.ConvertBinarySIDToString(sidBytes)
}

// ExtractSIDSafe extracts the objectSid from an LDAP entry, returning empty string if not found.
func (s *SIDHandler) ExtractSIDSafe(entry *ldap.Entry) string {
	sid, err := s.ExtractSID(entry)
	if err != nil {
		return ""
	}
	return sid
}

// ValidateSIDString validates that a string is a properly formatted SID.
func (s *SIDHandler) ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if len(sidString) < 5 || !strings.HasPrefix(sidString, "S-") {
		return fmt.Errorf("invalid SID format: must start with 'S-'")
	}

	for _, r := range sidString[2:] {
		if (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("invalid SID format: unexpected character %q", r)
		}
	}

	return nil
}
