package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDHandler provides GUID operations for Active Directory.
// Active Directory stores GUIDs in a mixed-endian format that differs from standard UUID byte ordering.
type GUIDHandler struct{}

// NewGUIDHandler creates a new GUID handler instance.
func NewGUIDHandler() *GUIDHandler {
	return &GUIDHandler{}
}

// GUIDBytesLength is the size of a binary objectGUID.
const GUIDBytesLength = 16

// swapGUIDEndianness converts Active Directory mixed-endian layout to RFC 4122 byte order.
// Data1, Data2 and Data3 are little-endian on the wire; Data4 is unchanged.
func swapGUIDEndianness(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)

	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])

	return out
}

// GUIDBytesToString converts Active Directory GUID bytes to standard string format.
func (g *GUIDHandler) GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	id, err := uuid.FromBytes(swapGUIDEndianness(guidBytes))
	if err != nil {
		return "", fmt.Errorf("failed to decode GUID: %w", err)
	}

	return id.String(), nil
}

// ExtractGUID extracts the objectGUID from an LDAP entry and returns it as a string.
func (g *GUIDHandler) ExtractGUID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("LDAP entry cannot be nil")
	}

	guidAttr := entry.GetRawAttributeValue(AttrObjectGUID)
	if len(guidAttr) == 0 {
		return "", fmt.Errorf("objectGUID attribute not found in entry")
	}

	if len(guidAttr) != GUIDBytesLength {
		return "", fmt.Errorf("invalid objectGUID length: expected %d bytes, got %d", GUIDBytesLength, len(guidAttr))
	}

	return g.GUIDBytesToString(guidAttr)
}

// ExtractGUIDSafe extracts the objectGUID from an LDAP entry, returning empty string if not found.
func (g *GUIDHandler) ExtractGUIDSafe(entry *ldap.Entry) string {
	guid, err := g.ExtractGUID(entry)
	if err != nil {
		return ""
	}
	return guid
}
