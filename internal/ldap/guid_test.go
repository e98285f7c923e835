package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adGUIDBytes is 6f9619ff-8b86-d011-b42d-00c04fc964ff as stored in objectGUID.
var adGUIDBytes = []byte{
	0xff, 0x19, 0x96, 0x6f,
	0x86, 0x8b,
	0x11, 0xd0,
	0xb4, 0x2d, 0x00, 0xc0, 0x4f, 0xc9, 0x64, 0xff,
}

func TestGUIDHandler_GUIDBytesToString(t *testing.T) {
	handler := NewGUIDHandler()

	tests := []struct {
		name     string
		input    []byte
		expected string
		wantErr  bool
	}{
		{
			name:     "mixed-endian objectGUID",
			input:    adGUIDBytes,
			expected: "6f9619ff-8b86-d011-b42d-00c04fc964ff",
		},
		{
			name:     "all zero",
			input:    make([]byte, GUIDBytesLength),
			expected: "00000000-0000-0000-0000-000000000000",
		},
		{
			name:    "too short",
			input:   adGUIDBytes[:15],
			wantErr: true,
		},
		{
			name:    "too long",
			input:   append(append([]byte{}, adGUIDBytes...), 0x00),
			wantErr: true,
		},
		{
			name:    "empty",
			input:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler.GUIDBytesToString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGUIDHandler_ExtractGUID(t *testing.T) {
	handler := NewGUIDHandler()

	withGUID := func(value []byte) *ldap.Entry {
		entry := ldap.NewEntry("CN=jdoe,OU=Users,DC=corp,DC=example,DC=org", map[string][]string{
			"sAMAccountName": {"jdoe"},
		})
		if value != nil {
			entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{
				Name:       AttrObjectGUID,
				Values:     []string{string(value)},
				ByteValues: [][]byte{value},
			})
		}
		return entry
	}

	tests := []struct {
		name     string
		entry    *ldap.Entry
		expected string
		wantErr  string
	}{
		{
			name:     "valid objectGUID",
			entry:    withGUID(adGUIDBytes),
			expected: "6f9619ff-8b86-d011-b42d-00c04fc964ff",
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantErr: "cannot be nil",
		},
		{
			name:    "missing attribute",
			entry:   withGUID(nil),
			wantErr: "not found",
		},
		{
			name:    "truncated attribute",
			entry:   withGUID(adGUIDBytes[:8]),
			wantErr: "invalid objectGUID length",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler.ExtractGUID(tt.entry)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, handler.ExtractGUIDSafe(tt.entry))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
			assert.Equal(t, tt.expected, handler.ExtractGUIDSafe(tt.entry))
		})
	}
}

func TestUserMapper_ObjectGUIDExternalID(t *testing.T) {
	entry := ldap.NewEntry("CN=jdoe,OU=Users,DC=corp,DC=example,DC=org", map[string][]string{
		"sAMAccountName":     {"jdoe"},
		"userPrincipalName":  {"jdoe@corp.example.org"},
		"userAccountControl": {"512"},
	})
	entry.Attributes = append(entry.Attributes, &ldap.EntryAttribute{
		Name:       AttrObjectGUID,
		Values:     []string{string(adGUIDBytes)},
		ByteValues: [][]byte{adGUIDBytes},
	})

	mapper, err := NewUserMapper(AttrObjectGUID)
	require.NoError(t, err)

	user, err := mapper.EntryToUser(entry)
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", user.ExternalID)
	assert.Equal(t, user.ExternalID, user.ObjectGUID)
}
