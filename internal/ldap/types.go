package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ExternalID source attributes.
const (
	AttrSAMAccountName    = "sAMAccountName"
	AttrUserPrincipalName = "userPrincipalName"
	AttrObjectGUID        = "objectGUID"
	AttrObjectSID         = "objectSid"
)

// ConnectionConfig holds configuration for directory connections.
type ConnectionConfig struct {
	// Server selection
	Domain            string   // Domain for SRV discovery when DomainControllers is empty
	DomainControllers []string // Ordered host names, IP addresses or ldap(s):// URLs
	BaseDN            string   // Base DN for user searches
	AccountSuffix     string   // Appended to bare usernames before binding, e.g. "@corp.example.org"

	// Timeouts
	ConnectTimeout time.Duration // Bound on establishing a single connection
	SearchTimeout  time.Duration // Bound on each bind and search request

	// TLS settings
	TLSConfig *tls.Config // Custom TLS configuration
	UseTLS    bool        // Use LDAPS for controllers given without a scheme
	StartTLS  bool        // Upgrade plain connections with StartTLS

	// Identity mapping
	ExternalIDAttribute string // Attribute providing the stable external identifier

	// Authentication settings
	AuthMethod     AuthMethod
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosConfig string // Path to krb5.conf; generated from the controllers when empty
	KerberosSPN    string // Service principal override

	// Retry settings
	MaxRetries     int           // Additional passes over the controller list
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ConnectTimeout:      10 * time.Second,
		SearchTimeout:       15 * time.Second,
		UseTLS:              true,
		ExternalIDAttribute: AttrSAMAccountName,
		AuthMethod:          AuthMethodSimpleBind,
		MaxRetries:          1,
		InitialBackoff:      250 * time.Millisecond,
		MaxBackoff:          2 * time.Second,
		BackoffFactor:       2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// AuthMethod defines how the user's credentials are presented to the directory.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // Username/password simple bind
	AuthMethodKerberos                     // GSSAPI bind with a ticket obtained from the password
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// ParseAuthMethod parses the configuration spelling of an authentication method.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return AuthMethodSimpleBind, nil
	case "kerberos", "gssapi":
		return AuthMethodKerberos, nil
	default:
		return AuthMethodSimpleBind, fmt.Errorf("unsupported authentication method: %s", s)
	}
}

// Credentials is a username and password presented for a single authentication attempt.
type Credentials struct {
	Username string
	Password string
}

// Validate fails with ErrCredentialsMissing when either value is empty.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		return ErrCredentialsMissing
	}
	return nil
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: [REDACTED]}", c.Username)
}

// DirectoryUser is the mapped directory entry of an authenticated user.
type DirectoryUser struct {
	ExternalID        string           `json:"externalId"`
	PrincipalName     string           `json:"principalName"`
	Email             string           `json:"email,omitempty"`
	FirstName         string           `json:"firstName,omitempty"`
	LastName          string           `json:"lastName,omitempty"`
	DisplayName       string           `json:"displayName,omitempty"`
	DistinguishedName string           `json:"distinguishedName"`
	ObjectGUID        string           `json:"objectGUID,omitempty"`
	ObjectSID         string           `json:"objectSid,omitempty"`
	Groups            []DirectoryGroup `json:"groups"`
}

// DirectoryGroup is a group the directory user is a direct member of.
type DirectoryGroup struct {
	DistinguishedName string `json:"distinguishedName"`
	DisplayName       string `json:"displayName"`
}

// Conn is the subset of *ldap.Conn used during an authentication attempt.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close()
}

// Dialer opens a connection to a single directory server.
type Dialer interface {
	Dial(ctx context.Context, server *ServerInfo) (Conn, error)
}

// DialerFunc makes it easy to use a func as a Dialer.
type DialerFunc func(ctx context.Context, server *ServerInfo) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	return f(ctx, server)
}
