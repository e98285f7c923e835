package auth

import (
	"errors"
	"fmt"

	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// ErrCredentialsChanged is the cause of a KindCredentialsChanged rejection.
var ErrCredentialsChanged = errors.New("credentials changed from another session")

// Kind classifies a rejected authentication.
type Kind string

const (
	KindCredentialsMissing Kind = "credentials_missing"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindServiceError       Kind = "service_error"
	KindCredentialsChanged Kind = "credentials_changed"
)

// User-facing messages. They never reveal whether the username exists.
const (
	messageInvalidCredentials = "The presented username or password is invalid."
	messageServiceError       = "The authentication service is temporarily unavailable. Please try again later."
	messageCredentialsChanged = "The credentials were changed from another session."
)

// AuthenticatedIdentity is the principal produced by a successful authentication.
// DirectoryUser is nil for native logins.
type AuthenticatedIdentity struct {
	LocalUser     *repository.LocalUser
	DirectoryUser *ldap.DirectoryUser
}

// Native reports whether the identity was authenticated against the local repository.
func (i AuthenticatedIdentity) Native() bool {
	return i.DirectoryUser == nil
}

// Rejection describes why an authentication was refused.
type Rejection struct {
	Kind  Kind
	Cause error
}

func (r *Rejection) Error() string {
	if r.Cause == nil {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Cause)
}

func (r *Rejection) Unwrap() error {
	return r.Cause
}

// UserMessage returns the text shown to the person logging in.
func (r *Rejection) UserMessage() string {
	switch r.Kind {
	case KindServiceError:
		return messageServiceError
	case KindCredentialsChanged:
		return messageCredentialsChanged
	default:
		return messageInvalidCredentials
	}
}

// AuthResult is either an accepted identity or a rejection, never both.
type AuthResult struct {
	identity  *AuthenticatedIdentity
	rejection *Rejection
}

// Accepted returns a successful result.
func Accepted(identity AuthenticatedIdentity) AuthResult {
	return AuthResult{identity: &identity}
}

// Rejected returns a failed result.
func Rejected(kind Kind, cause error) AuthResult {
	return AuthResult{rejection: &Rejection{Kind: kind, Cause: cause}}
}

// IsAccepted reports whether authentication succeeded.
func (r AuthResult) IsAccepted() bool {
	return r.identity != nil
}

// Identity returns the authenticated identity of an accepted result.
func (r AuthResult) Identity() (AuthenticatedIdentity, bool) {
	if r.identity == nil {
		return AuthenticatedIdentity{}, false
	}
	return *r.identity, true
}

// Rejection returns the rejection of a failed result.
func (r AuthResult) Rejection() (*Rejection, bool) {
	return r.rejection, r.rejection != nil
}
