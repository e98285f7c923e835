// Package auth decides whether a login is accepted, combining directory
// authentication, local user provisioning and native local accounts.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/metrics"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "auth"

// Directory authenticates credentials against the directory.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (*ldap.DirectoryUser, error)
}

// Synchronizer creates or updates the local user of a directory user.
type Synchronizer interface {
	SyncUser(ctx context.Context, user *ldap.DirectoryUser) (*repository.LocalUser, error)
}

// NativeUsers loads local accounts for native authentication.
type NativeUsers interface {
	LoadUserByLogin(ctx context.Context, login string) (*repository.LocalUser, error)
}

// SecurityContext receives the principal of an accepted login.
type SecurityContext interface {
	SetPrincipal(ctx context.Context, identity AuthenticatedIdentity) error
}

// SessionState is what an existing session remembers about its principal.
type SessionState struct {
	LocalUserID           string
	CredentialFingerprint string
}

// Request is a single login attempt.
type Request struct {
	Username string
	Password string
	Session  *SessionState
}

// Orchestrator turns directory and repository outcomes into an AuthResult.
type Orchestrator struct {
	directory Directory
	sync      Synchronizer
	native    NativeUsers
	metrics   *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records login metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(directory Directory, sync Synchronizer, native NativeUsers, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		directory: directory,
		sync:      sync,
		native:    native,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Authenticate runs one login attempt to completion.
func (o *Orchestrator) Authenticate(ctx context.Context, req Request) AuthResult {
	req.Username = strings.TrimSpace(req.Username)
	fields := map[string]any{
		"username": req.Username,
	}

	result := o.authenticate(ctx, req)

	if identity, ok := result.Identity(); ok {
		fields["local_user_id"] = identity.LocalUser.ID
		fields["native"] = identity.Native()
		o.metrics.ObserveLogin("accepted", "")
		tflog.SubsystemInfo(ctx, Subsystem, "Login accepted", fields)
		return result
	}

	rejection, _ := result.Rejection()
	fields["kind"] = string(rejection.Kind)
	if rejection.Cause != nil {
		fields["error"] = rejection.Cause.Error()
	}
	o.metrics.ObserveLogin("rejected", string(rejection.Kind))
	if rejection.Kind == KindServiceError {
		tflog.SubsystemError(ctx, Subsystem, "Login rejected", fields)
	} else {
		tflog.SubsystemWarn(ctx, Subsystem, "Login rejected", fields)
	}
	return result
}

func (o *Orchestrator) authenticate(ctx context.Context, req Request) AuthResult {
	if req.Username == "" || req.Password == "" {
		return Rejected(KindCredentialsMissing, ldap.ErrCredentialsMissing)
	}

	start := time.Now()
	directoryUser, err := o.directory.Authenticate(ctx, req.Username, req.Password)
	o.metrics.ObserveDirectoryAuth(directoryOutcome(err), time.Since(start))

	switch {
	case err == nil:
		localUser, err := o.sync.SyncUser(ctx, directoryUser)
		if err != nil {
			return Rejected(KindServiceError, err)
		}
		return o.guard(req, AuthenticatedIdentity{LocalUser: localUser, DirectoryUser: directoryUser})

	case errors.Is(err, ldap.ErrCredentialsMissing):
		return Rejected(KindCredentialsMissing, err)

	case errors.Is(err, ldap.ErrInvalidCredentials), errors.Is(err, ldap.ErrUserNotFound):
		return o.nativeFallback(ctx, req, err)

	default:
		// ServiceUnavailable and anything unclassified: no native fallback.
		return Rejected(KindServiceError, err)
	}
}

// nativeFallback authenticates against a native local account after the
// directory refused the credentials. Directory-managed accounts never qualify.
func (o *Orchestrator) nativeFallback(ctx context.Context, req Request, directoryErr error) AuthResult {
	user, err := o.native.LoadUserByLogin(ctx, req.Username)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return Rejected(KindInvalidCredentials, directoryErr)
	case err != nil:
		return Rejected(KindServiceError, err)
	}

	if user.IsDirectoryManaged() {
		return Rejected(KindInvalidCredentials, directoryErr)
	}

	if !user.VerifyPassword(req.Password) {
		return Rejected(KindInvalidCredentials, ldap.ErrInvalidCredentials)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Authenticated native user", map[string]any{
		"username": req.Username,
	})

	return o.guard(req, AuthenticatedIdentity{LocalUser: user})
}

// guard rejects a re-authentication of the session's own user when the stored
// credential changed since the session was established.
func (o *Orchestrator) guard(req Request, identity AuthenticatedIdentity) AuthResult {
	session := req.Session
	if session != nil &&
		session.LocalUserID == identity.LocalUser.ID &&
		session.CredentialFingerprint != "" &&
		session.CredentialFingerprint != identity.LocalUser.CredentialFingerprint() {
		return Rejected(KindCredentialsChanged, ErrCredentialsChanged)
	}
	return Accepted(identity)
}

// Login authenticates and, on success, installs the principal in sc.
func (o *Orchestrator) Login(ctx context.Context, req Request, sc SecurityContext) AuthResult {
	result := o.Authenticate(ctx, req)

	identity, ok := result.Identity()
	if !ok {
		return result
	}

	if err := sc.SetPrincipal(ctx, identity); err != nil {
		tflog.SubsystemError(ctx, Subsystem, "Failed to establish security context", map[string]any{
			"username": strings.TrimSpace(req.Username),
			"error":    err.Error(),
		})
		return Rejected(KindServiceError, err)
	}

	return result
}

func directoryOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ldap.ErrCredentialsMissing):
		return "credentials_missing"
	case errors.Is(err, ldap.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ldap.ErrUserNotFound):
		return "user_not_found"
	default:
		return "service_unavailable"
	}
}
