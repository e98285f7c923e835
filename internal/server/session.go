package server

import (
	"context"

	"github.com/gin-contrib/sessions"

	"github.com/isometry/ad-auth-bridge/internal/auth"
)

// Session keys.
const (
	sessionLocalUserID = "local_user_id"
	sessionLogin       = "login"
	sessionNative      = "native"
	sessionFingerprint = "credential_fingerprint"
)

// sessionSecurityContext installs an accepted principal in the cookie session.
type sessionSecurityContext struct {
	session sessions.Session
}

var _ auth.SecurityContext = sessionSecurityContext{}

func (s sessionSecurityContext) SetPrincipal(_ context.Context, identity auth.AuthenticatedIdentity) error {
	s.session.Clear()
	s.session.Set(sessionLocalUserID, identity.LocalUser.ID)
	s.session.Set(sessionLogin, identity.LocalUser.Login)
	s.session.Set(sessionNative, identity.Native())
	s.session.Set(sessionFingerprint, identity.LocalUser.CredentialFingerprint())
	return s.session.Save()
}

// sessionState returns what the session remembers about its principal, or nil.
func sessionState(session sessions.Session) *auth.SessionState {
	localUserID, _ := session.Get(sessionLocalUserID).(string)
	if localUserID == "" {
		return nil
	}

	fingerprint, _ := session.Get(sessionFingerprint).(string)
	return &auth.SessionState{
		LocalUserID:           localUserID,
		CredentialFingerprint: fingerprint,
	}
}
