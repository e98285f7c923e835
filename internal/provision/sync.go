// Package provision creates and updates local users from authenticated
// directory users and keeps their directory group memberships in step.
package provision

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/metrics"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "provision"

// randomPasswordBytes is the amount of random material behind the unusable
// local password of a directory-managed user.
const randomPasswordBytes = 128

// Config controls how directory users are provisioned locally.
type Config struct {
	DefaultLanguage  string // Language assigned to new users
	ParentContainer  string // Container for auto-created groups
	DefaultGroup     string // Locally managed group every new user joins; optional
	AllowEmptyGroups bool   // Permit users with no group memberships
	Actor            string // Name recorded as creator of provisioned users and groups
}

// Synchronizer maps directory users onto local users.
type Synchronizer struct {
	repo        repository.Repository
	config      Config
	metrics     *metrics.Metrics
	newPassword func() (string, error)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithMetrics records synchronization metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// NewSynchronizer creates a Synchronizer over repo.
func NewSynchronizer(repo repository.Repository, config Config, opts ...Option) *Synchronizer {
	if config.Actor == "" {
		config.Actor = "directory-sync"
	}

	s := &Synchronizer{
		repo:        repo,
		config:      config,
		newPassword: randomPassword,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser creates or updates the local user for an authenticated directory
// user. Creation and update each run in a single transaction. Every failure
// is wrapped with ErrSyncFailed.
func (s *Synchronizer) SyncUser(ctx context.Context, du *ldap.DirectoryUser) (*repository.LocalUser, error) {
	if du == nil || du.ExternalID == "" {
		return nil, fmt.Errorf("%w: directory user has no external identifier", ErrSyncFailed)
	}

	remoteID := repository.RemoteID(du.ExternalID)
	fields := map[string]any{
		"remote_id": remoteID,
		"groups":    len(du.Groups),
	}

	user, err := s.repo.LoadUserByRemoteID(ctx, remoteID)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		user, err = s.createUser(ctx, remoteID, du)
		if errors.Is(err, ErrRaceLost) {
			s.metrics.ObserveRaceLost()
			tflog.SubsystemInfo(ctx, Subsystem, "Local user created concurrently, updating instead", fields)

			user, err = s.repo.LoadUserByRemoteID(ctx, remoteID)
			if err != nil {
				s.metrics.ObserveSync(metrics.SyncFailed)
				return nil, syncFailed("reload user", err)
			}
			return s.finishUpdate(ctx, user, du, fields)
		}
		if err != nil {
			s.metrics.ObserveSync(metrics.SyncFailed)
			fields["error"] = err.Error()
			tflog.SubsystemError(ctx, Subsystem, "Failed to create local user", fields)
			return nil, syncFailed("create user", err)
		}

		s.metrics.ObserveSync(metrics.SyncCreated)
		fields["login"] = user.Login
		tflog.SubsystemInfo(ctx, Subsystem, "Created local user", fields)
		return user, nil

	case err != nil:
		s.metrics.ObserveSync(metrics.SyncFailed)
		return nil, syncFailed("load user", err)
	}

	return s.finishUpdate(ctx, user, du, fields)
}

func (s *Synchronizer) finishUpdate(ctx context.Context, user *repository.LocalUser, du *ldap.DirectoryUser, fields map[string]any) (*repository.LocalUser, error) {
	fields["login"] = user.Login

	if err := s.updateUser(ctx, user, du); err != nil {
		s.metrics.ObserveSync(metrics.SyncFailed)
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, Subsystem, "Failed to update local user", fields)
		return nil, syncFailed("update user", err)
	}

	s.metrics.ObserveSync(metrics.SyncUpdated)
	tflog.SubsystemDebug(ctx, Subsystem, "Updated local user", fields)
	return user, nil
}

// createUser inserts the user with its default and directory groups in one
// transaction under an elevated actor.
func (s *Synchronizer) createUser(ctx context.Context, remoteID string, du *ldap.DirectoryUser) (*repository.LocalUser, error) {
	password, err := s.newPassword()
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := repository.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	login := du.PrincipalName
	if login == "" {
		login = du.ExternalID
	}

	user := &repository.LocalUser{
		Login:        login,
		RemoteID:     &remoteID,
		Email:        du.Email,
		FirstName:    du.FirstName,
		LastName:     du.LastName,
		Language:     s.config.DefaultLanguage,
		PasswordHash: hash,
	}

	var changes GroupChanges
	err = repository.Sudo(ctx, s.config.Actor, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(repo repository.Repository) error {
			if err := repo.CreateUser(ctx, user); err != nil {
				if errors.Is(err, repository.ErrDuplicateUser) {
					return ErrRaceLost
				}
				return err
			}

			if s.config.DefaultGroup != "" {
				group, err := repo.LoadGroupByName(ctx, s.config.DefaultGroup)
				if err != nil {
					return fmt.Errorf("default group %q: %w", s.config.DefaultGroup, err)
				}
				if err := repo.AssignUserToGroup(ctx, user, group); err != nil {
					return fmt.Errorf("assign default group: %w", err)
				}
			}

			var err error
			changes, err = s.ReconcileGroups(ctx, repo, user, du.Groups)
			if err != nil {
				return err
			}
			return refreshGroups(ctx, repo, user)
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveGroupChanges(changes.Added, changes.Removed)
	return user, nil
}

// updateUser refreshes directory attributes and memberships in one transaction.
func (s *Synchronizer) updateUser(ctx context.Context, user *repository.LocalUser, du *ldap.DirectoryUser) error {
	user.Email = du.Email
	user.FirstName = du.FirstName
	user.LastName = du.LastName

	var changes GroupChanges
	err := repository.Sudo(ctx, s.config.Actor, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(repo repository.Repository) error {
			if err := repo.UpdateUser(ctx, user); err != nil {
				return err
			}
			var err error
			changes, err = s.ReconcileGroups(ctx, repo, user, du.Groups)
			if err != nil {
				return err
			}
			return refreshGroups(ctx, repo, user)
		})
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveGroupChanges(changes.Added, changes.Removed)
	return nil
}

func refreshGroups(ctx context.Context, repo repository.Repository, user *repository.LocalUser) error {
	groups, err := repo.LoadUserGroupsOfUser(ctx, user)
	if err != nil {
		return err
	}
	user.Groups = groups
	return nil
}

// randomPassword returns an unusable password derived from 128 random bytes.
// The material is folded through SHA-256 to stay inside bcrypt's input limit.
func randomPassword() (string, error) {
	b := make([]byte, randomPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// EnsureDefaultGroup creates the configured default group when it does not
// exist yet. It reports whether the group was created.
func (s *Synchronizer) EnsureDefaultGroup(ctx context.Context) (*repository.LocalGroup, bool, error) {
	if s.config.DefaultGroup == "" {
		return nil, false, nil
	}

	group, err := s.repo.LoadGroupByName(ctx, s.config.DefaultGroup)
	if err == nil {
		return group, false, nil
	}
	if !errors.Is(err, repository.ErrGroupNotFound) {
		return nil, false, err
	}

	group = &repository.LocalGroup{Name: s.config.DefaultGroup}
	err = repository.Sudo(ctx, s.config.Actor, func(ctx context.Context) error {
		return s.repo.CreateGroup(ctx, group)
	})
	if err != nil {
		return nil, false, fmt.Errorf("create default group %q: %w", s.config.DefaultGroup, err)
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Created default group", map[string]any{
		"group": group.Name,
	})
	return group, true, nil
}
