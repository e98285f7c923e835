// Package repository stores local users, local groups and their memberships.
package repository

import "context"

// Repository is the local user repository.
//
// Create operations require an elevated actor on the context (see Sudo) and
// fail with ErrPermissionDenied otherwise.
type Repository interface {
	LoadUserByLogin(ctx context.Context, login string) (*LocalUser, error)
	LoadUserByRemoteID(ctx context.Context, remoteID string) (*LocalUser, error)
	CreateUser(ctx context.Context, user *LocalUser) error
	UpdateUser(ctx context.Context, user *LocalUser) error

	AssignUserToGroup(ctx context.Context, user *LocalUser, group *LocalGroup) error
	UnassignUserFromGroup(ctx context.Context, user *LocalUser, group *LocalGroup) error
	LoadUserGroupsOfUser(ctx context.Context, user *LocalUser) ([]LocalGroup, error)

	LoadGroupByRemoteID(ctx context.Context, remoteID string) (*LocalGroup, error)
	LoadGroupByName(ctx context.Context, name string) (*LocalGroup, error)
	CreateGroup(ctx context.Context, group *LocalGroup) error

	Transaction(ctx context.Context, fn func(repo Repository) error) error
}
