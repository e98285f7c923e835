package provision

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// ResolveLocalGroup returns the local group mirroring a directory group,
// creating it under the configured parent container when it does not exist.
// Creation requires an elevated actor on ctx.
func (s *Synchronizer) ResolveLocalGroup(ctx context.Context, repo repository.Repository, group ldap.DirectoryGroup) (*repository.LocalGroup, error) {
	if strings.TrimSpace(group.DistinguishedName) == "" {
		return nil, fmt.Errorf("directory group has no distinguished name")
	}

	remoteID := repository.RemoteID(group.DistinguishedName)

	existing, err := repo.LoadGroupByRemoteID(ctx, remoteID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrGroupNotFound) {
		return nil, err
	}

	name := group.DisplayName
	if name == "" {
		name = group.DistinguishedName
	}

	created := &repository.LocalGroup{
		RemoteID:  &remoteID,
		Name:      name,
		Container: s.config.ParentContainer,
	}
	if err := repo.CreateGroup(ctx, created); err != nil {
		if !errors.Is(err, repository.ErrDuplicateGroup) {
			return nil, err
		}
		// Another login created it between our read and insert.
		return repo.LoadGroupByRemoteID(ctx, remoteID)
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Created local group for directory group", map[string]any{
		"group_remote_id": remoteID,
		"group_name":      name,
		"container":       s.config.ParentContainer,
	})

	return created, nil
}

// GroupChanges counts the memberships a reconciliation added and removed.
type GroupChanges struct {
	Added   int
	Removed int
}

// ReconcileGroups converges the user's directory-managed memberships onto
// directoryGroups. Missing memberships are added before stale ones are
// removed. Memberships in groups without the directory prefix are left alone.
// The changes only take effect once the enclosing transaction commits.
func (s *Synchronizer) ReconcileGroups(ctx context.Context, repo repository.Repository, user *repository.LocalUser, directoryGroups []ldap.DirectoryGroup) (GroupChanges, error) {
	desired := make(map[string]*repository.LocalGroup, len(directoryGroups))
	desiredOrder := make([]string, 0, len(directoryGroups))
	for _, dg := range directoryGroups {
		group, err := s.ResolveLocalGroup(ctx, repo, dg)
		if err != nil {
			return GroupChanges{}, fmt.Errorf("resolve group %q: %w", dg.DistinguishedName, err)
		}
		if _, seen := desired[group.ID]; !seen {
			desired[group.ID] = group
			desiredOrder = append(desiredOrder, group.ID)
		}
	}

	current, err := repo.LoadUserGroupsOfUser(ctx, user)
	if err != nil {
		return GroupChanges{}, fmt.Errorf("load memberships: %w", err)
	}

	managed := make(map[string]repository.LocalGroup)
	unmanaged := 0
	for _, group := range current {
		if group.IsDirectoryManaged() {
			managed[group.ID] = group
		} else {
			unmanaged++
		}
	}

	toAdd, toRemove := membershipDelta(desiredOrder, managed)

	if unmanaged+len(desired) == 0 && !s.config.AllowEmptyGroups {
		return GroupChanges{}, fmt.Errorf("%w: %s", ErrConstraintViolation, user.Login)
	}

	for _, id := range toAdd {
		if err := repo.AssignUserToGroup(ctx, user, desired[id]); err != nil {
			return GroupChanges{}, fmt.Errorf("assign group %q: %w", desired[id].Name, err)
		}
	}

	for _, group := range toRemove {
		if err := repo.UnassignUserFromGroup(ctx, user, &group); err != nil {
			return GroupChanges{}, fmt.Errorf("unassign group %q: %w", group.Name, err)
		}
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Reconciled group memberships", map[string]any{
		"login":     user.Login,
		"desired":   len(desired),
		"added":     len(toAdd),
		"removed":   len(toRemove),
		"unmanaged": unmanaged,
	})

	return GroupChanges{Added: len(toAdd), Removed: len(toRemove)}, nil
}

// membershipDelta returns the desired group IDs missing from current, in
// desired order, and the current groups absent from desired, ordered by name.
func membershipDelta(desired []string, current map[string]repository.LocalGroup) ([]string, []repository.LocalGroup) {
	wanted := make(map[string]bool, len(desired))
	var toAdd []string
	for _, id := range desired {
		wanted[id] = true
		if _, ok := current[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}

	var toRemove []repository.LocalGroup
	for id, group := range current {
		if !wanted[id] {
			toRemove = append(toRemove, group)
		}
	}
	slices.SortFunc(toRemove, func(a, b repository.LocalGroup) int {
		return strings.Compare(a.Name, b.Name)
	})

	return toAdd, toRemove
}
