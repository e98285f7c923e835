package provision

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

// recordingRepo records membership changes and the membership count after each.
type recordingRepo struct {
	repository.Repository
	t *testing.T

	mu     sync.Mutex
	ops    []string
	counts []int
}

func (r *recordingRepo) AssignUserToGroup(ctx context.Context, user *repository.LocalUser, group *repository.LocalGroup) error {
	if err := r.Repository.AssignUserToGroup(ctx, user, group); err != nil {
		return err
	}
	r.record(ctx, user, "add:"+group.Name)
	return nil
}

func (r *recordingRepo) UnassignUserFromGroup(ctx context.Context, user *repository.LocalUser, group *repository.LocalGroup) error {
	if err := r.Repository.UnassignUserFromGroup(ctx, user, group); err != nil {
		return err
	}
	r.record(ctx, user, "remove:"+group.Name)
	return nil
}

func (r *recordingRepo) record(ctx context.Context, user *repository.LocalUser, op string) {
	groups, err := r.Repository.LoadUserGroupsOfUser(ctx, user)
	require.NoError(r.t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.counts = append(r.counts, len(groups))
}

func directoryGroups(dns ...string) []ldap.DirectoryGroup {
	return jdoe(dns...).Groups
}

func TestReconcileGroups_Convergence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	staff := createNativeGroup(t, store, "Staff")
	s := NewSynchronizer(store, testConfig())

	user, err := s.SyncUser(ctx, jdoe(engineeringDN, salesDN))
	require.NoError(t, err)
	require.NoError(t, store.AssignUserToGroup(ctx, user, staff))

	var changes GroupChanges
	err = repository.Sudo(ctx, "directory-sync", func(ctx context.Context) error {
		var err error
		changes, err = s.ReconcileGroups(ctx, store, user, directoryGroups(salesDN, opsDN))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, GroupChanges{Added: 1, Removed: 1}, changes)

	groups, err := store.LoadUserGroupsOfUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ops", "Sales", "Staff"}, groupNames(groups))

	// Converged: a second pass changes nothing.
	rec := &recordingRepo{Repository: store, t: t}
	err = repository.Sudo(ctx, "directory-sync", func(ctx context.Context) error {
		var err error
		changes, err = s.ReconcileGroups(ctx, rec, user, directoryGroups(salesDN, opsDN))
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, rec.ops)
	assert.Equal(t, GroupChanges{}, changes)
}

func TestReconcileGroups_AddsBeforeRemoves(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := NewSynchronizer(store, testConfig())

	user, err := s.SyncUser(ctx, jdoe(engineeringDN))
	require.NoError(t, err)

	rec := &recordingRepo{Repository: store, t: t}
	err = repository.Sudo(ctx, "directory-sync", func(ctx context.Context) error {
		_, err := s.ReconcileGroups(ctx, rec, user, directoryGroups(salesDN, opsDN))
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"add:Sales", "add:Ops", "remove:Engineering"}, rec.ops)
	for i, count := range rec.counts {
		assert.NotZero(t, count, "user had no groups after %s", rec.ops[i])
	}
}

func TestReconcileGroups_DuplicateDirectoryGroups(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := NewSynchronizer(store, testConfig())

	user, err := s.SyncUser(ctx, jdoe(engineeringDN, engineeringDN))
	require.NoError(t, err)
	assert.Equal(t, []string{"Engineering"}, groupNames(user.Groups))
}

func TestResolveLocalGroup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := NewSynchronizer(store, testConfig())

	t.Run("requires elevation to create", func(t *testing.T) {
		_, err := s.ResolveLocalGroup(ctx, store, ldap.DirectoryGroup{DistinguishedName: engineeringDN, DisplayName: "Engineering"})
		assert.ErrorIs(t, err, repository.ErrPermissionDenied)
	})

	t.Run("creates once", func(t *testing.T) {
		var first, second *repository.LocalGroup
		err := repository.Sudo(ctx, "directory-sync", func(ctx context.Context) error {
			var err error
			first, err = s.ResolveLocalGroup(ctx, store, ldap.DirectoryGroup{DistinguishedName: engineeringDN, DisplayName: "Engineering"})
			if err != nil {
				return err
			}
			second, err = s.ResolveLocalGroup(ctx, store, ldap.DirectoryGroup{DistinguishedName: engineeringDN, DisplayName: "Engineering"})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "directory-groups", first.Container)
		assert.Equal(t, int64(1), countRows(t, store, &repository.LocalGroup{}))
	})

	t.Run("existing group is found without elevation", func(t *testing.T) {
		group, err := s.ResolveLocalGroup(ctx, store, ldap.DirectoryGroup{DistinguishedName: engineeringDN})
		require.NoError(t, err)
		assert.Equal(t, "Engineering", group.Name)
	})

	t.Run("name falls back to DN", func(t *testing.T) {
		var group *repository.LocalGroup
		err := repository.Sudo(ctx, "directory-sync", func(ctx context.Context) error {
			var err error
			group, err = s.ResolveLocalGroup(ctx, store, ldap.DirectoryGroup{DistinguishedName: opsDN})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, opsDN, group.Name)
	})

	t.Run("empty DN", func(t *testing.T) {
		_, err := s.ResolveLocalGroup(ctx, store, ldap.DirectoryGroup{DisplayName: "x"})
		assert.Error(t, err)
	})
}

func TestMembershipDelta(t *testing.T) {
	current := map[string]repository.LocalGroup{
		"a": {ID: "a", Name: "Alpha"},
		"b": {ID: "b", Name: "Beta"},
		"z": {ID: "z", Name: "Zulu"},
	}

	toAdd, toRemove := membershipDelta([]string{"c", "b", "d"}, current)
	assert.Equal(t, []string{"c", "d"}, toAdd)
	assert.Equal(t, []string{"Alpha", "Zulu"}, groupNames(toRemove))

	toAdd, toRemove = membershipDelta(nil, nil)
	assert.Empty(t, toAdd)
	assert.Empty(t, toRemove)
}

// racingGroupRepo hides a group from the first lookup, as if a concurrent
// login created it between the lookup and the insert.
type racingGroupRepo struct {
	repository.Repository
	lookups atomic.Int32
	creates atomic.Int32
}

func (r *racingGroupRepo) LoadGroupByRemoteID(ctx context.Context, remoteID string) (*repository.LocalGroup, error) {
	if r.lookups.Add(1) == 1 {
		return nil, repository.ErrGroupNotFound
	}
	return r.Repository.LoadGroupByRemoteID(ctx, remoteID)
}

func (r *racingGroupRepo) CreateGroup(ctx context.Context, group *repository.LocalGroup) error {
	r.creates.Add(1)
	return r.Repository.CreateGroup(ctx, group)
}

func TestResolveLocalGroup_CreateRaceReturnsWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := NewSynchronizer(store, testConfig())
	engineering := ldap.DirectoryGroup{DistinguishedName: engineeringDN, DisplayName: "Engineering"}

	var winner, resolved *repository.LocalGroup
	repo := &racingGroupRepo{Repository: store}
	err := repository.Sudo(ctx, "directory-sync", func(ctx context.Context) error {
		var err error
		winner, err = s.ResolveLocalGroup(ctx, store, engineering)
		if err != nil {
			return err
		}
		resolved, err = s.ResolveLocalGroup(ctx, repo, engineering)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, winner.ID, resolved.ID)
	assert.Equal(t, int32(1), repo.creates.Load(), "insert should have been attempted")
	assert.Equal(t, int32(2), repo.lookups.Load(), "winner should be re-read after the conflict")
	assert.Equal(t, int64(1), countRows(t, store, &repository.LocalGroup{}))
}
