package repository

import "context"

func (s *Store) LoadGroupByRemoteID(ctx context.Context, remoteID string) (*LocalGroup, error) {
	return getByField[LocalGroup](s.db, ctx, "remote_id", remoteID, ErrGroupNotFound)
}

// LoadGroupByName returns the locally managed group with the given name.
// Directory-managed groups are not considered.
func (s *Store) LoadGroupByName(ctx context.Context, name string) (*LocalGroup, error) {
	var group LocalGroup
	err := s.db.WithContext(ctx).
		Where("name = ? AND remote_id IS NULL", name).
		Order("created_at").
		First(&group).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrGroupNotFound)
	}
	return &group, nil
}

// CreateGroup inserts a new group. A conflict on the remote ID yields
// ErrDuplicateGroup; callers re-read the winner.
func (s *Store) CreateGroup(ctx context.Context, group *LocalGroup) error {
	actor, err := requireElevated(ctx)
	if err != nil {
		return err
	}
	group.CreatedBy = actor
	return insertIfAbsent(s.db, ctx, group, ErrDuplicateGroup)
}
