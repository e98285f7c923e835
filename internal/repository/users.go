package repository

import (
	"context"

	"gorm.io/gorm/clause"
)

func (s *Store) LoadUserByLogin(ctx context.Context, login string) (*LocalUser, error) {
	return getByField[LocalUser](s.db, ctx, "login", login, ErrUserNotFound, "Groups")
}

func (s *Store) LoadUserByRemoteID(ctx context.Context, remoteID string) (*LocalUser, error) {
	return getByField[LocalUser](s.db, ctx, "remote_id", remoteID, ErrUserNotFound, "Groups")
}

// CreateUser inserts a new user. The insert never overwrites: a conflict on
// login or remote ID yields ErrDuplicateUser and leaves the existing row as is.
func (s *Store) CreateUser(ctx context.Context, user *LocalUser) error {
	actor, err := requireElevated(ctx)
	if err != nil {
		return err
	}
	user.CreatedBy = actor
	return insertIfAbsent(s.db, ctx, user, ErrDuplicateUser)
}

// UpdateUser writes the mutable attributes of an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *LocalUser) error {
	var existing LocalUser
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, ErrUserNotFound)
	}

	err := s.db.WithContext(ctx).
		Model(&existing).
		Omit(clause.Associations).
		Select("Login", "Email", "FirstName", "LastName", "Language", "PasswordHash").
		Updates(user).Error
	if isUniqueConstraintError(err) {
		return ErrDuplicateUser
	}
	return err
}

func (s *Store) AssignUserToGroup(ctx context.Context, user *LocalUser, group *LocalGroup) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserGroup{LocalUserID: user.ID, LocalGroupID: group.ID}).Error
}

func (s *Store) UnassignUserFromGroup(ctx context.Context, user *LocalUser, group *LocalGroup) error {
	result := s.db.WithContext(ctx).
		Where("local_user_id = ? AND local_group_id = ?", user.ID, group.ID).
		Delete(&UserGroup{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotMember
	}
	return nil
}

// LoadUserGroupsOfUser returns every group the user belongs to, ordered by name.
func (s *Store) LoadUserGroupsOfUser(ctx context.Context, user *LocalUser) ([]LocalGroup, error) {
	groups := []LocalGroup{}
	err := s.db.WithContext(ctx).
		Joins("JOIN user_groups ON user_groups.local_group_id = local_groups.id").
		Where("user_groups.local_user_id = ?", user.ID).
		Order("local_groups.name").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}
