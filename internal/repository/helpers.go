package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// getByField retrieves a single record of type T by matching field=value.
// It applies optional Preload clauses and converts gorm.ErrRecordNotFound
// to notFoundErr.
func getByField[T any](db *gorm.DB, ctx context.Context, field string, value any, notFoundErr error, preloads ...string) (*T, error) {
	var result T
	q := db.WithContext(ctx)
	for _, p := range preloads {
		q = q.Preload(p)
	}
	if err := q.Where(field+" = ?", value).First(&result).Error; err != nil {
		return nil, convertNotFoundError(err, notFoundErr)
	}
	return &result, nil
}

// insertIfAbsent inserts entity with ON CONFLICT DO NOTHING. A conflict on any
// unique key is reported as dupErr.
func insertIfAbsent[T any](db *gorm.DB, ctx context.Context, entity *T, dupErr error) error {
	result := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return dupErr
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return dupErr
	}
	return nil
}
