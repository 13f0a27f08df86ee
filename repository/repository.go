// Package repository holds the storage layer for chat rooms, messages and
// notifications. It contains no policy: state-machine rules live in services.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Repository is the capability set shared by every entity store
type Repository[T any] interface {
	Create(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, entity *T) error
	GetByID(ctx context.Context, id interface{}) (*T, error)
	Find(ctx context.Context, query interface{}, args ...interface{}) ([]T, error)
}

// GormRepository implements Repository for one gorm model type
type GormRepository[T any] struct {
	db *gorm.DB
}

// NewGormRepository creates a repository bound to db
func NewGormRepository[T any](db *gorm.DB) *GormRepository[T] {
	return &GormRepository[T]{db: db}
}

// Create inserts entity
func (r *GormRepository[T]) Create(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("create %T: %w", entity, err)
	}
	return nil
}

// Update saves every field of entity
func (r *GormRepository[T]) Update(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("update %T: %w", entity, err)
	}
	return nil
}

// Delete removes entity; models with a DeletedAt field are soft-deleted
func (r *GormRepository[T]) Delete(ctx context.Context, entity *T) error {
	res := r.db.WithContext(ctx).Delete(entity)
	if res.Error != nil {
		return fmt.Errorf("delete %T: %w", entity, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID loads one entity by primary key
func (r *GormRepository[T]) GetByID(ctx context.Context, id interface{}) (*T, error) {
	var entity T
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, translate(err)
	}
	return &entity, nil
}

// Find returns every entity matching the given where clause
func (r *GormRepository[T]) Find(ctx context.Context, query interface{}, args ...interface{}) ([]T, error) {
	var entities []T
	if err := r.db.WithContext(ctx).Where(query, args...).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return entities, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
