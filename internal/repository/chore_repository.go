package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"chore-tracker/internal/model"
)

// ChoreFilter narrows a chore listing. Page is 1-based.
type ChoreFilter struct {
	Status model.Status
	Query  string
	Page   int
	Limit  int
}

// ChoreRepository handles CRUD for chores. Every lookup is scoped by owner.
type ChoreRepository struct {
	db *gorm.DB
}

func NewChoreRepository(db *gorm.DB) *ChoreRepository {
	return &ChoreRepository{db: db}
}

func (r *ChoreRepository) Create(ctx context.Context, chore *model.Chore) error {
	if err := r.db.WithContext(ctx).Create(chore).Error; err != nil {
		return fmt.Errorf("create chore: %w", err)
	}
	return nil
}

// List returns one page of the owner's chores, newest first, and the total
// number of chores matching the filter.
func (r *ChoreRepository) List(ctx context.Context, userID int64, f ChoreFilter) ([]model.Chore, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Chore{}).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if term := strings.TrimSpace(f.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count chores: %w", err)
	}

	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * f.Limit).Limit(f.Limit)
	}

	var chores []model.Chore
	if err := q.Order("created_at DESC, id DESC").Find(&chores).Error; err != nil {
		return nil, 0, fmt.Errorf("list chores: %w", err)
	}
	return chores, total, nil
}

// ListOpen returns the owner's chores that are not completed.
func (r *ChoreRepository) ListOpen(ctx context.Context, userID int64) ([]model.Chore, error) {
	var chores []model.Chore
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status <> ?", userID, model.StatusCompleted).
		Order("due_date NULLS LAST, created_at DESC").
		Find(&chores).Error; err != nil {
		return nil, fmt.Errorf("list open chores: %w", err)
	}
	return chores, nil
}

func (r *ChoreRepository) FindByID(ctx context.Context, userID, choreID int64) (*model.Chore, error) {
	var chore model.Chore
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, choreID).First(&chore).Error
	switch {
	case err == nil:
		return &chore, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("chore %d: %w", choreID, ErrNotFound)
	default:
		return nil, fmt.Errorf("find chore: %w", err)
	}
}

// Save persists every column of an existing chore. Ownership is part of the
// predicate so a chore can never move between users.
func (r *ChoreRepository) Save(ctx context.Context, chore *model.Chore) error {
	res := r.db.WithContext(ctx).Model(&model.Chore{}).
		Where("id = ? AND user_id = ?", chore.ID, chore.UserID).
		Select("title", "description", "status", "priority", "due_date", "points", "updated_at").
		Updates(chore)
	if res.Error != nil {
		return fmt.Errorf("save chore: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chore %d: %w", chore.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a chore owned by userID.
func (r *ChoreRepository) Delete(ctx context.Context, userID, choreID int64) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, choreID).Delete(&model.Chore{})
	if res.Error != nil {
		return fmt.Errorf("delete chore: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chore %d: %w", choreID, ErrNotFound)
	}
	return nil
}
