package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chore-tracker/internal/model"
)

// ErrConflict is returned when a unique column already holds the value.
var ErrConflict = errors.New("already exists")

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user; a taken username yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	db := r.db.WithContext(ctx)
	var count int64
	if err := db.Model(&model.User{}).Where("username = ?", user.Username).Count(&count).Error; err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("user %q: %w", user.Username, ErrConflict)
	}
	if err := db.Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *UserRepository) FindByToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx, "token = ?", token)
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	switch {
	case err == nil:
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}
