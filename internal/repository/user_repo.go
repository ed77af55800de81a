package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/db"
)

// UserFlags is the moderation view of a user the ranker needs.
type UserFlags struct {
	Blocked bool
	Active  bool
}

// UserRepository reads users. The matching pipeline never writes them.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// GetUser returns the user or gorm.ErrRecordNotFound.
func (r *UserRepository) GetUser(ctx context.Context, userID uint64) (*db.User, error) {
	var u db.User
	if err := r.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FlagsFor returns moderation flags keyed by user id.
// Ids with no user row are absent from the map.
func (r *UserRepository) FlagsFor(ctx context.Context, userIDs []uint64) (map[uint64]UserFlags, error) {
	out := make(map[uint64]UserFlags, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ID      uint64
		Blocked bool
		Active  bool
	}
	err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Select("id, blocked, active").
		Where("id IN ?", userIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = UserFlags{Blocked: row.Blocked, Active: row.Active}
	}
	return out, nil
}
