package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/db"
)

// FriendshipRepository provides read-only social-graph queries.
// Friendships are stored once per unordered pair (user_a < user_b).
type FriendshipRepository struct {
	db *gorm.DB
}

// NewFriendshipRepository creates a new repository bound to the given DB connection.
func NewFriendshipRepository(database *gorm.DB) *FriendshipRepository {
	return &FriendshipRepository{db: database}
}

// Status returns the friendship status between two users and whether a
// record exists at all.
//
// Example:
//
//	repo.Status(ctx, 7, 3) // same as repo.Status(ctx, 3, 7)
func (r *FriendshipRepository) Status(ctx context.Context, userA, userB uint64) (db.FriendshipStatus, bool, error) {
	a, b := db.CanonicalPair(userA, userB)

	var f db.Friendship
	err := r.db.WithContext(ctx).
		Where("user_a = ? AND user_b = ?", a, b).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return f.Status, true, nil
}

// StatusesWith returns the status of every friendship between userID and any
// of others, keyed by the other user's id.
func (r *FriendshipRepository) StatusesWith(
	ctx context.Context,
	userID uint64,
	others []uint64,
) (map[uint64]db.FriendshipStatus, error) {
	out := make(map[uint64]db.FriendshipStatus, len(others))
	if len(others) == 0 {
		return out, nil
	}

	var rows []db.Friendship
	err := r.db.WithContext(ctx).
		Where("((user_a = ? AND user_b IN ?) OR (user_b = ? AND user_a IN ?))", userID, others, userID, others).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].Other(userID)] = rows[i].Status
	}
	return out, nil
}
