package repository

import (
	"context"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/storymatch/internal/db"
)

// StoryRepository provides data access for stories and their embedding state.
type StoryRepository struct {
	db *gorm.DB
}

// NewStoryRepository creates a new repository bound to the given DB connection.
func NewStoryRepository(database *gorm.DB) *StoryRepository {
	return &StoryRepository{db: database}
}

// GetByUser returns the user's story or gorm.ErrRecordNotFound.
func (r *StoryRepository) GetByUser(ctx context.Context, userID uint64) (*db.Story, error) {
	var s db.Story
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveText inserts or replaces the story text for a user and marks the
// embedding pending.
//
// Behavior:
//   - user_id is unique, so a second call overwrites text, language and hash.
//   - Embedding model/dimension are left untouched until MarkCurrent.
func (r *StoryRepository) SaveText(ctx context.Context, userID uint64, text, language, textHash string) (*db.Story, error) {
	s := db.Story{
		UserID:          userID,
		Text:            text,
		Language:        language,
		VectorID:        db.VectorIDFor(userID),
		TextHash:        textHash,
		EmbeddingStatus: db.EmbeddingPending,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"text", "language", "vector_id", "text_hash", "embedding_status", "last_error", "retry_after", "updated_at",
			}),
		}).
		Create(&s).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUser(ctx, userID)
}

// MarkCurrent records a successful embedding for the given text version.
// A newer text (different hash) is never marked current by an older job.
// matched_at is cleared so the story is due for matching again.
func (r *StoryRepository) MarkCurrent(
	ctx context.Context,
	userID uint64,
	textHash, model string,
	dim int,
	at time.Time,
) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Story{}).
		Where("user_id = ? AND text_hash = ?", userID, textHash).
		Updates(map[string]any{
			"embedding_status": db.EmbeddingCurrent,
			"embedding_model":  model,
			"embedding_dim":    dim,
			"embedded_at":      at,
			"matched_at":       nil,
			"last_error":       "",
			"retry_after":      nil,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkStale flags the embedding for the given text version as needing a
// retry. A non-nil retryAfter keeps the sweeper away until that time.
func (r *StoryRepository) MarkStale(ctx context.Context, userID uint64, textHash, reason string, retryAfter *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.Story{}).
		Where("user_id = ? AND text_hash = ?", userID, textHash).
		Updates(map[string]any{
			"embedding_status": db.EmbeddingStale,
			"last_error":       truncate(reason, maxErrorLen),
			"retry_after":      retryAfter,
		}).Error
}

// MarkMatched stamps the time of the user's latest matching run.
func (r *StoryRepository) MarkMatched(ctx context.Context, userID uint64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.Story{}).
		Where("user_id = ?", userID).
		Update("matched_at", at).Error
}

// Delete removes the user's story. Deleting a missing story is not an error.
func (r *StoryRepository) Delete(ctx context.Context, userID uint64) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&db.Story{}).Error
}

// ListStale returns stories whose embedding needs a retry, oldest first.
//
// Behavior:
//   - stale rows are returned once their retry_after (if any) has passed.
//   - pending rows last touched before pendingBefore belong to a job that
//     died or lost its lock, and are returned too.
func (r *StoryRepository) ListStale(ctx context.Context, now, pendingBefore time.Time, limit int) ([]db.Story, error) {
	var stories []db.Story
	err := r.db.WithContext(ctx).
		Where("(embedding_status = ? AND (retry_after IS NULL OR retry_after <= ?)) OR (embedding_status = ? AND updated_at < ?)",
			db.EmbeddingStale, now, db.EmbeddingPending, pendingBefore).
		Order("updated_at ASC, user_id ASC").
		Limit(limit).
		Find(&stories).Error
	return stories, err
}

// ListDueForMatching returns users with a current embedding whose last
// matching run is missing or older than before.
func (r *StoryRepository) ListDueForMatching(ctx context.Context, before time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&db.Story{}).
		Where("embedding_status = ?", db.EmbeddingCurrent).
		Where("(matched_at IS NULL OR matched_at < ?)", before).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

// maxErrorLen matches the size of Story.LastError.
const maxErrorLen = 512

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
