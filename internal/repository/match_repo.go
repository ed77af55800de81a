package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/utils/pagination"
)

// MatchRepository provides data access methods for the Match model.
// Every write is keyed by the natural (user_id, candidate_user_id) pair so
// retries and concurrent runs converge instead of accumulating rows.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// ApplyRun persists the outcome of one matching run for userID.
//
// Behavior:
//   - Each entry in suggested refreshes its row (score, source,
//     generation, invalidated=false) or is inserted as a new suggested row.
//     Rows hidden as ineligible or superseded become suggested again;
//     dismissed rows are left alone.
//   - Every candidate in hide that is still suggested moves to hidden with
//     the given reason.
//   - Runs in one transaction.
func (r *MatchRepository) ApplyRun(
	ctx context.Context,
	userID uint64,
	suggested []db.Match,
	hide map[uint64]db.HiddenReason,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range suggested {
			m := suggested[i]
			m.UserID = userID
			m.Status = db.MatchSuggested
			m.HiddenReason = db.HiddenNone

			res := tx.Model(&db.Match{}).
				Where("user_id = ? AND candidate_user_id = ?", userID, m.CandidateUserID).
				Where("(status = ? OR hidden_reason <> ?)", db.MatchSuggested, db.HiddenDismissed).
				Updates(map[string]any{
					"status":        db.MatchSuggested,
					"hidden_reason": db.HiddenNone,
					"score":         m.Score,
					"source":        m.Source,
					"generation":    m.Generation,
					"invalidated":   false,
					"updated_at":    time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
				return err
			}
		}

		byReason := make(map[db.HiddenReason][]uint64)
		for candidateID, reason := range hide {
			byReason[reason] = append(byReason[reason], candidateID)
		}
		for reason, ids := range byReason {
			err := tx.Model(&db.Match{}).
				Where("user_id = ? AND candidate_user_id IN ? AND status = ?", userID, ids, db.MatchSuggested).
				Updates(map[string]any{"status": db.MatchHidden, "hidden_reason": reason}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Dismiss hides the pair with reason "dismissed", creating the row when the
// pair was never suggested so future runs still exclude it.
func (r *MatchRepository) Dismiss(ctx context.Context, userID, candidateID uint64) error {
	m := db.Match{
		UserID:          userID,
		CandidateUserID: candidateID,
		Status:          db.MatchHidden,
		HiddenReason:    db.HiddenDismissed,
		Source:          "user:dismiss",
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "candidate_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "hidden_reason", "updated_at"}),
		}).
		Create(&m).Error
}

// ResetDismissals deletes the user's dismissed rows and reports how many.
func (r *MatchRepository) ResetDismissals(ctx context.Context, userID uint64) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND hidden_reason = ?", userID, db.MatchHidden, db.HiddenDismissed).
		Delete(&db.Match{})
	return res.RowsAffected, res.Error
}

// Get returns the row for a pair or gorm.ErrRecordNotFound.
func (r *MatchRepository) Get(ctx context.Context, userID, candidateID uint64) (*db.Match, error) {
	var m db.Match
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND candidate_user_id = ?", userID, candidateID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DismissedCandidates returns the set of candidates the user dismissed.
func (r *MatchRepository) DismissedCandidates(ctx context.Context, userID uint64) (map[uint64]struct{}, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("user_id = ? AND status = ? AND hidden_reason = ?", userID, db.MatchHidden, db.HiddenDismissed).
		Pluck("candidate_user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// SuggestedCandidates returns the candidate ids currently suggested to userID.
func (r *MatchRepository) SuggestedCandidates(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("user_id = ? AND status = ?", userID, db.MatchSuggested).
		Order("candidate_user_id ASC").
		Pluck("candidate_user_id", &ids).Error
	return ids, err
}

// ListSuggested returns the user's active suggestions.
//
// Behavior:
//   - Only status = suggested and invalidated = false rows.
//   - Ordered by score DESC, candidate_user_id ASC.
//   - Cursor-based pagination via paginationToken.
func (r *MatchRepository) ListSuggested(
	ctx context.Context,
	userID uint64,
	paginationToken *string,
	limit int,
) ([]db.Match, *string, error) {
	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND invalidated = ?", userID, db.MatchSuggested, false).
		Order("score DESC, candidate_user_id ASC").
		Limit(limit + 1)

	if !cursor.IsZero() {
		query = query.Where(
			"(score < ? OR (score = ? AND candidate_user_id > ?))",
			cursor.Score, cursor.Score, cursor.CandidateID,
		)
	}

	var matches []db.Match
	if err := query.Find(&matches).Error; err != nil {
		return nil, nil, err
	}

	var nextToken *string
	if len(matches) > limit {
		last := matches[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			CandidateID: last.CandidateUserID,
			Score:       last.Score,
		})
		nextToken = &token
		matches = matches[:limit]
	}
	return matches, nextToken, nil
}

// HidePair hides suggested rows between two users in both directions.
func (r *MatchRepository) HidePair(ctx context.Context, userA, userB uint64, reason db.HiddenReason) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("status = ?", db.MatchSuggested).
		Where("((user_id = ? AND candidate_user_id = ?) OR (user_id = ? AND candidate_user_id = ?))", userA, userB, userB, userA).
		Updates(map[string]any{"status": db.MatchHidden, "hidden_reason": reason})
	return res.RowsAffected, res.Error
}

// HideForUser hides every suggested row owned by or pointing at userID.
func (r *MatchRepository) HideForUser(ctx context.Context, userID uint64, reason db.HiddenReason) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("status = ?", db.MatchSuggested).
		Where("(user_id = ? OR candidate_user_id = ?)", userID, userID).
		Updates(map[string]any{"status": db.MatchHidden, "hidden_reason": reason})
	return res.RowsAffected, res.Error
}

// HideWhereCandidate hides suggested rows that point at candidateID.
func (r *MatchRepository) HideWhereCandidate(ctx context.Context, candidateID uint64, reason db.HiddenReason) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("candidate_user_id = ? AND status = ?", candidateID, db.MatchSuggested).
		Updates(map[string]any{"status": db.MatchHidden, "hidden_reason": reason})
	return res.RowsAffected, res.Error
}

// InvalidateWhereCandidate flags suggested rows pointing at candidateID whose
// candidate story changed. Owners resolve them on their next run.
func (r *MatchRepository) InvalidateWhereCandidate(ctx context.Context, candidateID uint64) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("candidate_user_id = ? AND status = ? AND invalidated = ?", candidateID, db.MatchSuggested, false).
		Update("invalidated", true)
	return res.RowsAffected, res.Error
}

// UsersWithInvalidated returns owners of invalidated suggested rows.
func (r *MatchRepository) UsersWithInvalidated(ctx context.Context, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Distinct().
		Where("status = ? AND invalidated = ?", db.MatchSuggested, true).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
