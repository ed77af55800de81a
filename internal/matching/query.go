package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/repository"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

// Candidate is a raw nearest-neighbour hit before filtering.
type Candidate struct {
	UserID uint64
	Score  float64
	// EmbeddedAt is when the candidate's vector was written; zero if unknown.
	EmbeddedAt time.Time
}

// QueryEngine turns a user's stored vector into raw candidates.
type QueryEngine struct {
	stories    *repository.StoryRepository
	index      vectorindex.Index
	embedder   Embedder
	marginMin  int
	marginRate float64
	log        *slog.Logger
}

// NewQueryEngine wires a QueryEngine from shared dependencies.
func NewQueryEngine(d Deps) *QueryEngine {
	return &QueryEngine{
		stories:    repository.NewStoryRepository(d.DB),
		index:      d.Index,
		embedder:   d.Embedder,
		marginMin:  d.Config.Match.QueryMarginMin,
		marginRate: d.Config.Match.QueryMarginRate,
		log:        d.logger().With(slog.String("component", "query")),
	}
}

// QuerySize returns how many neighbours to fetch for topK so filtering
// losses still leave topK results. Capped at vectorindex.MaxTopK.
func QuerySize(topK, marginMin int, marginRate float64) int {
	margin := max(marginMin, int(math.Ceil(float64(topK)*marginRate)))
	return min(topK+max(margin, 0), vectorindex.MaxTopK)
}

// FindCandidates returns the user's nearest neighbours in index order.
// The user itself may be among them; the ranker removes it.
//
// Errors:
//   - ErrInvalidArgument when topK is outside [1, vectorindex.MaxTopK]
//   - ErrNotReady when the user has no story, no current embedding, or
//     no vector in the index
func (q *QueryEngine) FindCandidates(ctx context.Context, userID uint64, topK int) ([]Candidate, error) {
	_, raw, err := q.find(ctx, userID, topK)
	return raw, err
}

func (q *QueryEngine) find(ctx context.Context, userID uint64, topK int) (*db.Story, []Candidate, error) {
	if err := vectorindex.ValidateTopK(topK); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	story, err := q.stories.GetByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("user %d has no story: %w", userID, ErrNotReady)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load story: %w", err)
	}
	model := q.embedder.Model()
	if story.EmbeddingStatus != db.EmbeddingCurrent || story.EmbeddingModel != model {
		return nil, nil, fmt.Errorf("user %d story is %s (model %q): %w",
			userID, story.EmbeddingStatus, story.EmbeddingModel, ErrNotReady)
	}

	vec, found, err := q.index.Fetch(ctx, story.VectorID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch vector %s: %w", story.VectorID, err)
	}
	if !found {
		return nil, nil, fmt.Errorf("vector %s missing from index: %w", story.VectorID, ErrNotReady)
	}

	size := QuerySize(topK, q.marginMin, q.marginRate)
	filter := vectorindex.Filter{}.Eq("model", model)
	neighbors, err := q.index.Query(ctx, vec.Values, size, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("query neighbours: %w", err)
	}

	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		id, ok := candidateUserID(n)
		if !ok {
			q.log.Warn("skipping neighbour with unparsable id",
				slog.String("vector_id", n.VectorID),
				slog.Uint64("user_id", userID),
			)
			continue
		}
		c := Candidate{UserID: id, Score: float64(n.Score)}
		if s, ok := n.Metadata["createdAt"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				c.EmbeddedAt = t
			}
		}
		out = append(out, c)
	}
	q.log.Debug("candidates fetched",
		slog.Uint64("user_id", userID),
		slog.Int("requested", size),
		slog.Int("returned", len(out)),
	)
	return story, out, nil
}

// candidateUserID reads metadata userId, falling back to the "user:<id>" key.
func candidateUserID(n vectorindex.Neighbor) (uint64, bool) {
	switch v := n.Metadata["userId"].(type) {
	case string:
		if id, err := strconv.ParseUint(v, 10, 64); err == nil && id != 0 {
			return id, true
		}
	case float64:
		if v > 0 && v == math.Trunc(v) {
			return uint64(v), true
		}
	}
	rest, ok := strings.CutPrefix(n.VectorID, "user:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
