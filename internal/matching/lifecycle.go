package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/repository"
	"github.com/oggyb/storymatch/internal/utils/pagination"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RunResult describes one matching run.
type RunResult struct {
	UserID     uint64
	Generation string
	Source     string
	Suggested  []Ranked
	Hidden     map[uint64]db.HiddenReason
	Stats      RankStats
}

// Lifecycle persists ranked candidates and applies status transitions.
type Lifecycle struct {
	users       *repository.UserRepository
	stories     *repository.StoryRepository
	matches     *repository.MatchRepository
	friendships *repository.FriendshipRepository
	cache       *cache.RedisCache
	query       *QueryEngine
	adjust      ScoreAdjuster
	runTimeout  time.Duration
	defaultTopK int
	log         *slog.Logger
	now         func() time.Time
}

// NewLifecycle wires a Lifecycle from shared dependencies. adjust may be
// nil for raw similarity ordering.
func NewLifecycle(d Deps, query *QueryEngine, adjust ScoreAdjuster) *Lifecycle {
	return &Lifecycle{
		users:       repository.NewUserRepository(d.DB),
		stories:     repository.NewStoryRepository(d.DB),
		matches:     repository.NewMatchRepository(d.DB),
		friendships: repository.NewFriendshipRepository(d.DB),
		cache:       d.Cache,
		query:       query,
		adjust:      adjust,
		runTimeout:  d.Config.Match.RunTimeout,
		defaultTopK: d.Config.Match.DefaultTopK,
		log:         d.logger().With(slog.String("component", "lifecycle")),
		now:         d.clock(),
	}
}

// DefaultTopK is used when a caller passes topK = 0.
func (l *Lifecycle) DefaultTopK() int { return l.defaultTopK }

// Run recomputes the user's suggestions.
//
// Behavior:
//   - Ranked candidates refresh their row or get a new one. A pair hidden
//     as ineligible or superseded is suggested again; dismissed pairs never
//     reach the ranked set.
//   - Suggested rows missing from the ranked set become hidden: ineligible
//     when the graph now excludes the candidate, superseded otherwise.
//   - Concurrent runs for the same user fail with ErrBusy.
func (l *Lifecycle) Run(ctx context.Context, userID uint64, topK int) (RunResult, error) {
	if topK == 0 {
		topK = l.defaultTopK
	}
	res := RunResult{UserID: userID}
	log := l.log.With(slog.Uint64("user_id", userID), slog.String("op", "run"))

	lock, err := l.cache.AcquireLock(ctx, l.cache.KeyForMatchLock(userID), l.runTimeout)
	if errors.Is(err, cache.ErrLockHeld) {
		return res, fmt.Errorf("match user %d: %w", userID, ErrBusy)
	}
	if err != nil {
		return res, fmt.Errorf("acquire match lock: %w", err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.cache.ReleaseLock(relCtx, lock); err != nil {
			log.Warn("failed to release lock", slog.Any("err", err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.runTimeout)
	defer cancel()

	story, raw, err := l.query.find(ctx, userID, topK)
	if err != nil {
		return res, err
	}
	res.Generation = story.TextHash
	res.Source = l.query.index.Name() + ":query"

	existing, err := l.matches.SuggestedCandidates(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("load suggestions: %w", err)
	}
	graph, err := l.loadGraph(ctx, userID, raw, existing)
	if err != nil {
		return res, err
	}

	ranked, stats := Rank(userID, raw, graph, l.adjust, topK)
	res.Suggested, res.Stats = ranked, stats

	keep := make(map[uint64]struct{}, len(ranked))
	rows := make([]db.Match, 0, len(ranked))
	for _, r := range ranked {
		keep[r.UserID] = struct{}{}
		rows = append(rows, db.Match{
			CandidateUserID: r.UserID,
			Score:           r.Score,
			Source:          res.Source,
			Generation:      res.Generation,
		})
	}
	res.Hidden = make(map[uint64]db.HiddenReason)
	for _, id := range existing {
		if _, ok := keep[id]; ok {
			continue
		}
		if graph.Exclude(userID, id) != Eligible {
			res.Hidden[id] = db.HiddenIneligible
		} else {
			res.Hidden[id] = db.HiddenSuperseded
		}
	}

	if err := l.matches.ApplyRun(ctx, userID, rows, res.Hidden); err != nil {
		return res, fmt.Errorf("persist matches: %w", err)
	}
	if err := l.stories.MarkMatched(ctx, userID, l.now()); err != nil {
		return res, fmt.Errorf("mark matched: %w", err)
	}

	log.Info("matching run complete",
		slog.Int("suggested", len(ranked)),
		slog.Int("hidden", len(res.Hidden)),
		slog.Any("stats", stats),
	)
	return res, nil
}

func (l *Lifecycle) loadGraph(ctx context.Context, userID uint64, raw []Candidate, existing []uint64) (Graph, error) {
	seen := make(map[uint64]struct{}, len(raw)+len(existing))
	ids := make([]uint64, 0, len(raw)+len(existing))
	for _, c := range raw {
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			ids = append(ids, c.UserID)
		}
	}
	for _, id := range existing {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	var g Graph
	var err error
	if g.Flags, err = l.users.FlagsFor(ctx, ids); err != nil {
		return g, fmt.Errorf("load user flags: %w", err)
	}
	if g.Friendships, err = l.friendships.StatusesWith(ctx, userID, ids); err != nil {
		return g, fmt.Errorf("load friendships: %w", err)
	}
	if g.Dismissed, err = l.matches.DismissedCandidates(ctx, userID); err != nil {
		return g, fmt.Errorf("load dismissals: %w", err)
	}
	return g, nil
}

// Dismiss hides a suggestion; later runs skip the pair until
// ResetDismissals.
func (l *Lifecycle) Dismiss(ctx context.Context, userID, candidateID uint64) error {
	if userID == 0 || candidateID == 0 {
		return fmt.Errorf("%w: user and candidate ids are required", ErrInvalidArgument)
	}
	if userID == candidateID {
		return fmt.Errorf("%w: cannot dismiss yourself", ErrInvalidArgument)
	}
	if err := l.matches.Dismiss(ctx, userID, candidateID); err != nil {
		return fmt.Errorf("dismiss match: %w", err)
	}
	l.log.Info("match dismissed",
		slog.Uint64("user_id", userID),
		slog.Uint64("candidate_user_id", candidateID),
	)
	return nil
}

// ResetDismissals forgets the user's dismissals and queues a run so the
// candidates can come back.
func (l *Lifecycle) ResetDismissals(ctx context.Context, userID uint64) (int64, error) {
	if userID == 0 {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	n, err := l.matches.ResetDismissals(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("reset dismissals: %w", err)
	}
	if n > 0 {
		l.enqueue(ctx, userID)
	}
	return n, nil
}

// List pages through the user's active suggestions, best first.
func (l *Lifecycle) List(ctx context.Context, userID uint64, pageToken *string, limit int) ([]db.Match, *string, error) {
	if userID == 0 {
		return nil, nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	matches, next, err := l.matches.ListSuggested(ctx, userID, pageToken, limit)
	if errors.Is(err, pagination.ErrInvalidToken) {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list matches: %w", err)
	}
	return matches, next, nil
}

// OnFriendshipChanged reacts to a friendship update between a and b.
// Accepted or blocked pairs are hidden in both directions. Any other state
// (pending, removed) may make the pair eligible again, so both users are
// queued for a run.
func (l *Lifecycle) OnFriendshipChanged(ctx context.Context, a, b uint64) (int64, error) {
	if a == 0 || b == 0 || a == b {
		return 0, fmt.Errorf("%w: two distinct user ids are required", ErrInvalidArgument)
	}
	st, _, err := l.friendships.Status(ctx, a, b)
	if err != nil {
		return 0, fmt.Errorf("load friendship: %w", err)
	}
	if st == db.FriendshipAccepted || st == db.FriendshipBlocked {
		n, err := l.matches.HidePair(ctx, a, b, db.HiddenIneligible)
		if err != nil {
			return 0, fmt.Errorf("hide pair: %w", err)
		}
		l.log.Info("pair hidden after friendship change",
			slog.Uint64("user_a", a),
			slog.Uint64("user_b", b),
			slog.String("status", string(st)),
			slog.Int64("hidden", n),
		)
		return n, nil
	}
	l.enqueue(ctx, a)
	l.enqueue(ctx, b)
	return 0, nil
}

// OnUserBlocked hides suggestions pointing at a moderated user. An
// unblocked, active user is left alone; the next runs pick them up.
func (l *Lifecycle) OnUserBlocked(ctx context.Context, userID uint64) (int64, error) {
	u, err := l.users.GetUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	if !u.Blocked && u.Active {
		return 0, nil
	}
	n, err := l.matches.HideWhereCandidate(ctx, userID, db.HiddenIneligible)
	if err != nil {
		return 0, fmt.Errorf("hide matches: %w", err)
	}
	l.log.Info("suggestions hidden for moderated user",
		slog.Uint64("user_id", userID),
		slog.Int64("hidden", n),
	)
	return n, nil
}

func (l *Lifecycle) enqueue(ctx context.Context, userID uint64) {
	if _, err := l.cache.EnqueueRematch(ctx, userID); err != nil {
		l.log.Warn("failed to enqueue rematch", slog.Uint64("user_id", userID), slog.Any("err", err))
	}
}
