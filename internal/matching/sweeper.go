package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/repository"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	Reembedded int `json:"reembedded"`
	Busy       int `json:"busy"`
	Failed     int `json:"failed"`
	Deferred   int `json:"deferred"`
	Enqueued   int `json:"enqueued"`
}

// Sweeper retries stale embeddings and queues overdue matching runs.
type Sweeper struct {
	stories  *repository.StoryRepository
	matches  *repository.MatchRepository
	cache    *cache.RedisCache
	ingestor *Ingestor
	interval time.Duration
	batch    int
	maxAge   time.Duration
	lockTTL  time.Duration
	backoff  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper wires a Sweeper from shared dependencies.
func NewSweeper(d Deps, ingestor *Ingestor) *Sweeper {
	interval := d.Config.Worker.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		stories:  repository.NewStoryRepository(d.DB),
		matches:  repository.NewMatchRepository(d.DB),
		cache:    d.Cache,
		ingestor: ingestor,
		interval: interval,
		batch:    max(1, d.Config.Worker.SweepBatch),
		maxAge:   d.Config.Match.MaxAge,
		lockTTL:  d.Config.Ingest.LockTTL,
		backoff:  d.Config.Ingest.TerminalBackoff,
		log:      d.logger().With(slog.String("component", "sweeper")),
		now:      d.clock(),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Info("sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-t.C:
			rep, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.log.Warn("sweep failed", slog.Any("err", err))
				continue
			}
			if rep != (SweepReport{}) {
				s.log.Info("sweep complete", slog.Any("report", rep))
			}
		}
	}
}

// SweepOnce does one pass:
//  1. re-ingests up to batch stale stories, plus pending ones whose job
//     outlived the ingest lock (busy users are skipped, terminal failures
//     are held back for the backoff)
//  2. queues users whose last run is older than the max age
//  3. queues owners of invalidated suggestions
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var rep SweepReport

	now := s.now()
	stale, err := s.stories.ListStale(ctx, now, now.Add(-s.lockTTL), s.batch)
	if err != nil {
		return rep, fmt.Errorf("list stale stories: %w", err)
	}
	for _, st := range stale {
		_, err := s.ingestor.Ingest(ctx, Submission{UserID: st.UserID, Text: st.Text, Language: st.Language})
		switch {
		case err == nil:
			rep.Reembedded++
		case errors.Is(err, ErrBusy):
			rep.Busy++
		case isTerminal(err):
			rep.Deferred++
			s.deferRetry(ctx, st.UserID, st.TextHash, err)
		default:
			rep.Failed++
			s.log.Warn("stale re-embed failed", slog.Uint64("user_id", st.UserID), slog.Any("err", err))
		}
	}

	due, err := s.stories.ListDueForMatching(ctx, now.Add(-s.maxAge), s.batch)
	if err != nil {
		return rep, fmt.Errorf("list due users: %w", err)
	}
	owners, err := s.matches.UsersWithInvalidated(ctx, s.batch)
	if err != nil {
		return rep, fmt.Errorf("list invalidated owners: %w", err)
	}
	for _, id := range append(due, owners...) {
		added, err := s.cache.EnqueueRematch(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("enqueue rematch: %w", err)
		}
		if added {
			rep.Enqueued++
		}
	}
	return rep, nil
}

// deferRetry parks a story that cannot succeed as is. Ingest already does
// this for provider failures; rejections before the embed step (deactivated
// or deleted user) land here.
func (s *Sweeper) deferRetry(ctx context.Context, userID uint64, hash string, cause error) {
	at := s.now().Add(s.backoff)
	if err := s.stories.MarkStale(ctx, userID, hash, cause.Error(), &at); err != nil {
		s.log.Warn("failed to defer stale story", slog.Uint64("user_id", userID), slog.Any("err", err))
		return
	}
	s.log.Info("stale story deferred",
		slog.Uint64("user_id", userID),
		slog.Time("retry_after", at),
		slog.Any("err", cause),
	)
}
