package matching

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/storymatch/internal/cache"
)

// Worker consumes the rematch queue and runs matching for each user.
type Worker struct {
	cache       *cache.RedisCache
	lifecycle   *Lifecycle
	concurrency int
	popTimeout  time.Duration
	log         *slog.Logger
}

// NewWorker wires a Worker from shared dependencies.
func NewWorker(d Deps, lifecycle *Lifecycle) *Worker {
	return &Worker{
		cache:       d.Cache,
		lifecycle:   lifecycle,
		concurrency: max(1, d.Config.Worker.Concurrency),
		popTimeout:  d.Config.Worker.PopTimeout,
		log:         d.logger().With(slog.String("component", "worker")),
	}
}

// Run starts the consumer goroutines and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("rematch worker started", slog.Int("concurrency", w.concurrency))
	g, ctx := errgroup.WithContext(ctx)
	for n := 0; n < w.concurrency; n++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
					w.log.Warn("rematch queue read failed", slog.Any("err", err))
					// back off so a Redis outage does not spin
					select {
					case <-ctx.Done():
					case <-time.After(time.Second):
					}
				}
			}
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("rematch worker stopped")
	return err
}

// ProcessOne pops one user and runs matching. It reports whether a user
// was popped. Run errors are logged, not returned: only queue failures
// surface as errors.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	userID, ok, err := w.cache.PopRematch(ctx, w.popTimeout)
	if err != nil || !ok {
		return false, err
	}

	log := w.log.With(slog.Uint64("user_id", userID))
	_, err = w.lifecycle.Run(ctx, userID, 0)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotReady):
		log.Debug("skipping rematch, embedding not ready", slog.Any("err", err))
	case errors.Is(err, ErrBusy):
		log.Debug("skipping rematch, run in progress")
	default:
		log.Warn("rematch failed", slog.Any("err", err))
	}
	return true, nil
}
