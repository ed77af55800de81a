package matching_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/embedding"
	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/repository"
	"github.com/oggyb/storymatch/internal/upstream"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

func TestWorkerProcessesQueuedUser(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1, 2)
	h.ingest(t, 1, "hiking")
	h.ingest(t, 2, "hiking trips")
	ctx := context.Background()

	// ingestion queued both users, oldest first
	ok, err := h.pipeline.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	m := h.match(t, 1, 2)
	assert.Equal(t, db.MatchSuggested, m.Status)
	assert.NotNil(t, h.story(t, 1).MatchedAt)

	ok, err = h.pipeline.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, db.MatchSuggested, h.match(t, 2, 1).Status)
}

func TestWorkerSkipsUsersWithoutEmbedding(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)
	ctx := context.Background()

	_, err := h.cache.EnqueueRematch(ctx, 1)
	require.NoError(t, err)

	ok, err := h.pipeline.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.pipeline.Worker.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSweepReembedsStaleAndQueuesDue(t *testing.T) {
	h := newHarness(t, false)
	h.addUsers(t, 1, 2)
	ctx := context.Background()

	h.embedder.On("Embed", mock.Anything, "photography", mock.Anything).
		Return(embedding.Result{}, upstream.Retryable(errors.New("timeout"))).Once()
	h.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).Return(keywordVector, nil)

	h.ingest(t, 1, "hiking")
	_, err := h.pipeline.Ingestor.Ingest(ctx, matching.Submission{UserID: 2, Text: "photography"})
	require.Error(t, err)
	require.Equal(t, db.EmbeddingStale, h.story(t, 2).EmbeddingStatus)

	// drain what ingestion queued so the sweep's enqueues are visible
	for {
		_, ok, err := h.cache.PopRematch(ctx, time.Second)
		require.NoError(t, err)
		if !ok {
			break
		}
	}

	rep, err := h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reembedded)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, db.EmbeddingCurrent, h.story(t, 2).EmbeddingStatus)

	// user 2 was queued by its re-ingestion, user 1 is due (never matched)
	assert.Equal(t, 1, rep.Enqueued)
	backlog, err := h.cache.RematchBacklog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), backlog)
}

func TestSweepSkipsBusyUsers(t *testing.T) {
	h := newHarness(t, false)
	h.addUsers(t, 1)
	ctx := context.Background()
	h.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(embedding.Result{}, upstream.Retryable(errors.New("503"))).Once()

	_, err := h.pipeline.Ingestor.Ingest(ctx, matching.Submission{UserID: 1, Text: "hiking"})
	require.Error(t, err)

	lock, err := h.cache.AcquireLock(ctx, h.cache.KeyForIngestLock(1), time.Minute)
	require.NoError(t, err)
	defer func() { _ = h.cache.ReleaseLock(ctx, lock) }()

	rep, err := h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Busy)
	assert.Zero(t, rep.Reembedded)
}

func TestSweepRecoversAbandonedPendingStory(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1, 2)
	ctx := context.Background()
	stories := repository.NewStoryRepository(h.db)

	// a job that saved the text and then died
	_, err := stories.SaveText(ctx, 1, "hiking", "en", db.StoryTextHash("hiking"))
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&db.Story{}).Where("user_id = ?", 1).
		UpdateColumn("updated_at", testNow.Add(-time.Hour)).Error)

	// one that may still be running
	_, err = stories.SaveText(ctx, 2, "music", "en", db.StoryTextHash("music"))
	require.NoError(t, err)

	rep, err := h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reembedded)
	assert.Equal(t, db.EmbeddingCurrent, h.story(t, 1).EmbeddingStatus)
	assert.Equal(t, db.EmbeddingPending, h.story(t, 2).EmbeddingStatus)

	_, ok, err := h.index.Fetch(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

// lingeringIndex stores the vector and then holds the call until the
// caller's deadline passes.
type lingeringIndex struct {
	*vectorindex.Memory
}

func (l lingeringIndex) Upsert(ctx context.Context, id string, values []float32, md vectorindex.Metadata) error {
	if err := l.Memory.Upsert(ctx, id, values, md); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func TestIngestTimingOutAfterUpsertIsSwept(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)
	ctx := context.Background()

	h.cfg.Ingest.LockTTL = 300 * time.Millisecond
	slow := h.withIndex(lingeringIndex{h.index})

	_, err := slow.Ingestor.Ingest(ctx, matching.Submission{UserID: 1, Text: "hiking"})
	require.Error(t, err)
	s := h.story(t, 1)
	assert.Equal(t, db.EmbeddingStale, s.EmbeddingStatus)
	assert.Nil(t, s.RetryAfter)

	rep, err := h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reembedded)
	assert.Equal(t, db.EmbeddingCurrent, h.story(t, 1).EmbeddingStatus)
}

func TestSweepHoldsBackTerminalFailures(t *testing.T) {
	h := newHarness(t, false)
	h.addUsers(t, 1, 2)
	ctx := context.Background()

	h.embedder.On("Embed", mock.Anything, "hiking", mock.Anything).
		Return(embedding.Result{}, upstream.Terminal(errors.New("401 invalid api key"))).Once()
	h.embedder.On("Embed", mock.Anything, "music", mock.Anything).
		Return(embedding.Result{}, upstream.Retryable(errors.New("503"))).Once()
	h.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).Return(keywordVector, nil)

	_, err := h.pipeline.Ingestor.Ingest(ctx, matching.Submission{UserID: 1, Text: "hiking"})
	require.Error(t, err)
	s := h.story(t, 1)
	require.NotNil(t, s.RetryAfter)
	assert.True(t, s.RetryAfter.Equal(testNow.Add(h.cfg.Ingest.TerminalBackoff)))

	_, err = h.pipeline.Ingestor.Ingest(ctx, matching.Submission{UserID: 2, Text: "music"})
	require.Error(t, err)
	// user 2 was deactivated after the transient failure
	require.NoError(t, h.db.Model(&db.User{}).Where("id = ?", 2).Update("active", false).Error)

	rep, err := h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Reembedded)
	assert.Equal(t, 1, rep.Deferred)
	assert.NotNil(t, h.story(t, 2).RetryAfter)

	// nothing is due until the backoff passes
	rep, err = h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, matching.SweepReport{}, rep)

	require.NoError(t, h.db.Model(&db.Story{}).Where("user_id = ?", 1).
		UpdateColumn("retry_after", testNow.Add(-time.Minute)).Error)
	rep, err = h.pipeline.Sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reembedded)
	assert.Equal(t, db.EmbeddingCurrent, h.story(t, 1).EmbeddingStatus)
	assert.Nil(t, h.story(t, 1).RetryAfter)
}
