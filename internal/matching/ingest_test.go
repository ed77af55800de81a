package matching_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/embedding"
	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/upstream"
)

func TestIngestEmbedsAndUpserts(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)

	res := h.ingest(t, 1, "  I love hiking and photography\r\n")
	assert.Equal(t, "user:1", res.VectorID)
	assert.Equal(t, testModel, res.Model)
	assert.Equal(t, 4, res.Dimension)
	assert.False(t, res.Unchanged)
	assert.True(t, res.Enqueued)

	v, ok, err := h.index.Fetch(context.Background(), "user:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v.Metadata["userId"])
	assert.Equal(t, testModel, v.Metadata["model"])
	assert.Equal(t, "en", v.Metadata["language"])

	s := h.story(t, 1)
	assert.Equal(t, "I love hiking and photography", s.Text)
	assert.Equal(t, db.EmbeddingCurrent, s.EmbeddingStatus)
	assert.Equal(t, db.StoryTextHash(s.Text), s.TextHash)
	assert.NotNil(t, s.EmbeddedAt)
	h.embedder.AssertCalled(t, "Embed", mock.Anything, "I love hiking and photography", "en")
}

func TestIngestTwiceWithSameTextIsIdempotent(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)

	first := h.ingest(t, 1, "I love hiking")
	second := h.ingest(t, 1, "I love hiking")

	assert.True(t, second.Unchanged)
	assert.Equal(t, first.StoryID, second.StoryID)
	assert.Equal(t, 1, h.index.Len())
	assert.Equal(t, 1, h.index.Upserts())
	h.embedder.AssertNumberOfCalls(t, "Embed", 1)

	var count int64
	h.db.Model(&db.Story{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestIngestNewTextReplacesVector(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)

	h.ingest(t, 1, "hiking")
	h.ingest(t, 1, "cooking")

	assert.Equal(t, 1, h.index.Len())
	v, _, err := h.index.Fetch(context.Background(), "user:1")
	require.NoError(t, err)
	assert.Equal(t, keywordVector("cooking").Vector, v.Values)
	assert.Equal(t, "cooking", h.story(t, 1).Text)
}

func TestIngestValidationPersistsNothing(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)
	ing := h.pipeline.Ingestor
	ctx := context.Background()

	_, err := ing.Ingest(ctx, matching.Submission{UserID: 1, Text: "  \r\n "})
	assert.ErrorIs(t, err, matching.ErrInvalidArgument)

	_, err = ing.Ingest(ctx, matching.Submission{UserID: 1, Text: "hi", Language: "not a tag!"})
	assert.ErrorIs(t, err, matching.ErrInvalidArgument)

	_, err = ing.Ingest(ctx, matching.Submission{UserID: 0, Text: "hi"})
	assert.ErrorIs(t, err, matching.ErrInvalidArgument)

	_, err = ing.Ingest(ctx, matching.Submission{UserID: 99, Text: "hi"})
	assert.ErrorIs(t, err, matching.ErrUserNotFound)

	var count int64
	h.db.Model(&db.Story{}).Count(&count)
	assert.Zero(t, count)
	assert.Zero(t, h.index.Len())
	h.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestRejectsDeactivatedUser(t *testing.T) {
	h := newHarness(t, true)
	h.addUsers(t, 1)
	require.NoError(t, h.db.Model(&db.User{}).Where("id = ?", 1).Update("active", false).Error)

	_, err := h.pipeline.Ingestor.Ingest(context.Background(), matching.Submission{UserID: 1, Text: "hiking"})
	assert.ErrorIs(t, err, matching.ErrInvalidArgument)
}

func TestConcurrentIngestOneUpsertOneBusy(t *testing.T) {
	h := newHarness(t, false)
	h.addUsers(t, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(keywordVector, nil).
		Once()

	type outcome struct {
		res matching.IngestResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.pipeline.Ingestor.Ingest(context.Background(), matching.Submission{UserID: 1, Text: "hiking"})
		done <- outcome{res, err}
	}()

	<-entered
	_, err := h.pipeline.Ingestor.Ingest(context.Background(), matching.Submission{UserID: 1, Text: "photography"})
	assert.ErrorIs(t, err, matching.ErrBusy)

	close(release)
	first := <-done
	require.NoError(t, first.err)

	assert.Equal(t, 1, h.index.Upserts())
	assert.Equal(t, "hiking", h.story(t, 1).Text)
	h.embedder.AssertNumberOfCalls(t, "Embed", 1)
}

func TestIngestFailureKeepsTextAndMarksStale(t *testing.T) {
	h := newHarness(t, false)
	h.addUsers(t, 1)
	errProvider := errors.New("503 from provider")
	h.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(embedding.Result{}, upstream.Retryable(errProvider)).Once()
	h.embedder.On("Embed", mock.Anything, mock.Anything, mock.Anything).
		Return(keywordVector, nil)

	_, err := h.pipeline.Ingestor.Ingest(context.Background(), matching.Submission{UserID: 1, Text: "hiking"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errProvider)

	s := h.story(t, 1)
	assert.Equal(t, "hiking", s.Text)
	assert.Equal(t, db.EmbeddingStale, s.EmbeddingStatus)
	assert.Contains(t, s.LastError, "503")
	assert.Zero(t, h.index.Len())

	// lock was released, the retry goes through
	res := h.ingest(t, 1, "hiking")
	assert.False(t, res.Unchanged)
	assert.Equal(t, db.EmbeddingCurrent, h.story(t, 1).EmbeddingStatus)
}

func TestIngestDimensionMismatchNeverReachesIndex(t *testing.T) {
	h := newHarness(t, false)
	h.addUsers(t, 1, 2)
	h.embedder.On("Embed", mock.Anything, "hiking", mock.Anything).Return(keywordVector, nil)
	h.embedder.On("Embed", mock.Anything, "short", mock.Anything).
		Return(embedding.Result{Vector: []float32{1, 2}, Dimension: 2, Model: testModel}, nil)

	h.ingest(t, 1, "hiking")
	_, err := h.pipeline.Ingestor.Ingest(context.Background(), matching.Submission{UserID: 2, Text: "short"})
	require.Error(t, err)
	assert.Equal(t, 1, h.index.Len())
	assert.Equal(t, db.EmbeddingStale, h.story(t, 2).EmbeddingStatus)
}

func TestDeleteStoryRemovesVectorAndHidesMatches(t *testing.T) {
	h := newHarness(t, true)
	seedScenario(t, h)
	ctx := context.Background()

	_, err := h.pipeline.Lifecycle.Run(ctx, 1, 10)
	require.NoError(t, err)
	_, err = h.pipeline.Lifecycle.Run(ctx, 7, 10)
	require.NoError(t, err)

	hidden, err := h.pipeline.Ingestor.DeleteStory(ctx, 7)
	require.NoError(t, err)
	assert.Positive(t, hidden)

	_, ok, err := h.index.Fetch(ctx, "user:7")
	require.NoError(t, err)
	assert.False(t, ok)

	m := h.match(t, 1, 7)
	assert.Equal(t, db.MatchHidden, m.Status)
	assert.Equal(t, db.HiddenIneligible, m.HiddenReason)

	_, err = h.pipeline.Query.FindCandidates(ctx, 7, 10)
	assert.ErrorIs(t, err, matching.ErrNotReady)

	// second delete is a no-op
	_, err = h.pipeline.Ingestor.DeleteStory(ctx, 7)
	require.NoError(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\nb\nc", matching.NormalizeText(" a\r\nb\rc \n"))

	lang, err := matching.NormalizeLanguage("")
	require.NoError(t, err)
	assert.Equal(t, "en", lang)

	lang, err = matching.NormalizeLanguage(" pt_BR ")
	require.NoError(t, err)
	assert.Equal(t, "pt-br", lang)

	_, err = matching.NormalizeLanguage("english please")
	assert.ErrorIs(t, err, matching.ErrInvalidArgument)
}
