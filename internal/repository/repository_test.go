package repository_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/repository"
)

// setup in-memory DB, isolated per test
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(database))
	return database
}

func TestStorySaveTextOverwrites(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewStoryRepository(dbase)

	s1, err := repo.SaveText(ctx, 1, "first", "en", db.StoryTextHash("first"))
	require.NoError(t, err)
	assert.Equal(t, "user:1", s1.VectorID)
	assert.Equal(t, db.EmbeddingPending, s1.EmbeddingStatus)

	s2, err := repo.SaveText(ctx, 1, "second", "fr", db.StoryTextHash("second"))
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, "second", s2.Text)
	assert.Equal(t, "fr", s2.Language)

	var count int64
	dbase.Model(&db.Story{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestStoryMarkCurrentGuardsTextVersion(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewStoryRepository(dbase)

	_, err := repo.SaveText(ctx, 1, "new text", "en", db.StoryTextHash("new text"))
	require.NoError(t, err)

	// an older job finishing late must not mark the newer text current
	ok, err := repo.MarkCurrent(ctx, 1, db.StoryTextHash("old text"), "m", 3, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkCurrent(ctx, 1, db.StoryTextHash("new text"), "m", 3, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := repo.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, db.EmbeddingCurrent, s.EmbeddingStatus)
	assert.Equal(t, 3, s.EmbeddingDim)
	assert.NotNil(t, s.EmbeddedAt)
}

func TestStoryListStaleAndDue(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewStoryRepository(dbase)

	for _, id := range []uint64{1, 2, 3} {
		text := fmt.Sprintf("story %d", id)
		_, err := repo.SaveText(ctx, id, text, "en", db.StoryTextHash(text))
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkStale(ctx, 1, db.StoryTextHash("story 1"), "timeout", nil))
	_, err := repo.MarkCurrent(ctx, 2, db.StoryTextHash("story 2"), "m", 3, time.Now())
	require.NoError(t, err)
	_, err = repo.MarkCurrent(ctx, 3, db.StoryTextHash("story 3"), "m", 3, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.MarkMatched(ctx, 3, time.Now()))

	stale, err := repo.ListStale(ctx, time.Now(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, uint64(1), stale[0].UserID)
	assert.Equal(t, "timeout", stale[0].LastError)

	due, err := repo.ListDueForMatching(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, due) // 3 matched recently, 1 not current
}

func TestStoryListStalePendingAndBackoff(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewStoryRepository(dbase)
	now := time.Now().UTC()

	for _, id := range []uint64{1, 2, 3} {
		text := fmt.Sprintf("story %d", id)
		_, err := repo.SaveText(ctx, id, text, "en", db.StoryTextHash(text))
		require.NoError(t, err)
	}
	// 1 is left pending by a job that never finished
	require.NoError(t, dbase.Model(&db.Story{}).Where("user_id = ?", 1).
		UpdateColumn("updated_at", now.Add(-time.Hour)).Error)
	// 2 failed for good and waits out a backoff
	later := now.Add(time.Hour)
	require.NoError(t, repo.MarkStale(ctx, 2, db.StoryTextHash("story 2"), "401", &later))
	// 3 is pending with a job still inside its lock

	stale, err := repo.ListStale(ctx, now, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, uint64(1), stale[0].UserID)

	stale, err = repo.ListStale(ctx, later.Add(time.Second), now.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	// a new text clears the backoff
	_, err = repo.SaveText(ctx, 2, "story 2b", "en", db.StoryTextHash("story 2b"))
	require.NoError(t, err)
	s, err := repo.GetByUser(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, s.RetryAfter)
}

func TestStoryMarkStaleKeepsErrorValidUTF8(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewStoryRepository(dbase)

	_, err := repo.SaveText(ctx, 1, "story", "en", db.StoryTextHash("story"))
	require.NoError(t, err)

	// 'x' shifts every two-byte rune so byte 512 falls inside one
	reason := "x" + strings.Repeat("é", 400)
	require.NoError(t, repo.MarkStale(ctx, 1, db.StoryTextHash("story"), reason, nil))

	s, err := repo.GetByUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(s.LastError))
	assert.Len(t, s.LastError, 511)
	assert.True(t, strings.HasPrefix(reason, s.LastError))
}

func TestFriendshipStatusIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewFriendshipRepository(dbase)

	f := db.Friendship{UserA: 9, UserB: 4, Status: db.FriendshipBlocked, RequestedBy: 9}
	f.EnsureCanonicalOrder()
	require.NoError(t, dbase.Create(&f).Error)
	require.NoError(t, dbase.Create(&db.Friendship{UserA: 4, UserB: 5, Status: db.FriendshipAccepted, RequestedBy: 5}).Error)

	st, ok, err := repo.Status(ctx, 9, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, db.FriendshipBlocked, st)

	_, ok, err = repo.Status(ctx, 9, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	statuses, err := repo.StatusesWith(ctx, 4, []uint64{5, 9, 11})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]db.FriendshipStatus{
		5: db.FriendshipAccepted,
		9: db.FriendshipBlocked,
	}, statuses)
}

func TestUserFlagsFor(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewUserRepository(dbase)

	require.NoError(t, dbase.Create(&[]db.User{
		{ID: 1, Handle: "a", Active: true},
		{ID: 2, Handle: "b", Active: true, Blocked: true},
		{ID: 3, Handle: "c", Active: true},
	}).Error)
	require.NoError(t, dbase.Model(&db.User{}).Where("id = ?", 3).Update("active", false).Error)

	flags, err := repo.FlagsFor(ctx, []uint64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, repository.UserFlags{Active: true}, flags[1])
	assert.Equal(t, repository.UserFlags{Active: true, Blocked: true}, flags[2])
	assert.Equal(t, repository.UserFlags{}, flags[3])
	_, found := flags[4]
	assert.False(t, found)
}

func TestApplyRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewMatchRepository(dbase)

	run := []db.Match{
		{CandidateUserID: 2, Score: 0.9, Source: "memory:query", Generation: "g1"},
		{CandidateUserID: 3, Score: 0.8, Source: "memory:query", Generation: "g1"},
	}
	require.NoError(t, repo.ApplyRun(ctx, 1, run, nil))
	require.NoError(t, repo.ApplyRun(ctx, 1, run, nil))

	var count int64
	dbase.Model(&db.Match{}).Where("user_id = ?", 1).Count(&count)
	assert.Equal(t, int64(2), count)

	// second run with a new score replaces in place
	run[0].Score = 0.95
	run[0].Generation = "g2"
	require.NoError(t, repo.ApplyRun(ctx, 1, run[:1], map[uint64]db.HiddenReason{3: db.HiddenSuperseded}))

	m2, err := repo.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.95, m2.Score)
	assert.Equal(t, "g2", m2.Generation)

	m3, err := repo.Get(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, db.MatchHidden, m3.Status)
	assert.Equal(t, db.HiddenSuperseded, m3.HiddenReason)
}

func TestApplyRunDoesNotResurrectDismissed(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewMatchRepository(dbase)

	require.NoError(t, repo.Dismiss(ctx, 1, 7))
	require.NoError(t, repo.ApplyRun(ctx, 1, []db.Match{{CandidateUserID: 7, Score: 0.99, Generation: "g"}}, nil))

	m, err := repo.Get(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, db.MatchHidden, m.Status)
	assert.Equal(t, db.HiddenDismissed, m.HiddenReason)

	dismissed, err := repo.DismissedCandidates(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, dismissed, uint64(7))

	n, err := repo.ResetDismissals(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	dismissed, err = repo.DismissedCandidates(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, dismissed)
}

func TestListSuggestedPagination(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewMatchRepository(dbase)

	scores := map[uint64]float64{2: 0.8, 3: 0.7, 4: 0.6, 5: 0.5, 6: 0.4, 9: 0.8} // 2 and 9 tie
	var run []db.Match
	for _, id := range []uint64{2, 3, 4, 5, 6, 9} {
		run = append(run, db.Match{CandidateUserID: id, Score: scores[id], Generation: "g"})
	}
	require.NoError(t, repo.ApplyRun(ctx, 1, run, nil))

	_, err := repo.InvalidateWhereCandidate(ctx, 6)
	require.NoError(t, err)

	page1, next, err := repo.ListSuggested(ctx, 1, nil, 3)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, []uint64{2, 9, 3}, candidateIDs(page1))

	page2, next, err := repo.ListSuggested(ctx, 1, next, 3)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, []uint64{4, 5}, candidateIDs(page2)) // 6 is invalidated

	owners, err := repo.UsersWithInvalidated(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, owners)
}

func TestHidePairAndCandidate(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewMatchRepository(dbase)

	require.NoError(t, repo.ApplyRun(ctx, 1, []db.Match{{CandidateUserID: 2, Score: 0.5, Generation: "g"}}, nil))
	require.NoError(t, repo.ApplyRun(ctx, 2, []db.Match{{CandidateUserID: 1, Score: 0.5, Generation: "g"}}, nil))
	require.NoError(t, repo.ApplyRun(ctx, 3, []db.Match{{CandidateUserID: 2, Score: 0.5, Generation: "g"}}, nil))

	n, err := repo.HidePair(ctx, 2, 1, db.HiddenIneligible)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.HideWhereCandidate(ctx, 2, db.HiddenIneligible)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n) // only 3 -> 2 was still suggested

	ids, err := repo.SuggestedCandidates(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func candidateIDs(ms []db.Match) []uint64 {
	out := make([]uint64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.CandidateUserID)
	}
	return out
}
