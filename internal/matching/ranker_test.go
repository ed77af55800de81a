package matching_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/repository"
)

func activeFlags(ids ...uint64) map[uint64]repository.UserFlags {
	out := make(map[uint64]repository.UserFlags, len(ids))
	for _, id := range ids {
		out[id] = repository.UserFlags{Active: true}
	}
	return out
}

func TestRankAppliesExclusions(t *testing.T) {
	raw := []matching.Candidate{
		{UserID: 1, Score: 1.0}, // self
		{UserID: 2, Score: 0.9}, // accepted friend
		{UserID: 3, Score: 0.8}, // blocked friendship
		{UserID: 4, Score: 0.7}, // moderation-blocked
		{UserID: 5, Score: 0.6}, // deactivated
		{UserID: 6, Score: 0.5}, // dismissed
		{UserID: 7, Score: 0.4}, // pending friendship is fine
		{UserID: 8, Score: 0.3},
		{UserID: 9, Score: 0.2}, // no user row
	}
	flags := activeFlags(1, 2, 3, 6, 7, 8)
	flags[4] = repository.UserFlags{Active: true, Blocked: true}
	flags[5] = repository.UserFlags{Active: false}
	g := matching.Graph{
		Flags: flags,
		Friendships: map[uint64]db.FriendshipStatus{
			2: db.FriendshipAccepted,
			3: db.FriendshipBlocked,
			7: db.FriendshipPending,
		},
		Dismissed: map[uint64]struct{}{6: {}},
	}

	got, stats := matching.Rank(1, raw, g, nil, 10)
	assert.Equal(t, []uint64{7, 8}, rankedIDs(got))
	assert.Equal(t, matching.RankStats{
		Input:     9,
		Self:      1,
		Blocked:   1,
		Inactive:  2,
		Friends:   2,
		Dismissed: 1,
		Output:    2,
	}, stats)
}

func TestRankDedupesAndOrders(t *testing.T) {
	raw := []matching.Candidate{
		{UserID: 5, Score: 0.5},
		{UserID: 3, Score: 0.7},
		{UserID: 5, Score: 0.9}, // duplicate keeps the higher score
		{UserID: 2, Score: 0.7}, // tie with 3, lower id first
		{UserID: 4, Score: 0.1},
	}
	g := matching.Graph{Flags: activeFlags(2, 3, 4, 5)}

	got, stats := matching.Rank(1, raw, g, matching.Identity, 3)
	assert.Equal(t, []matching.Ranked{
		{UserID: 5, Score: 0.9, RawScore: 0.9},
		{UserID: 2, Score: 0.7, RawScore: 0.7},
		{UserID: 3, Score: 0.7, RawScore: 0.7},
	}, got)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.Truncated)
	assert.Equal(t, 3, stats.Output)
}

func TestRankIsDeterministic(t *testing.T) {
	raw := []matching.Candidate{
		{UserID: 10, Score: 0.42}, {UserID: 11, Score: 0.42}, {UserID: 12, Score: 0.9},
		{UserID: 13, Score: 0.1}, {UserID: 10, Score: 0.3}, {UserID: 14, Score: 0.42},
	}
	g := matching.Graph{
		Flags:       activeFlags(10, 11, 12, 13, 14),
		Friendships: map[uint64]db.FriendshipStatus{13: db.FriendshipBlocked},
	}

	first, _ := matching.Rank(1, raw, g, nil, 10)
	second, _ := matching.Rank(1, raw, g, nil, 10)
	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// input order does not matter either
	reversed := make([]matching.Candidate, len(raw))
	for i := range raw {
		reversed[len(raw)-1-i] = raw[i]
	}
	third, _ := matching.Rank(1, reversed, g, nil, 10)
	c, err := json.Marshal(third)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestRankNeverReturnsSelf(t *testing.T) {
	raw := []matching.Candidate{{UserID: 1, Score: 1}, {UserID: 1, Score: 0.99}, {UserID: 2, Score: 0.5}}
	got, stats := matching.Rank(1, raw, matching.Graph{Flags: activeFlags(1, 2)}, nil, 10)
	assert.Equal(t, []uint64{2}, rankedIDs(got))
	assert.Equal(t, 1, stats.Self)
}

func TestRecencyBoostChangesOrderNotFiltering(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	raw := []matching.Candidate{
		{UserID: 2, Score: 0.80, EmbeddedAt: now.Add(-30 * 24 * time.Hour)},
		{UserID: 3, Score: 0.75, EmbeddedAt: now.Add(-time.Hour)},
		{UserID: 4, Score: 0.99, EmbeddedAt: now},
	}
	g := matching.Graph{
		Flags:     activeFlags(2, 3, 4),
		Dismissed: map[uint64]struct{}{4: {}},
	}

	plain, _ := matching.Rank(1, raw, g, nil, 10)
	assert.Equal(t, []uint64{2, 3}, rankedIDs(plain))

	boosted, _ := matching.Rank(1, raw, g, matching.RecencyBoost(now, 7*24*time.Hour, 0.1), 10)
	assert.Equal(t, []uint64{3, 2}, rankedIDs(boosted))
	assert.Equal(t, 0.75, boosted[0].RawScore)
	assert.Greater(t, boosted[0].Score, 0.84)
}

func TestQuerySize(t *testing.T) {
	assert.Equal(t, 20, matching.QuerySize(10, 10, 0.5))
	assert.Equal(t, 150, matching.QuerySize(100, 10, 0.5))
	assert.Equal(t, 200, matching.QuerySize(180, 10, 0.5))
	assert.Equal(t, 2, matching.QuerySize(1, 1, 0))
}
