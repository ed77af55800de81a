package matching_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/embedding"
	"github.com/oggyb/storymatch/internal/logger"
	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

const testModel = "test-model"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockEmbedder returns whatever the expectations say. A func(string)
// embedding.Result return value is evaluated with the text.
type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Model() string { return testModel }

func (m *mockEmbedder) Embed(ctx context.Context, text, language string) (embedding.Result, error) {
	args := m.Called(ctx, text, language)
	if fn, ok := args.Get(0).(func(string) embedding.Result); ok {
		return fn(text), args.Error(1)
	}
	return args.Get(0).(embedding.Result), args.Error(1)
}

var keywords = []string{"hiking", "photography", "music", "cooking"}

// keywordVector gives one axis per keyword so similarities are predictable.
func keywordVector(text string) embedding.Result {
	text = strings.ToLower(text)
	vec := make([]float32, len(keywords))
	for i, k := range keywords {
		vec[i] = 0.1
		if strings.Contains(text, k) {
			vec[i] = 1
		}
	}
	return embedding.Result{Vector: vec, Dimension: len(vec), Model: testModel}
}

type harness struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	cache    *cache.RedisCache
	index    *vectorindex.Memory
	embedder *mockEmbedder
	cfg      *config.Config
	pipeline *matching.Pipeline
}

// newHarness wires the pipeline against in-memory SQLite, miniredis and
// the memory index. The embedder answers keywordVector unless a test
// registers its own expectations first (pass stub=false).
func newHarness(t *testing.T, stub bool) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	dbase, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	})
	require.NoError(t, err)
	sqlDB, err := dbase.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(dbase))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()
	cfg.Ingest.LockTTL = 10 * time.Second
	cfg.Match.DefaultTopK = 10
	cfg.Match.QueryMarginMin = 10
	cfg.Match.QueryMarginRate = 0.5
	cfg.Match.MaxAge = 24 * time.Hour
	cfg.Match.RunTimeout = 10 * time.Second
	cfg.Worker.Concurrency = 1
	cfg.Worker.PopTimeout = time.Second
	cfg.Worker.SweepBatch = 50

	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })

	emb := &mockEmbedder{}
	if stub {
		emb.On("Embed", mock.Anything, mock.Anything, mock.Anything).Return(keywordVector, nil)
	}
	idx := vectorindex.NewMemory()

	h := &harness{db: dbase, mr: mr, cache: rc, index: idx, embedder: emb, cfg: cfg}
	h.pipeline = h.withIndex(idx)
	return h
}

// withIndex builds a second pipeline over the same stores and the current
// config, writing vectors to idx.
func (h *harness) withIndex(idx vectorindex.Index) *matching.Pipeline {
	return matching.NewPipeline(matching.Deps{
		DB:       h.db,
		Cache:    h.cache,
		Embedder: h.embedder,
		Index:    idx,
		Config:   h.cfg,
		Logger:   logger.Discard(),
		Now:      func() time.Time { return testNow },
	}, nil)
}

func (h *harness) addUsers(t *testing.T, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		u := db.User{ID: id, Handle: fmt.Sprintf("user%d", id), Active: true}
		require.NoError(t, h.db.Create(&u).Error)
	}
}

func (h *harness) setFriendship(t *testing.T, a, b uint64, st db.FriendshipStatus) {
	t.Helper()
	f := db.Friendship{UserA: a, UserB: b, Status: st, RequestedBy: a}
	f.EnsureCanonicalOrder()
	require.NoError(t, h.db.Save(&f).Error)
}

func (h *harness) ingest(t *testing.T, userID uint64, text string) matching.IngestResult {
	t.Helper()
	res, err := h.pipeline.Ingestor.Ingest(context.Background(), matching.Submission{
		UserID: userID, Text: text, Language: "en",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) story(t *testing.T, userID uint64) db.Story {
	t.Helper()
	var s db.Story
	require.NoError(t, h.db.Where("user_id = ?", userID).First(&s).Error)
	return s
}

func (h *harness) match(t *testing.T, userID, candidateID uint64) db.Match {
	t.Helper()
	var m db.Match
	require.NoError(t, h.db.Where("user_id = ? AND candidate_user_id = ?", userID, candidateID).First(&m).Error)
	return m
}

func rankedIDs(rs []matching.Ranked) []uint64 {
	out := make([]uint64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.UserID)
	}
	return out
}

func matchIDs(ms []db.Match) []uint64 {
	out := make([]uint64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.CandidateUserID)
	}
	return out
}

// seedScenario builds the hiking/photography community used by lifecycle
// tests:
//
//	1 "I love hiking and photography"   (querying user)
//	2 accepted friend of 1
//	3 blocked friendship with 1
//	4 music and cooking
//	5 same interests as 1
//	6 cooking, pending friendship with 1
//	7 hiking, photography and music
//	8 moderation-blocked
func seedScenario(t *testing.T, h *harness) {
	t.Helper()
	h.addUsers(t, 1, 2, 3, 4, 5, 6, 7, 8)
	require.NoError(t, h.db.Model(&db.User{}).Where("id = ?", 8).Update("blocked", true).Error)

	h.setFriendship(t, 1, 2, db.FriendshipAccepted)
	h.setFriendship(t, 3, 1, db.FriendshipBlocked)
	h.setFriendship(t, 1, 6, db.FriendshipPending)

	stories := map[uint64]string{
		1: "I love hiking and photography",
		2: "hiking every weekend",
		3: "photography nerd",
		4: "music and cooking",
		5: "hiking and photography trips",
		6: "cooking",
		7: "hiking, photography and music",
		8: "hiking and photography",
	}
	for id := uint64(1); id <= 8; id++ {
		h.ingest(t, id, stories[id])
	}
}
