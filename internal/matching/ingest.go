package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/embedding"
	"github.com/oggyb/storymatch/internal/repository"
	"github.com/oggyb/storymatch/internal/upstream"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

const defaultLanguage = "en"

var languageTag = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]{2,8})*$`)

// Embedder produces story vectors. *embedding.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, text, language string) (embedding.Result, error)
	Model() string
}

// Submission is a "story updated" event.
type Submission struct {
	UserID   uint64
	Text     string
	Language string
}

// IngestResult describes a finished ingestion.
type IngestResult struct {
	UserID    uint64
	StoryID   uint64
	VectorID  string
	TextHash  string
	Model     string
	Dimension int
	Truncated bool
	// Unchanged is true when the text already had a current embedding and
	// the provider was not called.
	Unchanged bool
	// Invalidated counts other users' suggestions that pointed at this user.
	Invalidated int64
	// Enqueued reports whether a matching run was queued for the user.
	Enqueued bool
}

// Ingestor keeps the vector index in step with story text.
type Ingestor struct {
	users    *repository.UserRepository
	stories  *repository.StoryRepository
	matches  *repository.MatchRepository
	cache    *cache.RedisCache
	embedder Embedder
	index    vectorindex.Index
	lockTTL  time.Duration
	backoff  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewIngestor wires an Ingestor from shared dependencies.
func NewIngestor(d Deps) *Ingestor {
	return &Ingestor{
		users:    repository.NewUserRepository(d.DB),
		stories:  repository.NewStoryRepository(d.DB),
		matches:  repository.NewMatchRepository(d.DB),
		cache:    d.Cache,
		embedder: d.Embedder,
		index:    d.Index,
		lockTTL:  d.Config.Ingest.LockTTL,
		backoff:  d.Config.Ingest.TerminalBackoff,
		log:      d.logger().With(slog.String("component", "ingest")),
		now:      d.clock(),
	}
}

// NormalizeText trims the text and folds CR/LF line endings into LF.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// NormalizeLanguage lowercases the tag and applies the default.
func NormalizeLanguage(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return defaultLanguage, nil
	}
	lang = strings.ReplaceAll(lang, "_", "-")
	if !languageTag.MatchString(lang) {
		return "", fmt.Errorf("%w: language %q", ErrInvalidArgument, lang)
	}
	return lang, nil
}

// Ingest stores the story text and refreshes the user's vector.
//
// Behavior:
//   - Validation failures and ErrBusy persist nothing.
//   - Identical text with a current embedding returns Unchanged.
//   - Embedding, upsert or bookkeeping failures keep the new text, mark the
//     story stale and return the error.
//   - Success marks the story current, invalidates suggestions that point
//     at this user and queues a matching run.
func (i *Ingestor) Ingest(ctx context.Context, sub Submission) (IngestResult, error) {
	text := NormalizeText(sub.Text)
	if sub.UserID == 0 {
		return IngestResult{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if text == "" {
		return IngestResult{}, fmt.Errorf("%w: story text is empty", ErrInvalidArgument)
	}
	lang, err := NormalizeLanguage(sub.Language)
	if err != nil {
		return IngestResult{}, err
	}
	if err := i.checkUser(ctx, sub.UserID); err != nil {
		return IngestResult{}, err
	}

	hash := db.StoryTextHash(text)
	res := IngestResult{
		UserID:   sub.UserID,
		VectorID: db.VectorIDFor(sub.UserID),
		TextHash: hash,
	}
	log := i.log.With(slog.Uint64("user_id", sub.UserID), slog.String("op", "ingest"))

	lock, err := i.cache.AcquireLock(ctx, i.cache.KeyForIngestLock(sub.UserID), i.lockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		log.Info("ingestion rejected, another job in flight")
		return res, fmt.Errorf("ingest user %d: %w", sub.UserID, ErrBusy)
	}
	if err != nil {
		return res, fmt.Errorf("acquire ingest lock: %w", err)
	}
	defer i.release(ctx, lock, log)

	// the job may not outlive the lock
	jobCtx, cancel := context.WithTimeout(ctx, i.lockTTL)
	defer cancel()

	prev, err := i.stories.GetByUser(jobCtx, sub.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return res, fmt.Errorf("load story: %w", err)
	}
	if prev != nil &&
		prev.TextHash == hash &&
		prev.Language == lang &&
		prev.EmbeddingStatus == db.EmbeddingCurrent &&
		prev.EmbeddingModel == i.embedder.Model() {
		res.StoryID = prev.ID
		res.Model = prev.EmbeddingModel
		res.Dimension = prev.EmbeddingDim
		res.Unchanged = true
		log.Debug("story unchanged, embedding is current")
		return res, nil
	}

	story, err := i.stories.SaveText(jobCtx, sub.UserID, text, lang, hash)
	if err != nil {
		return res, fmt.Errorf("save story: %w", err)
	}
	res.StoryID = story.ID

	emb, err := i.embedder.Embed(jobCtx, text, lang)
	if err != nil {
		i.markStale(ctx, sub.UserID, hash, err, log)
		return res, fmt.Errorf("embed story for user %d: %w", sub.UserID, err)
	}
	res.Model, res.Dimension, res.Truncated = emb.Model, emb.Dimension, emb.Truncated

	now := i.now()
	md := vectorindex.Metadata{
		"userId":    strconv.FormatUint(sub.UserID, 10),
		"storyId":   strconv.FormatUint(story.ID, 10),
		"language":  lang,
		"model":     emb.Model,
		"dimension": emb.Dimension,
		"textHash":  hash,
		"createdAt": now.UTC().Format(time.RFC3339),
	}
	if err := i.index.Upsert(jobCtx, res.VectorID, emb.Vector, md); err != nil {
		i.markStale(ctx, sub.UserID, hash, err, log)
		return res, fmt.Errorf("upsert vector %s: %w", res.VectorID, err)
	}

	ok, err := i.stories.MarkCurrent(jobCtx, sub.UserID, hash, emb.Model, emb.Dimension, now)
	if err != nil {
		// the vector is written but the row still says pending
		i.markStale(ctx, sub.UserID, hash, err, log)
		return res, fmt.Errorf("mark story current: %w", err)
	}
	if !ok {
		log.Warn("story text changed during ingestion, leaving status untouched")
	}

	res.Invalidated, err = i.matches.InvalidateWhereCandidate(jobCtx, sub.UserID)
	if err != nil {
		return res, fmt.Errorf("invalidate suggestions for candidate: %w", err)
	}

	// a failed enqueue is recovered by the sweeper: MarkCurrent cleared matched_at
	res.Enqueued, err = i.cache.EnqueueRematch(jobCtx, sub.UserID)
	if err != nil {
		log.Warn("failed to enqueue rematch", slog.Any("err", err))
	}

	log.Info("story embedded",
		slog.String("vector_id", res.VectorID),
		slog.String("model", res.Model),
		slog.Int("dimension", res.Dimension),
		slog.Int64("invalidated", res.Invalidated),
	)
	return res, nil
}

// DeleteStory removes the user's vector and story and hides every
// suggestion involving the user. Deleting a missing story succeeds.
func (i *Ingestor) DeleteStory(ctx context.Context, userID uint64) (hidden int64, err error) {
	if userID == 0 {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	log := i.log.With(slog.Uint64("user_id", userID), slog.String("op", "delete_story"))

	lock, err := i.cache.AcquireLock(ctx, i.cache.KeyForIngestLock(userID), i.lockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return 0, fmt.Errorf("delete story for user %d: %w", userID, ErrBusy)
	}
	if err != nil {
		return 0, fmt.Errorf("acquire ingest lock: %w", err)
	}
	defer i.release(ctx, lock, log)

	// vector first: a story row without a vector is recoverable, the reverse is not
	if err := i.index.Delete(ctx, db.VectorIDFor(userID)); err != nil {
		return 0, fmt.Errorf("delete vector: %w", err)
	}
	if err := i.stories.Delete(ctx, userID); err != nil {
		return 0, fmt.Errorf("delete story: %w", err)
	}
	hidden, err = i.matches.HideForUser(ctx, userID, db.HiddenIneligible)
	if err != nil {
		return 0, fmt.Errorf("hide matches: %w", err)
	}
	log.Info("story deleted", slog.Int64("hidden", hidden))
	return hidden, nil
}

func (i *Ingestor) checkUser(ctx context.Context, userID uint64) error {
	u, err := i.users.GetUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !u.Active {
		return fmt.Errorf("%w: user %d is deactivated", ErrInvalidArgument, userID)
	}
	return nil
}

// markStale uses a context detached from the job so a timed-out job
// still records why it failed. Terminal failures are held back from the
// sweeper for the configured backoff.
func (i *Ingestor) markStale(ctx context.Context, userID uint64, hash string, cause error, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var retryAfter *time.Time
	if isTerminal(cause) {
		at := i.now().Add(i.backoff)
		retryAfter = &at
	}
	if err := i.stories.MarkStale(ctx, userID, hash, cause.Error(), retryAfter); err != nil {
		log.Error("failed to mark story stale", slog.Any("err", err))
	}
	log.Warn("embedding marked stale", slog.Any("err", cause), slog.Bool("terminal", retryAfter != nil))
}

func isTerminal(err error) bool {
	return errors.Is(err, upstream.ErrTerminal) ||
		errors.Is(err, vectorindex.ErrDimension) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUserNotFound)
}

func (i *Ingestor) release(ctx context.Context, lock *cache.Lock, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := i.cache.ReleaseLock(ctx, lock); err != nil {
		log.Warn("failed to release lock", slog.String("key", lock.Key), slog.Any("err", err))
	}
}
