package db

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// User is read by the matching pipeline; moderation flags gate candidacy.
// Users are soft-deactivated (Active=false), never deleted while referenced.
type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Handle    string    `gorm:"uniqueIndex;size:64;not null"`
	Name      string    `gorm:"size:128"`
	AvatarURL string    `gorm:"size:512"`
	Bio       string    `gorm:"size:1024"`
	Blocked   bool      `gorm:"not null;default:false"`
	Verified  bool      `gorm:"not null;default:false"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// EmbeddingStatus tracks whether the indexed vector reflects Story.Text.
type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingCurrent EmbeddingStatus = "current"
	EmbeddingStale   EmbeddingStatus = "stale"
)

// Story is a user's free-text story, one per user.
//
// VectorID is derived from UserID so re-embedding always overwrites the same
// entry in the vector index. TextHash identifies the text version ("generation")
// that produced the indexed vector.
type Story struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement"`
	UserID          uint64          `gorm:"uniqueIndex;not null"`
	Text            string          `gorm:"type:text;not null"`
	Language        string          `gorm:"size:16;not null;default:'en'"`
	VectorID        string          `gorm:"size:64;not null"`
	TextHash        string          `gorm:"size:64;not null"`
	EmbeddingStatus EmbeddingStatus `gorm:"size:16;not null;default:'pending';index:idx_story_status_matched,priority:1"`
	EmbeddingModel  string          `gorm:"size:128"`
	EmbeddingDim    int
	EmbeddedAt      *time.Time
	RetryAfter      *time.Time
	MatchedAt       *time.Time `gorm:"index:idx_story_status_matched,priority:2"`
	LastError       string     `gorm:"size:512"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// VectorIDFor returns the stable vector index key for a user's story.
func VectorIDFor(userID uint64) string {
	return fmt.Sprintf("user:%d", userID)
}

// StoryTextHash fingerprints normalised story text. The hash doubles as the
// embedding generation tag stored on Match rows.
func StoryTextHash(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// MatchStatus is the lifecycle state of a Match.
type MatchStatus string

const (
	MatchSuggested MatchStatus = "suggested"
	MatchHidden    MatchStatus = "hidden"
)

// HiddenReason records why a Match left the suggested state. Only dismissed
// rows block a pair from future runs.
type HiddenReason string

const (
	HiddenNone       HiddenReason = ""
	HiddenDismissed  HiddenReason = "dismissed"
	HiddenIneligible HiddenReason = "ineligible"
	HiddenSuperseded HiddenReason = "superseded"
)

// Match is a directed suggestion from UserID to CandidateUserID.
//
// Composite PK: (UserID, CandidateUserID)
//   - One row per pair; re-running matching updates in place.
//
// Indexes:
//   - idx_match_user_status_score(user_id, status, score DESC)
//     Serves the suggestion list ordered by score.
//   - idx_match_candidate_status(candidate_user_id, status)
//     Serves invalidation when a candidate's story or flags change.
type Match struct {
	UserID          uint64       `gorm:"primaryKey;autoIncrement:false;index:idx_match_user_status_score,priority:1"`
	CandidateUserID uint64       `gorm:"primaryKey;autoIncrement:false;index:idx_match_candidate_status,priority:1"`
	Score           float64      `gorm:"not null;index:idx_match_user_status_score,priority:3,sort:desc"`
	Source          string       `gorm:"size:64;not null;default:'pinecone:query'"`
	Status          MatchStatus  `gorm:"size:16;not null;default:'suggested';index:idx_match_user_status_score,priority:2;index:idx_match_candidate_status,priority:2"`
	HiddenReason    HiddenReason `gorm:"size:16;not null;default:''"`
	Generation      string       `gorm:"size:64;not null"`
	Invalidated     bool         `gorm:"not null;default:false"`
	CreatedAt       time.Time    `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime"`
}

// FriendshipStatus is the state of an undirected user pair.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is stored once per unordered pair with UserA < UserB.
type Friendship struct {
	UserA       uint64           `gorm:"primaryKey;autoIncrement:false"`
	UserB       uint64           `gorm:"primaryKey;autoIncrement:false;index"`
	Status      FriendshipStatus `gorm:"size:16;not null;default:'pending';index"`
	RequestedBy uint64           `gorm:"not null"`
	CreatedAt   time.Time        `gorm:"autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime"`
}

// CanonicalPair orders two user ids so that a <= b.
func CanonicalPair(a, b uint64) (uint64, uint64) {
	if a > b {
		return b, a
	}
	return a, b
}

// EnsureCanonicalOrder swaps UserA and UserB when they are out of order.
func (f *Friendship) EnsureCanonicalOrder() {
	f.UserA, f.UserB = CanonicalPair(f.UserA, f.UserB)
}

// Other returns the member of the pair that is not userID.
func (f *Friendship) Other(userID uint64) uint64 {
	if f.UserA == userID {
		return f.UserB
	}
	return f.UserA
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []any {
	return []any{&User{}, &Story{}, &Match{}, &Friendship{}}
}
