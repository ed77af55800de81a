package matching

import (
	"sort"
	"time"

	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/repository"
)

// Graph is the snapshot of social state the ranker filters against.
// Maps are keyed by candidate user id.
type Graph struct {
	Flags       map[uint64]repository.UserFlags
	Friendships map[uint64]db.FriendshipStatus
	Dismissed   map[uint64]struct{}
}

// Exclusion names why a candidate was dropped.
type Exclusion string

const (
	Eligible          Exclusion = ""
	ExcludedSelf      Exclusion = "self"
	ExcludedBlocked   Exclusion = "blocked"
	ExcludedInactive  Exclusion = "inactive"
	ExcludedFriend    Exclusion = "friendship"
	ExcludedDismissed Exclusion = "dismissed"
)

// Exclude applies the exclusion rules in order and returns the first that
// matches. A candidate without a user row counts as inactive.
func (g Graph) Exclude(userID, candidateID uint64) Exclusion {
	if candidateID == userID {
		return ExcludedSelf
	}
	flags, ok := g.Flags[candidateID]
	if ok && flags.Blocked {
		return ExcludedBlocked
	}
	if !ok || !flags.Active {
		return ExcludedInactive
	}
	switch g.Friendships[candidateID] {
	case db.FriendshipAccepted, db.FriendshipBlocked:
		return ExcludedFriend
	}
	if _, ok := g.Dismissed[candidateID]; ok {
		return ExcludedDismissed
	}
	return Eligible
}

// ScoreAdjuster rewrites a candidate's score after filtering. It must be
// a pure function of its input.
type ScoreAdjuster func(c Candidate) float64

// Identity keeps the raw similarity score.
func Identity(c Candidate) float64 { return c.Score }

// RecencyBoost adds up to weight to candidates embedded within window of
// now, decaying linearly with age. now is fixed by the caller so ranking
// stays deterministic.
func RecencyBoost(now time.Time, window time.Duration, weight float64) ScoreAdjuster {
	return func(c Candidate) float64 {
		if c.EmbeddedAt.IsZero() || window <= 0 {
			return c.Score
		}
		age := now.Sub(c.EmbeddedAt)
		if age < 0 {
			age = 0
		}
		if age >= window {
			return c.Score
		}
		return c.Score + weight*(1-float64(age)/float64(window))
	}
}

// Ranked is a candidate that survived filtering.
type Ranked struct {
	UserID   uint64  `json:"user_id"`
	Score    float64 `json:"score"`
	RawScore float64 `json:"raw_score"`
}

// RankStats counts what happened to the raw list.
type RankStats struct {
	Input      int `json:"input"`
	Duplicates int `json:"duplicates"`
	Self       int `json:"self"`
	Blocked    int `json:"blocked"`
	Inactive   int `json:"inactive"`
	Friends    int `json:"friends"`
	Dismissed  int `json:"dismissed"`
	Truncated  int `json:"truncated"`
	Output     int `json:"output"`
}

// Rank filters and orders raw candidates for userID.
//
// Duplicate candidate ids keep the highest raw score. Survivors are sorted
// by adjusted score descending, then user id ascending, and cut to limit
// (limit <= 0 keeps all). The result depends only on the arguments.
func Rank(userID uint64, raw []Candidate, g Graph, adjust ScoreAdjuster, limit int) ([]Ranked, RankStats) {
	if adjust == nil {
		adjust = Identity
	}
	stats := RankStats{Input: len(raw)}

	best := make(map[uint64]Candidate, len(raw))
	order := make([]uint64, 0, len(raw))
	for _, c := range raw {
		prev, seen := best[c.UserID]
		if !seen {
			order = append(order, c.UserID)
			best[c.UserID] = c
			continue
		}
		stats.Duplicates++
		if c.Score > prev.Score {
			best[c.UserID] = c
		}
	}

	out := make([]Ranked, 0, len(order))
	for _, id := range order {
		switch g.Exclude(userID, id) {
		case ExcludedSelf:
			stats.Self++
		case ExcludedBlocked:
			stats.Blocked++
		case ExcludedInactive:
			stats.Inactive++
		case ExcludedFriend:
			stats.Friends++
		case ExcludedDismissed:
			stats.Dismissed++
		default:
			c := best[id]
			out = append(out, Ranked{UserID: id, Score: adjust(c), RawScore: c.Score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		stats.Truncated = len(out) - limit
		out = out[:limit]
	}
	stats.Output = len(out)
	return out, stats
}
