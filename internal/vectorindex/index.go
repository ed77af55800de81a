// Package vectorindex stores one story vector per key and answers
// nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/oggyb/storymatch/internal/config"
)

// MaxTopK bounds a single query.
const MaxTopK = 200

var (
	// ErrInvalidTopK is returned for topK outside [1, MaxTopK].
	ErrInvalidTopK = errors.New("vectorindex: topK out of range")

	// ErrDimension is returned when a vector's length does not match the index.
	ErrDimension = errors.New("vectorindex: dimension mismatch")
)

// Metadata is the open key/value mapping stored next to a vector.
// Values must be strings, bools, numbers or slices of those.
type Metadata map[string]any

// Vector is a stored entry.
type Vector struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Neighbor is one query result. Higher Score is more similar.
type Neighbor struct {
	VectorID string
	Score    float32
	Metadata Metadata
}

// Index is the narrow contract the pipeline needs from a vector store.
//
// Upsert with an existing id replaces vector and metadata. Delete of an
// absent id succeeds. Query validates topK and returns neighbours sorted
// by score descending, ties by id ascending.
type Index interface {
	Upsert(ctx context.Context, id string, values []float32, md Metadata) error
	Fetch(ctx context.Context, id string) (*Vector, bool, error)
	Query(ctx context.Context, values []float32, topK int, filter Filter) ([]Neighbor, error)
	Delete(ctx context.Context, id string) error
	Name() string
}

// ValidateTopK checks the query bound.
func ValidateTopK(topK int) error {
	if topK < 1 || topK > MaxTopK {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidTopK, topK, MaxTopK)
	}
	return nil
}

// SortNeighbors orders by score descending then VectorID ascending.
func SortNeighbors(ns []Neighbor) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].Score != ns[j].Score {
			return ns[i].Score > ns[j].Score
		}
		return ns[i].VectorID < ns[j].VectorID
	})
}

// Open builds the driver named by cfg.Vector.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Index, error) {
	switch cfg.Vector.Driver {
	case "memory":
		return NewMemory(), nil
	case "pinecone":
		return NewPinecone(ctx, PineconeOptions{
			APIKey:    cfg.Pinecone.APIKey,
			IndexName: cfg.Pinecone.IndexName,
			Namespace: cfg.Pinecone.Namespace,
			Timeout:   cfg.Vector.Timeout,
			RetryBase: cfg.Vector.RetryBase,
			Attempts:  cfg.Vector.MaxAttempts,
			Logger:    logger,

			CreateIfMissing: cfg.Pinecone.CreateIndex,
			Dimension:       cfg.Embedding.Dimension,
			Cloud:           cfg.Pinecone.Cloud,
			Region:          cfg.Pinecone.Region,
		})
	default:
		return nil, fmt.Errorf("vectorindex: unsupported driver %q", cfg.Vector.Driver)
	}
}
