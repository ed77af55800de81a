package vectorindex

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
)

// Memory is an in-process Index using brute-force cosine similarity.
// It backs local runs and tests. Safe for concurrent use.
//
// The first vector stored fixes the dimension; later vectors and queries
// of another length fail with ErrDimension.
type Memory struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string]Vector
	upserts int
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{vectors: make(map[string]Vector)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Upsert(ctx context.Context, id string, values []float32, md Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: empty vector for %s", ErrDimension, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim != 0 && len(values) != m.dim {
		return fmt.Errorf("%w: got %d, index has %d", ErrDimension, len(values), m.dim)
	}
	m.dim = len(values)
	m.vectors[id] = Vector{ID: id, Values: slices.Clone(values), Metadata: maps.Clone(md)}
	m.upserts++
	return nil
}

func (m *Memory) Fetch(ctx context.Context, id string) (*Vector, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[id]
	if !ok {
		return nil, false, nil
	}
	return &Vector{ID: v.ID, Values: slices.Clone(v.Values), Metadata: maps.Clone(v.Metadata)}, true, nil
}

func (m *Memory) Query(ctx context.Context, values []float32, topK int, filter Filter) ([]Neighbor, error) {
	if err := ValidateTopK(topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.vectors) == 0 {
		return nil, nil
	}
	if len(values) != m.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(values), m.dim)
	}

	out := make([]Neighbor, 0, len(m.vectors))
	for id, v := range m.vectors {
		ok, err := filter.Matches(v.Metadata)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			VectorID: id,
			Score:    CosineSimilarity(values, v.Values),
			Metadata: maps.Clone(v.Metadata),
		})
	}
	SortNeighbors(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.vectors, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Upserts returns how many upserts succeeded since creation.
func (m *Memory) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

// CosineSimilarity returns a value in [-1, 1]; 0 when either vector has
// zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(max(-1, min(1, sim)))
}
