package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

// AppContext holds shared dependencies (Config, DB, Redis, providers,
// Logger) and the matching pipeline built on top of them.
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Embedder   matching.Embedder
	Index      vectorindex.Index
	Logger     *slog.Logger
	Pipeline   *matching.Pipeline
}

// New creates a new AppContext and wires the pipeline. adjust may be nil
// for raw similarity ordering.
func New(
	cfg *config.Config,
	db *gorm.DB,
	rdb *cache.RedisCache,
	embedder matching.Embedder,
	index vectorindex.Index,
	logger *slog.Logger,
	adjust matching.ScoreAdjuster,
) *AppContext {
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Embedder:   embedder,
		Index:      index,
		Logger:     logger,
		Pipeline: matching.NewPipeline(matching.Deps{
			DB:       db,
			Cache:    rdb,
			Embedder: embedder,
			Index:    index,
			Config:   cfg,
			Logger:   logger,
		}, adjust),
	}
}
