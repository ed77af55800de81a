package matching

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

// Deps holds what the pipeline components share. Logger and Now are
// optional.
type Deps struct {
	DB       *gorm.DB
	Cache    *cache.RedisCache
	Embedder Embedder
	Index    vectorindex.Index
	Config   *config.Config
	Logger   *slog.Logger
	Now      func() time.Time
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

// Pipeline bundles the components built from one Deps.
type Pipeline struct {
	Ingestor  *Ingestor
	Query     *QueryEngine
	Lifecycle *Lifecycle
	Worker    *Worker
	Sweeper   *Sweeper
}

// NewPipeline builds every component. adjust may be nil.
func NewPipeline(d Deps, adjust ScoreAdjuster) *Pipeline {
	p := &Pipeline{
		Ingestor: NewIngestor(d),
		Query:    NewQueryEngine(d),
	}
	p.Lifecycle = NewLifecycle(d, p.Query, adjust)
	p.Worker = NewWorker(d, p.Lifecycle)
	p.Sweeper = NewSweeper(d, p.Ingestor)
	return p
}
