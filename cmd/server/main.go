package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"

	"github.com/oggyb/storymatch/internal/app"
	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/embedding"
	"github.com/oggyb/storymatch/internal/logger"
	"github.com/oggyb/storymatch/internal/server"
	"github.com/oggyb/storymatch/internal/service/matching"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L() // slog.Logger pointer

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return 1
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return 1
	}

	// Providers
	index, err := vectorindex.Open(ctx, cfg, log.With("component", "vectorindex"))
	if err != nil {
		log.Error("failed to open vector index", "driver", cfg.Vector.Driver, "err", err)
		return 1
	}
	if c, ok := index.(io.Closer); ok {
		defer c.Close()
	}
	embedder := embedding.NewFromConfig(cfg, log.With("component", "embedding"))

	appCtx := app.New(cfg, database, redisCache, embedder, index, log, nil)

	if cfg.App.ENV == "development" && cfg.DB.Driver == "sqlite" {
		if err := db.SeedTestData(database); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	registrars := []server.Registrar{
		matching.NewRegistrar(appCtx),
	}

	log.Info("starting storymatch",
		"env", cfg.App.ENV,
		"index", index.Name(),
		"model", embedder.Model(),
		"workers", cfg.Worker.Concurrency,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.StartGRPCServer(gctx, cfg, log, registrars...) })
	g.Go(func() error { return appCtx.Pipeline.Worker.Run(gctx) })
	g.Go(func() error { return appCtx.Pipeline.Sweeper.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error("storymatch stopped with error", "err", err)
		return 1
	}
	log.Info("storymatch stopped")
	return 0
}
