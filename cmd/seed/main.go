package main

import (
	"context"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/config"
	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/logger"
)

// seed resets the database to the demo community. Stories are seeded stale,
// so a running server's sweeper embeds them; the rematch queue is cleared
// of users that no longer exist.
func main() {
	// Load configuration
	cfg := config.New()
	logger.InitFromConfig(cfg)
	log := logger.L()

	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	if err := db.SeedTestData(database); err != nil {
		log.Error("failed to seed", "err", err)
		os.Exit(1)
	}

	redisCache := cache.NewRedisCache(cfg)
	defer redisCache.Close()
	if err := redisCache.ClearRematchQueue(context.Background()); err != nil {
		log.Warn("failed to clear rematch queue", "err", err)
	}

	log.Info("seeding completed")
}
