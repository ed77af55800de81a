package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oggyb/storymatch/internal/app"
	"github.com/oggyb/storymatch/internal/cache"
	"github.com/oggyb/storymatch/internal/db"
	"github.com/oggyb/storymatch/internal/embedding"
	"github.com/oggyb/storymatch/internal/logger"
	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

// openLocal wires the pipeline in-process from the environment. Logs go
// to stderr so stdout stays machine readable.
func openLocal(ctx context.Context) (*app.AppContext, func(), error) {
	logger.Init(&logger.Config{
		Level:     cfg.Log.Level,
		Format:    logger.Format(cfg.Log.Format),
		Component: "storyctl",
		Output:    os.Stderr,
	})
	log := logger.L()

	database, err := db.NewDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(ctx); err != nil {
		_ = redisCache.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	index, err := vectorindex.Open(ctx, cfg, log.With("component", "vectorindex"))
	if err != nil {
		_ = redisCache.Close()
		return nil, nil, err
	}
	embedder := embedding.NewFromConfig(cfg, log.With("component", "embedding"))

	cleanup := func() {
		if c, ok := index.(io.Closer); ok {
			_ = c.Close()
		}
		_ = redisCache.Close()
	}
	return app.New(cfg, database, redisCache, embedder, index, log, nil), cleanup, nil
}

// ingestStatus is the one-line JSON result of the ingest command.
type ingestStatus struct {
	Status   string `json:"status"`
	UserID   string `json:"user_id,omitempty"`
	StoryID  string `json:"story_id,omitempty"`
	VectorID string `json:"vector_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed and index one story in-process",
	Long: `Run the ingestion pipeline for one story without a server and print a
single JSON status line:

  {"status":"success","user_id":"42","story_id":"7","vector_id":"user:42"}
  {"status":"error","message":"..."}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetUint64("user")
		text, _ := cmd.Flags().GetString("text")
		lang, _ := cmd.Flags().GetString("lang")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := runIngest(ctx, matching.Submission{UserID: user, Text: text, Language: lang})
		if err != nil {
			_ = printLine(cmd.OutOrStdout(), ingestStatus{Status: "error", Message: err.Error()})
			return err
		}
		return printLine(cmd.OutOrStdout(), ingestStatus{
			Status:   "success",
			UserID:   strconv.FormatUint(res.UserID, 10),
			StoryID:  strconv.FormatUint(res.StoryID, 10),
			VectorID: res.VectorID,
		})
	},
}

func runIngest(ctx context.Context, sub matching.Submission) (matching.IngestResult, error) {
	appCtx, cleanup, err := openLocal(ctx)
	if err != nil {
		return matching.IngestResult{}, err
	}
	defer cleanup()
	return appCtx.Pipeline.Ingestor.Ingest(ctx, sub)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-embed stale stories and queue overdue rematches once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		appCtx, cleanup, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		rep, err := appCtx.Pipeline.Sweeper.SweepOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

func printLine(w io.Writer, v ingestStatus) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func init() {
	ingestCmd.Flags().Uint64("user", 0, "user id (required)")
	ingestCmd.Flags().String("text", "", "story text (required)")
	ingestCmd.Flags().String("lang", "en", "BCP-47 language tag")
	_ = ingestCmd.MarkFlagRequired("user")
	_ = ingestCmd.MarkFlagRequired("text")

	rootCmd.AddCommand(ingestCmd, sweepCmd)
}
