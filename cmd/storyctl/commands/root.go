package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oggyb/storymatch/internal/config"
	pb "github.com/oggyb/storymatch/internal/proto/matching"
)

var (
	// Global flags
	serverAddr string
	timeout    time.Duration

	// Loaded from the environment before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "Operate the storymatch embedding and matching pipeline",
	Long: `storyctl - command line interface for storymatch.

Remote commands call the MatchingService of a running server:
  submit, delete, match, list, dismiss, reset, notify-friendship, notify-blocked

Local commands run the pipeline in-process with the server's configuration
(DB, Redis, embedding provider, vector index from the environment / .env):
  ingest, sweep

Exit codes:
  0 success, 2 invalid argument, 3 busy, 4 not ready,
  5 upstream unavailable, 1 anything else

Examples:
  storyctl submit 42 "I love hiking and photography"
  storyctl match 42 --top-k 20
  storyctl list 42 --page-size 10
  storyctl ingest --user 42 --text "I love hiking" --lang en`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT/SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(func() { cfg = config.New() })

	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "server address (default GRPC_HOST:GRPC_PORT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-command deadline")
}

// dial opens a client connection to the server. The caller closes it.
func dial() (pb.MatchingServiceClient, io.Closer, error) {
	addr := serverAddr
	if addr == "" {
		addr = net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return pb.NewMatchingServiceClient(conn), conn, nil
}

// remote runs fn against the server and prints its response as JSON.
func remote[Resp any](cmd *cobra.Command, fn func(context.Context, pb.MatchingServiceClient) (*Resp, error)) error {
	client, conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
