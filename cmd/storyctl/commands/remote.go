package commands

import (
	"context"

	"github.com/spf13/cobra"

	pb "github.com/oggyb/storymatch/internal/proto/matching"
)

var submitCmd = &cobra.Command{
	Use:   "submit <user-id> <text>",
	Short: "Submit a story update to the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("lang")
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.SubmitStoryResponse, error) {
			return c.SubmitStory(ctx, &pb.SubmitStoryRequest{UserId: args[0], Text: args[1], Language: lang})
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete a user's story and vector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.DeleteStoryResponse, error) {
			return c.DeleteStory(ctx, &pb.DeleteStoryRequest{UserId: args[0]})
		})
	},
}

var matchCmd = &cobra.Command{
	Use:   "match <user-id>",
	Short: "Run matching for a user now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt32("top-k")
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.RunMatchingResponse, error) {
			return c.RunMatching(ctx, &pb.RunMatchingRequest{UserId: args[0], TopK: topK})
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's current suggestions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt32("page-size")
		token, _ := cmd.Flags().GetString("token")
		req := &pb.ListMatchesRequest{UserId: args[0], PageSize: size}
		if token != "" {
			req.PaginationToken = &token
		}
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.ListMatchesResponse, error) {
			return c.ListMatches(ctx, req)
		})
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <user-id> <candidate-user-id>",
	Short: "Dismiss a suggestion",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.DismissMatchResponse, error) {
			return c.DismissMatch(ctx, &pb.DismissMatchRequest{UserId: args[0], CandidateUserId: args[1]})
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Make a user's dismissed candidates eligible again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.ResetDismissalsResponse, error) {
			return c.ResetDismissals(ctx, &pb.ResetDismissalsRequest{UserId: args[0]})
		})
	},
}

var notifyFriendshipCmd = &cobra.Command{
	Use:   "notify-friendship <user-a> <user-b>",
	Short: "Tell the server a friendship between two users changed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.NotifyFriendshipChangedResponse, error) {
			return c.NotifyFriendshipChanged(ctx, &pb.NotifyFriendshipChangedRequest{UserA: args[0], UserB: args[1]})
		})
	},
}

var notifyBlockedCmd = &cobra.Command{
	Use:   "notify-blocked <user-id>",
	Short: "Tell the server a user was blocked or deactivated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, c pb.MatchingServiceClient) (*pb.NotifyUserBlockedResponse, error) {
			return c.NotifyUserBlocked(ctx, &pb.NotifyUserBlockedRequest{UserId: args[0]})
		})
	},
}

func init() {
	submitCmd.Flags().String("lang", "", "BCP-47 language tag (default en)")
	matchCmd.Flags().Int32("top-k", 0, "number of suggestions (0 = server default)")
	listCmd.Flags().Int32("page-size", 20, "suggestions per page")
	listCmd.Flags().String("token", "", "pagination token from a previous page")

	rootCmd.AddCommand(
		submitCmd,
		deleteCmd,
		matchCmd,
		listCmd,
		dismissCmd,
		resetCmd,
		notifyFriendshipCmd,
		notifyBlockedCmd,
	)
}
