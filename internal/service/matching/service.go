package matching

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/oggyb/storymatch/internal/app"
	svcErr "github.com/oggyb/storymatch/internal/errors"
	"github.com/oggyb/storymatch/internal/logger"
	"github.com/oggyb/storymatch/internal/matching"
	pb "github.com/oggyb/storymatch/internal/proto/matching"
)

// Service implements the Matching gRPC API.
// It is a thin transport layer over the matching pipeline: parse ids,
// call the pipeline, map errors to status codes.
type Service struct {
	appCtx   *app.AppContext
	pipeline *matching.Pipeline

	pb.UnimplementedMatchingServiceServer
}

// NewMatchingService creates a new Matching service with dependencies from AppContext.
func NewMatchingService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		pipeline: appCtx.Pipeline,
	}
}

// log prefers the per-call logger set by the server interceptor.
func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.appCtx.Logger)
}

func parseID(field, v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, svcErr.InvalidArgument(field + " must be a positive uint64")
	}
	return id, nil
}

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

// SubmitStory handles a "story updated" event.
//
// Behavior:
//   - Normalizes text and language, embeds, upserts the user's vector.
//   - Unchanged text with a current embedding skips the provider.
//   - Another ingestion for the same user in flight → Aborted.
//   - Provider/index failures keep the text (marked stale for the sweeper)
//     and return Unavailable or Internal.
//
// Example:
//
//	svc.SubmitStory(ctx, &pb.SubmitStoryRequest{UserId: "42", Text: "I love hiking"})
func (s *Service) SubmitStory(ctx context.Context, req *pb.SubmitStoryRequest) (*pb.SubmitStoryResponse, error) {
	s.log(ctx).Debug("SubmitStory called", "user", req.GetUserId(), "language", req.GetLanguage(), "chars", len(req.GetText()))

	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Ingestor.Ingest(ctx, matching.Submission{
		UserID:   userID,
		Text:     req.GetText(),
		Language: req.GetLanguage(),
	})
	if err != nil {
		s.log(ctx).Warn("SubmitStory failed", "user", userID, "err", err)
		return nil, svcErr.Map(err)
	}

	return &pb.SubmitStoryResponse{
		UserId:      formatID(res.UserID),
		StoryId:     formatID(res.StoryID),
		VectorId:    res.VectorID,
		TextHash:    res.TextHash,
		Model:       res.Model,
		Dimension:   int32(res.Dimension),
		Truncated:   res.Truncated,
		Unchanged:   res.Unchanged,
		Invalidated: res.Invalidated,
		Enqueued:    res.Enqueued,
	}, nil
}

// DeleteStory removes the user's story and vector and hides their matches.
func (s *Service) DeleteStory(ctx context.Context, req *pb.DeleteStoryRequest) (*pb.DeleteStoryResponse, error) {
	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	hidden, err := s.pipeline.Ingestor.DeleteStory(ctx, userID)
	if err != nil {
		s.log(ctx).Warn("DeleteStory failed", "user", userID, "err", err)
		return nil, svcErr.Map(err)
	}
	return &pb.DeleteStoryResponse{HiddenMatches: hidden}, nil
}

// RunMatching runs a synchronous matching pass for one user and returns the
// ranked suggestions it persisted.
//
// Behavior:
//   - top_k 0 uses MATCH_DEFAULT_TOP_K; outside [1, 200] → InvalidArgument.
//   - No current embedding → FailedPrecondition.
//   - A run already in progress for the user → Aborted.
func (s *Service) RunMatching(ctx context.Context, req *pb.RunMatchingRequest) (*pb.RunMatchingResponse, error) {
	s.log(ctx).Debug("RunMatching called", "user", req.GetUserId(), "top_k", req.GetTopK())

	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Lifecycle.Run(ctx, userID, int(req.GetTopK()))
	if err != nil {
		s.log(ctx).Warn("RunMatching failed", "user", userID, "err", err)
		return nil, svcErr.Map(err)
	}

	resp := &pb.RunMatchingResponse{
		UserId:     formatID(res.UserID),
		Generation: res.Generation,
		Source:     res.Source,
		Stats: &pb.RunMatchingResponse_Stats{
			Input:      int32(res.Stats.Input),
			Duplicates: int32(res.Stats.Duplicates),
			Self:       int32(res.Stats.Self),
			Blocked:    int32(res.Stats.Blocked),
			Inactive:   int32(res.Stats.Inactive),
			Friends:    int32(res.Stats.Friends),
			Dismissed:  int32(res.Stats.Dismissed),
			Truncated:  int32(res.Stats.Truncated),
			Output:     int32(res.Stats.Output),
		},
	}
	for _, r := range res.Suggested {
		resp.Candidates = append(resp.Candidates, &pb.RunMatchingResponse_Candidate{
			CandidateUserId: formatID(r.UserID),
			Score:           r.Score,
			RawScore:        r.RawScore,
		})
	}

	// map iteration order is random; keep the response stable
	hiddenIDs := make([]uint64, 0, len(res.Hidden))
	for id := range res.Hidden {
		hiddenIDs = append(hiddenIDs, id)
	}
	sort.Slice(hiddenIDs, func(i, j int) bool { return hiddenIDs[i] < hiddenIDs[j] })
	for _, id := range hiddenIDs {
		resp.Hidden = append(resp.Hidden, &pb.RunMatchingResponse_Hidden{
			CandidateUserId: formatID(id),
			Reason:          string(res.Hidden[id]),
		})
	}

	s.log(ctx).Debug("RunMatching result", "user", userID, "suggested", len(resp.Candidates), "hidden", len(resp.Hidden))

	return resp, nil
}

// ListMatches returns the user's current suggestions, best first.
// Supports cursor-based pagination with pagination_token.
func (s *Service) ListMatches(ctx context.Context, req *pb.ListMatchesRequest) (*pb.ListMatchesResponse, error) {
	s.log(ctx).Debug("ListMatches called", "user", req.GetUserId(), "token", req.GetPaginationToken())

	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	matches, nextToken, err := s.pipeline.Lifecycle.List(ctx, userID, req.PaginationToken, int(req.GetPageSize()))
	if err != nil {
		s.log(ctx).Error("ListMatches failed", "user", userID, "err", err)
		return nil, svcErr.Map(err)
	}

	resp := &pb.ListMatchesResponse{}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, &pb.ListMatchesResponse_Match{
			CandidateUserId: formatID(m.CandidateUserID),
			Score:           m.Score,
			Source:          m.Source,
			UnixTimestamp:   uint64(m.UpdatedAt.UnixMilli()),
		})
	}
	if nextToken != nil {
		resp.NextPaginationToken = nextToken
	}
	return resp, nil
}

// DismissMatch hides a suggestion; later runs will not bring it back.
func (s *Service) DismissMatch(ctx context.Context, req *pb.DismissMatchRequest) (*pb.DismissMatchResponse, error) {
	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}
	candidateID, err := parseID("candidate_user_id", req.GetCandidateUserId())
	if err != nil {
		return nil, err
	}

	if err := s.pipeline.Lifecycle.Dismiss(ctx, userID, candidateID); err != nil {
		return nil, svcErr.Map(err)
	}
	return &pb.DismissMatchResponse{}, nil
}

// ResetDismissals makes dismissed candidates eligible again and queues a
// rematch when anything changed.
func (s *Service) ResetDismissals(ctx context.Context, req *pb.ResetDismissalsRequest) (*pb.ResetDismissalsResponse, error) {
	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	n, err := s.pipeline.Lifecycle.ResetDismissals(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &pb.ResetDismissalsResponse{Reset: n}, nil
}

// NotifyFriendshipChanged is called by the social graph after a
// friendship row between the two users changed.
func (s *Service) NotifyFriendshipChanged(ctx context.Context, req *pb.NotifyFriendshipChangedRequest) (*pb.NotifyFriendshipChangedResponse, error) {
	a, err := parseID("user_a", req.GetUserA())
	if err != nil {
		return nil, err
	}
	b, err := parseID("user_b", req.GetUserB())
	if err != nil {
		return nil, err
	}

	n, err := s.pipeline.Lifecycle.OnFriendshipChanged(ctx, a, b)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &pb.NotifyFriendshipChangedResponse{HiddenMatches: n}, nil
}

// NotifyUserBlocked is called after a user was moderation-blocked or
// deactivated.
func (s *Service) NotifyUserBlocked(ctx context.Context, req *pb.NotifyUserBlockedRequest) (*pb.NotifyUserBlockedResponse, error) {
	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	n, err := s.pipeline.Lifecycle.OnUserBlocked(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &pb.NotifyUserBlockedResponse{HiddenMatches: n}, nil
}
