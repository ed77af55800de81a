package matching

// Message types for storymatch.v1.MatchingService. Field names follow
// matching.proto; ids travel as decimal strings.

type SubmitStoryRequest struct {
	UserId   string `json:"user_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

func (x *SubmitStoryRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *SubmitStoryRequest) GetText() string {
	if x != nil {
		return x.Text
	}
	return ""
}

func (x *SubmitStoryRequest) GetLanguage() string {
	if x != nil {
		return x.Language
	}
	return ""
}

type SubmitStoryResponse struct {
	UserId      string `json:"user_id,omitempty"`
	StoryId     string `json:"story_id,omitempty"`
	VectorId    string `json:"vector_id,omitempty"`
	TextHash    string `json:"text_hash,omitempty"`
	Model       string `json:"model,omitempty"`
	Dimension   int32  `json:"dimension,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Unchanged   bool   `json:"unchanged,omitempty"`
	Invalidated int64  `json:"invalidated,omitempty"`
	Enqueued    bool   `json:"enqueued,omitempty"`
}

type DeleteStoryRequest struct {
	UserId string `json:"user_id,omitempty"`
}

func (x *DeleteStoryRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type DeleteStoryResponse struct {
	HiddenMatches int64 `json:"hidden_matches,omitempty"`
}

type RunMatchingRequest struct {
	UserId string `json:"user_id,omitempty"`
	TopK   int32  `json:"top_k,omitempty"`
}

func (x *RunMatchingRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *RunMatchingRequest) GetTopK() int32 {
	if x != nil {
		return x.TopK
	}
	return 0
}

type RunMatchingResponse struct {
	UserId     string                           `json:"user_id,omitempty"`
	Generation string                           `json:"generation,omitempty"`
	Source     string                           `json:"source,omitempty"`
	Candidates []*RunMatchingResponse_Candidate `json:"candidates,omitempty"`
	Hidden     []*RunMatchingResponse_Hidden    `json:"hidden,omitempty"`
	Stats      *RunMatchingResponse_Stats       `json:"stats,omitempty"`
}

type RunMatchingResponse_Candidate struct {
	CandidateUserId string  `json:"candidate_user_id,omitempty"`
	Score           float64 `json:"score"`
	RawScore        float64 `json:"raw_score"`
}

type RunMatchingResponse_Hidden struct {
	CandidateUserId string `json:"candidate_user_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type RunMatchingResponse_Stats struct {
	Input      int32 `json:"input"`
	Duplicates int32 `json:"duplicates"`
	Self       int32 `json:"self"`
	Blocked    int32 `json:"blocked"`
	Inactive   int32 `json:"inactive"`
	Friends    int32 `json:"friends"`
	Dismissed  int32 `json:"dismissed"`
	Truncated  int32 `json:"truncated"`
	Output     int32 `json:"output"`
}

type ListMatchesRequest struct {
	UserId          string  `json:"user_id,omitempty"`
	PageSize        int32   `json:"page_size,omitempty"`
	PaginationToken *string `json:"pagination_token,omitempty"`
}

func (x *ListMatchesRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *ListMatchesRequest) GetPageSize() int32 {
	if x != nil {
		return x.PageSize
	}
	return 0
}

func (x *ListMatchesRequest) GetPaginationToken() string {
	if x != nil && x.PaginationToken != nil {
		return *x.PaginationToken
	}
	return ""
}

type ListMatchesResponse struct {
	Matches             []*ListMatchesResponse_Match `json:"matches,omitempty"`
	NextPaginationToken *string                      `json:"next_pagination_token,omitempty"`
}

func (x *ListMatchesResponse) GetNextPaginationToken() string {
	if x != nil && x.NextPaginationToken != nil {
		return *x.NextPaginationToken
	}
	return ""
}

type ListMatchesResponse_Match struct {
	CandidateUserId string  `json:"candidate_user_id,omitempty"`
	Score           float64 `json:"score"`
	Source          string  `json:"source,omitempty"`
	UnixTimestamp   uint64  `json:"unix_timestamp,omitempty"`
}

type DismissMatchRequest struct {
	UserId          string `json:"user_id,omitempty"`
	CandidateUserId string `json:"candidate_user_id,omitempty"`
}

func (x *DismissMatchRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *DismissMatchRequest) GetCandidateUserId() string {
	if x != nil {
		return x.CandidateUserId
	}
	return ""
}

type DismissMatchResponse struct{}

type ResetDismissalsRequest struct {
	UserId string `json:"user_id,omitempty"`
}

func (x *ResetDismissalsRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type ResetDismissalsResponse struct {
	Reset int64 `json:"reset,omitempty"`
}

type NotifyFriendshipChangedRequest struct {
	UserA string `json:"user_a,omitempty"`
	UserB string `json:"user_b,omitempty"`
}

func (x *NotifyFriendshipChangedRequest) GetUserA() string {
	if x != nil {
		return x.UserA
	}
	return ""
}

func (x *NotifyFriendshipChangedRequest) GetUserB() string {
	if x != nil {
		return x.UserB
	}
	return ""
}

type NotifyFriendshipChangedResponse struct {
	HiddenMatches int64 `json:"hidden_matches,omitempty"`
}

type NotifyUserBlockedRequest struct {
	UserId string `json:"user_id,omitempty"`
}

func (x *NotifyUserBlockedRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type NotifyUserBlockedResponse struct {
	HiddenMatches int64 `json:"hidden_matches,omitempty"`
}
