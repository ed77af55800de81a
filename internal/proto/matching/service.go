package matching

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "storymatch.v1.MatchingService"

const (
	MatchingService_SubmitStory_FullMethodName             = "/" + ServiceName + "/SubmitStory"
	MatchingService_DeleteStory_FullMethodName             = "/" + ServiceName + "/DeleteStory"
	MatchingService_RunMatching_FullMethodName             = "/" + ServiceName + "/RunMatching"
	MatchingService_ListMatches_FullMethodName             = "/" + ServiceName + "/ListMatches"
	MatchingService_DismissMatch_FullMethodName            = "/" + ServiceName + "/DismissMatch"
	MatchingService_ResetDismissals_FullMethodName         = "/" + ServiceName + "/ResetDismissals"
	MatchingService_NotifyFriendshipChanged_FullMethodName = "/" + ServiceName + "/NotifyFriendshipChanged"
	MatchingService_NotifyUserBlocked_FullMethodName       = "/" + ServiceName + "/NotifyUserBlocked"
)

// MatchingServiceServer is the server API for MatchingService.
type MatchingServiceServer interface {
	SubmitStory(context.Context, *SubmitStoryRequest) (*SubmitStoryResponse, error)
	DeleteStory(context.Context, *DeleteStoryRequest) (*DeleteStoryResponse, error)
	RunMatching(context.Context, *RunMatchingRequest) (*RunMatchingResponse, error)
	ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error)
	DismissMatch(context.Context, *DismissMatchRequest) (*DismissMatchResponse, error)
	ResetDismissals(context.Context, *ResetDismissalsRequest) (*ResetDismissalsResponse, error)
	NotifyFriendshipChanged(context.Context, *NotifyFriendshipChangedRequest) (*NotifyFriendshipChangedResponse, error)
	NotifyUserBlocked(context.Context, *NotifyUserBlockedRequest) (*NotifyUserBlockedResponse, error)
}

// UnimplementedMatchingServiceServer can be embedded for forward
// compatibility.
type UnimplementedMatchingServiceServer struct{}

func (UnimplementedMatchingServiceServer) SubmitStory(context.Context, *SubmitStoryRequest) (*SubmitStoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitStory not implemented")
}
func (UnimplementedMatchingServiceServer) DeleteStory(context.Context, *DeleteStoryRequest) (*DeleteStoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteStory not implemented")
}
func (UnimplementedMatchingServiceServer) RunMatching(context.Context, *RunMatchingRequest) (*RunMatchingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RunMatching not implemented")
}
func (UnimplementedMatchingServiceServer) ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListMatches not implemented")
}
func (UnimplementedMatchingServiceServer) DismissMatch(context.Context, *DismissMatchRequest) (*DismissMatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DismissMatch not implemented")
}
func (UnimplementedMatchingServiceServer) ResetDismissals(context.Context, *ResetDismissalsRequest) (*ResetDismissalsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ResetDismissals not implemented")
}
func (UnimplementedMatchingServiceServer) NotifyFriendshipChanged(context.Context, *NotifyFriendshipChangedRequest) (*NotifyFriendshipChangedResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method NotifyFriendshipChanged not implemented")
}
func (UnimplementedMatchingServiceServer) NotifyUserBlocked(context.Context, *NotifyUserBlockedRequest) (*NotifyUserBlockedResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method NotifyUserBlocked not implemented")
}

// RegisterMatchingServiceServer attaches srv to s.
func RegisterMatchingServiceServer(s grpc.ServiceRegistrar, srv MatchingServiceServer) {
	s.RegisterService(&MatchingService_ServiceDesc, srv)
}

// unary builds a MethodHandler that decodes Req and dispatches to call,
// going through the server interceptor when one is installed.
func unary[Req any, Resp any](
	fullMethod string,
	call func(MatchingServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MatchingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MatchingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MatchingService_ServiceDesc is the grpc.ServiceDesc for MatchingService.
var MatchingService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitStory",
			Handler:    unary(MatchingService_SubmitStory_FullMethodName, MatchingServiceServer.SubmitStory),
		},
		{
			MethodName: "DeleteStory",
			Handler:    unary(MatchingService_DeleteStory_FullMethodName, MatchingServiceServer.DeleteStory),
		},
		{
			MethodName: "RunMatching",
			Handler:    unary(MatchingService_RunMatching_FullMethodName, MatchingServiceServer.RunMatching),
		},
		{
			MethodName: "ListMatches",
			Handler:    unary(MatchingService_ListMatches_FullMethodName, MatchingServiceServer.ListMatches),
		},
		{
			MethodName: "DismissMatch",
			Handler:    unary(MatchingService_DismissMatch_FullMethodName, MatchingServiceServer.DismissMatch),
		},
		{
			MethodName: "ResetDismissals",
			Handler:    unary(MatchingService_ResetDismissals_FullMethodName, MatchingServiceServer.ResetDismissals),
		},
		{
			MethodName: "NotifyFriendshipChanged",
			Handler:    unary(MatchingService_NotifyFriendshipChanged_FullMethodName, MatchingServiceServer.NotifyFriendshipChanged),
		},
		{
			MethodName: "NotifyUserBlocked",
			Handler:    unary(MatchingService_NotifyUserBlocked_FullMethodName, MatchingServiceServer.NotifyUserBlocked),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "matching.proto",
}

// MatchingServiceClient is the client API for MatchingService. Calls use
// the JSON codec.
type MatchingServiceClient interface {
	SubmitStory(ctx context.Context, in *SubmitStoryRequest, opts ...grpc.CallOption) (*SubmitStoryResponse, error)
	DeleteStory(ctx context.Context, in *DeleteStoryRequest, opts ...grpc.CallOption) (*DeleteStoryResponse, error)
	RunMatching(ctx context.Context, in *RunMatchingRequest, opts ...grpc.CallOption) (*RunMatchingResponse, error)
	ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error)
	DismissMatch(ctx context.Context, in *DismissMatchRequest, opts ...grpc.CallOption) (*DismissMatchResponse, error)
	ResetDismissals(ctx context.Context, in *ResetDismissalsRequest, opts ...grpc.CallOption) (*ResetDismissalsResponse, error)
	NotifyFriendshipChanged(ctx context.Context, in *NotifyFriendshipChangedRequest, opts ...grpc.CallOption) (*NotifyFriendshipChangedResponse, error)
	NotifyUserBlocked(ctx context.Context, in *NotifyUserBlockedRequest, opts ...grpc.CallOption) (*NotifyUserBlockedResponse, error)
}

type matchingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMatchingServiceClient(cc grpc.ClientConnInterface) MatchingServiceClient {
	return &matchingServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *matchingServiceClient) SubmitStory(ctx context.Context, in *SubmitStoryRequest, opts ...grpc.CallOption) (*SubmitStoryResponse, error) {
	return invoke[SubmitStoryResponse](ctx, c.cc, MatchingService_SubmitStory_FullMethodName, in, opts)
}

func (c *matchingServiceClient) DeleteStory(ctx context.Context, in *DeleteStoryRequest, opts ...grpc.CallOption) (*DeleteStoryResponse, error) {
	return invoke[DeleteStoryResponse](ctx, c.cc, MatchingService_DeleteStory_FullMethodName, in, opts)
}

func (c *matchingServiceClient) RunMatching(ctx context.Context, in *RunMatchingRequest, opts ...grpc.CallOption) (*RunMatchingResponse, error) {
	return invoke[RunMatchingResponse](ctx, c.cc, MatchingService_RunMatching_FullMethodName, in, opts)
}

func (c *matchingServiceClient) ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error) {
	return invoke[ListMatchesResponse](ctx, c.cc, MatchingService_ListMatches_FullMethodName, in, opts)
}

func (c *matchingServiceClient) DismissMatch(ctx context.Context, in *DismissMatchRequest, opts ...grpc.CallOption) (*DismissMatchResponse, error) {
	return invoke[DismissMatchResponse](ctx, c.cc, MatchingService_DismissMatch_FullMethodName, in, opts)
}

func (c *matchingServiceClient) ResetDismissals(ctx context.Context, in *ResetDismissalsRequest, opts ...grpc.CallOption) (*ResetDismissalsResponse, error) {
	return invoke[ResetDismissalsResponse](ctx, c.cc, MatchingService_ResetDismissals_FullMethodName, in, opts)
}

func (c *matchingServiceClient) NotifyFriendshipChanged(ctx context.Context, in *NotifyFriendshipChangedRequest, opts ...grpc.CallOption) (*NotifyFriendshipChangedResponse, error) {
	return invoke[NotifyFriendshipChangedResponse](ctx, c.cc, MatchingService_NotifyFriendshipChanged_FullMethodName, in, opts)
}

func (c *matchingServiceClient) NotifyUserBlocked(ctx context.Context, in *NotifyUserBlockedRequest, opts ...grpc.CallOption) (*NotifyUserBlockedResponse, error) {
	return invoke[NotifyUserBlockedResponse](ctx, c.cc, MatchingService_NotifyUserBlocked_FullMethodName, in, opts)
}
