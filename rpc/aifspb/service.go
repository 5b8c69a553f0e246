package aifspb

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "aifs.v1.AIFS"

// AIFSServer is the server API of the AIFS service.
type AIFSServer interface {
	PutAsset(stream AIFS_PutAssetServer) error
	GetAsset(req *GetAssetRequest, stream AIFS_GetAssetServer) error
	DeleteAsset(ctx context.Context, req *DeleteAssetRequest) (*Empty, error)
	ListAssets(ctx context.Context, req *ListAssetsRequest) (*ListAssetsResponse, error)
	VectorSearch(ctx context.Context, req *VectorSearchRequest) (*VectorSearchResponse, error)

	BeginTransaction(ctx context.Context, req *Empty) (*TxResponse, error)
	CommitTransaction(ctx context.Context, req *TxRequest) (*TxResponse, error)
	RollbackTransaction(ctx context.Context, req *TxRequest) (*TxResponse, error)

	CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*SnapshotInfo, error)
	GetSnapshot(ctx context.Context, req *GetSnapshotRequest) (*SnapshotInfo, error)
	VerifySnapshot(ctx context.Context, req *VerifySnapshotRequest) (*VerifySnapshotResponse, error)

	CreateBranch(ctx context.Context, req *BranchRequest) (*BranchInfo, error)
	GetBranch(ctx context.Context, req *BranchRequest) (*BranchInfo, error)
	ListBranches(ctx context.Context, req *BranchRequest) (*ListBranchesResponse, error)
	DeleteBranch(ctx context.Context, req *BranchRequest) (*Empty, error)
	BranchHistory(ctx context.Context, req *BranchRequest) (*BranchHistoryResponse, error)

	CreateTag(ctx context.Context, req *TagRequest) (*TagInfo, error)
	GetTag(ctx context.Context, req *TagRequest) (*TagInfo, error)
	ListTags(ctx context.Context, req *TagRequest) (*ListTagsResponse, error)

	RegisterNamespaceKey(ctx context.Context, req *RegisterNamespaceKeyRequest) (*Empty, error)

	ListNamespaces(ctx context.Context, req *Empty) (*ListNamespacesResponse, error)
	Info(ctx context.Context, req *Empty) (*InfoResponse, error)
	SubscribeEvents(req *SubscribeEventsRequest, stream AIFS_SubscribeEventsServer) error
}

// AIFS_PutAssetServer is the server side of the put stream.
type AIFS_PutAssetServer interface {
	SendAndClose(*PutAssetResponse) error
	Recv() (*PutAssetRequest, error)
	grpc.ServerStream
}

type putAssetServer struct{ grpc.ServerStream }

func (s *putAssetServer) SendAndClose(resp *PutAssetResponse) error { return s.SendMsg(resp) }

func (s *putAssetServer) Recv() (*PutAssetRequest, error) {
	req := new(PutAssetRequest)
	if err := s.RecvMsg(req); err != nil {
		return nil, err
	}
	return req, nil
}

// AIFS_GetAssetServer is the server side of the get stream.
type AIFS_GetAssetServer interface {
	Send(*GetAssetResponse) error
	grpc.ServerStream
}

type getAssetServer struct{ grpc.ServerStream }

func (s *getAssetServer) Send(resp *GetAssetResponse) error { return s.SendMsg(resp) }

// AIFS_SubscribeEventsServer is the server side of the event stream.
type AIFS_SubscribeEventsServer interface {
	Send(*EventMessage) error
	grpc.ServerStream
}

type subscribeEventsServer struct{ grpc.ServerStream }

func (s *subscribeEventsServer) Send(ev *EventMessage) error { return s.SendMsg(ev) }

// RegisterAIFSServer registers srv on s.
func RegisterAIFSServer(s grpc.ServiceRegistrar, srv AIFSServer) {
	s.RegisterService(&AIFSServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(srv AIFSServer, ctx context.Context, req *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AIFSServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AIFSServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// AIFSServiceDesc is the grpc.ServiceDesc of the AIFS service.
var AIFSServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AIFSServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DeleteAsset", Handler: unaryHandler("DeleteAsset", func(srv AIFSServer, ctx context.Context, req *DeleteAssetRequest) (*Empty, error) {
			return srv.DeleteAsset(ctx, req)
		})},
		{MethodName: "ListAssets", Handler: unaryHandler("ListAssets", func(srv AIFSServer, ctx context.Context, req *ListAssetsRequest) (*ListAssetsResponse, error) {
			return srv.ListAssets(ctx, req)
		})},
		{MethodName: "VectorSearch", Handler: unaryHandler("VectorSearch", func(srv AIFSServer, ctx context.Context, req *VectorSearchRequest) (*VectorSearchResponse, error) {
			return srv.VectorSearch(ctx, req)
		})},
		{MethodName: "BeginTransaction", Handler: unaryHandler("BeginTransaction", func(srv AIFSServer, ctx context.Context, req *Empty) (*TxResponse, error) {
			return srv.BeginTransaction(ctx, req)
		})},
		{MethodName: "CommitTransaction", Handler: unaryHandler("CommitTransaction", func(srv AIFSServer, ctx context.Context, req *TxRequest) (*TxResponse, error) {
			return srv.CommitTransaction(ctx, req)
		})},
		{MethodName: "RollbackTransaction", Handler: unaryHandler("RollbackTransaction", func(srv AIFSServer, ctx context.Context, req *TxRequest) (*TxResponse, error) {
			return srv.RollbackTransaction(ctx, req)
		})},
		{MethodName: "CreateSnapshot", Handler: unaryHandler("CreateSnapshot", func(srv AIFSServer, ctx context.Context, req *CreateSnapshotRequest) (*SnapshotInfo, error) {
			return srv.CreateSnapshot(ctx, req)
		})},
		{MethodName: "GetSnapshot", Handler: unaryHandler("GetSnapshot", func(srv AIFSServer, ctx context.Context, req *GetSnapshotRequest) (*SnapshotInfo, error) {
			return srv.GetSnapshot(ctx, req)
		})},
		{MethodName: "VerifySnapshot", Handler: unaryHandler("VerifySnapshot", func(srv AIFSServer, ctx context.Context, req *VerifySnapshotRequest) (*VerifySnapshotResponse, error) {
			return srv.VerifySnapshot(ctx, req)
		})},
		{MethodName: "CreateBranch", Handler: unaryHandler("CreateBranch", func(srv AIFSServer, ctx context.Context, req *BranchRequest) (*BranchInfo, error) {
			return srv.CreateBranch(ctx, req)
		})},
		{MethodName: "GetBranch", Handler: unaryHandler("GetBranch", func(srv AIFSServer, ctx context.Context, req *BranchRequest) (*BranchInfo, error) {
			return srv.GetBranch(ctx, req)
		})},
		{MethodName: "ListBranches", Handler: unaryHandler("ListBranches", func(srv AIFSServer, ctx context.Context, req *BranchRequest) (*ListBranchesResponse, error) {
			return srv.ListBranches(ctx, req)
		})},
		{MethodName: "DeleteBranch", Handler: unaryHandler("DeleteBranch", func(srv AIFSServer, ctx context.Context, req *BranchRequest) (*Empty, error) {
			return srv.DeleteBranch(ctx, req)
		})},
		{MethodName: "BranchHistory", Handler: unaryHandler("BranchHistory", func(srv AIFSServer, ctx context.Context, req *BranchRequest) (*BranchHistoryResponse, error) {
			return srv.BranchHistory(ctx, req)
		})},
		{MethodName: "CreateTag", Handler: unaryHandler("CreateTag", func(srv AIFSServer, ctx context.Context, req *TagRequest) (*TagInfo, error) {
			return srv.CreateTag(ctx, req)
		})},
		{MethodName: "GetTag", Handler: unaryHandler("GetTag", func(srv AIFSServer, ctx context.Context, req *TagRequest) (*TagInfo, error) {
			return srv.GetTag(ctx, req)
		})},
		{MethodName: "ListTags", Handler: unaryHandler("ListTags", func(srv AIFSServer, ctx context.Context, req *TagRequest) (*ListTagsResponse, error) {
			return srv.ListTags(ctx, req)
		})},
		{MethodName: "RegisterNamespaceKey", Handler: unaryHandler("RegisterNamespaceKey", func(srv AIFSServer, ctx context.Context, req *RegisterNamespaceKeyRequest) (*Empty, error) {
			return srv.RegisterNamespaceKey(ctx, req)
		})},
		{MethodName: "ListNamespaces", Handler: unaryHandler("ListNamespaces", func(srv AIFSServer, ctx context.Context, req *Empty) (*ListNamespacesResponse, error) {
			return srv.ListNamespaces(ctx, req)
		})},
		{MethodName: "Info", Handler: unaryHandler("Info", func(srv AIFSServer, ctx context.Context, req *Empty) (*InfoResponse, error) {
			return srv.Info(ctx, req)
		})},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "PutAsset",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(AIFSServer).PutAsset(&putAssetServer{stream})
			},
			ClientStreams: true,
		},
		{
			StreamName: "GetAsset",
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(GetAssetRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(AIFSServer).GetAsset(req, &getAssetServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "SubscribeEvents",
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(SubscribeEventsRequest)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(AIFSServer).SubscribeEvents(req, &subscribeEventsServer{stream})
			},
			ServerStreams: true,
		},
	},
	Metadata: "aifs/v1/aifs.proto",
}
