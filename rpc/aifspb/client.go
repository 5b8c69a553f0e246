package aifspb

import (
	"context"

	"google.golang.org/grpc"
)

// AIFSClient is the client API of the AIFS service.
type AIFSClient interface {
	PutAsset(ctx context.Context, opts ...grpc.CallOption) (AIFS_PutAssetClient, error)
	GetAsset(ctx context.Context, req *GetAssetRequest, opts ...grpc.CallOption) (AIFS_GetAssetClient, error)
	DeleteAsset(ctx context.Context, req *DeleteAssetRequest, opts ...grpc.CallOption) (*Empty, error)
	ListAssets(ctx context.Context, req *ListAssetsRequest, opts ...grpc.CallOption) (*ListAssetsResponse, error)
	VectorSearch(ctx context.Context, req *VectorSearchRequest, opts ...grpc.CallOption) (*VectorSearchResponse, error)

	BeginTransaction(ctx context.Context, req *Empty, opts ...grpc.CallOption) (*TxResponse, error)
	CommitTransaction(ctx context.Context, req *TxRequest, opts ...grpc.CallOption) (*TxResponse, error)
	RollbackTransaction(ctx context.Context, req *TxRequest, opts ...grpc.CallOption) (*TxResponse, error)

	CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest, opts ...grpc.CallOption) (*SnapshotInfo, error)
	GetSnapshot(ctx context.Context, req *GetSnapshotRequest, opts ...grpc.CallOption) (*SnapshotInfo, error)
	VerifySnapshot(ctx context.Context, req *VerifySnapshotRequest, opts ...grpc.CallOption) (*VerifySnapshotResponse, error)

	CreateBranch(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*BranchInfo, error)
	GetBranch(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*BranchInfo, error)
	ListBranches(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*ListBranchesResponse, error)
	DeleteBranch(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*Empty, error)
	BranchHistory(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*BranchHistoryResponse, error)

	CreateTag(ctx context.Context, req *TagRequest, opts ...grpc.CallOption) (*TagInfo, error)
	GetTag(ctx context.Context, req *TagRequest, opts ...grpc.CallOption) (*TagInfo, error)
	ListTags(ctx context.Context, req *TagRequest, opts ...grpc.CallOption) (*ListTagsResponse, error)

	RegisterNamespaceKey(ctx context.Context, req *RegisterNamespaceKeyRequest, opts ...grpc.CallOption) (*Empty, error)

	ListNamespaces(ctx context.Context, req *Empty, opts ...grpc.CallOption) (*ListNamespacesResponse, error)
	Info(ctx context.Context, req *Empty, opts ...grpc.CallOption) (*InfoResponse, error)
	SubscribeEvents(ctx context.Context, req *SubscribeEventsRequest, opts ...grpc.CallOption) (AIFS_SubscribeEventsClient, error)
}

type aifsClient struct {
	cc grpc.ClientConnInterface
}

// NewAIFSClient returns a client for the AIFS service. The connection
// must use the aifs wire codec (see the rpc package).
func NewAIFSClient(cc grpc.ClientConnInterface) AIFSClient {
	return &aifsClient{cc: cc}
}

func method(name string) string { return "/" + ServiceName + "/" + name }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, req Message, opts []grpc.CallOption) (*Resp, error) {
	resp := new(Resp)
	if err := cc.Invoke(ctx, method(name), req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// AIFS_PutAssetClient is the client side of the put stream.
type AIFS_PutAssetClient interface {
	Send(*PutAssetRequest) error
	CloseAndRecv() (*PutAssetResponse, error)
	grpc.ClientStream
}

type putAssetClient struct{ grpc.ClientStream }

func (c *putAssetClient) Send(req *PutAssetRequest) error { return c.SendMsg(req) }

func (c *putAssetClient) CloseAndRecv() (*PutAssetResponse, error) {
	if err := c.CloseSend(); err != nil {
		return nil, err
	}
	resp := new(PutAssetResponse)
	if err := c.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AIFS_GetAssetClient is the client side of the get stream.
type AIFS_GetAssetClient interface {
	Recv() (*GetAssetResponse, error)
	grpc.ClientStream
}

type getAssetClient struct{ grpc.ClientStream }

func (c *getAssetClient) Recv() (*GetAssetResponse, error) {
	resp := new(GetAssetResponse)
	if err := c.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AIFS_SubscribeEventsClient is the client side of the event stream.
type AIFS_SubscribeEventsClient interface {
	Recv() (*EventMessage, error)
	grpc.ClientStream
}

type subscribeEventsClient struct{ grpc.ClientStream }

func (c *subscribeEventsClient) Recv() (*EventMessage, error) {
	ev := new(EventMessage)
	if err := c.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *aifsClient) PutAsset(ctx context.Context, opts ...grpc.CallOption) (AIFS_PutAssetClient, error) {
	stream, err := c.cc.NewStream(ctx, &AIFSServiceDesc.Streams[0], method("PutAsset"), opts...)
	if err != nil {
		return nil, err
	}
	return &putAssetClient{stream}, nil
}

func (c *aifsClient) GetAsset(ctx context.Context, req *GetAssetRequest, opts ...grpc.CallOption) (AIFS_GetAssetClient, error) {
	stream, err := c.cc.NewStream(ctx, &AIFSServiceDesc.Streams[1], method("GetAsset"), opts...)
	if err != nil {
		return nil, err
	}
	cs := &getAssetClient{stream}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (c *aifsClient) SubscribeEvents(ctx context.Context, req *SubscribeEventsRequest, opts ...grpc.CallOption) (AIFS_SubscribeEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &AIFSServiceDesc.Streams[2], method("SubscribeEvents"), opts...)
	if err != nil {
		return nil, err
	}
	cs := &subscribeEventsClient{stream}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (c *aifsClient) DeleteAsset(ctx context.Context, req *DeleteAssetRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "DeleteAsset", req, opts)
}

func (c *aifsClient) ListAssets(ctx context.Context, req *ListAssetsRequest, opts ...grpc.CallOption) (*ListAssetsResponse, error) {
	return invoke[ListAssetsResponse](ctx, c.cc, "ListAssets", req, opts)
}

func (c *aifsClient) VectorSearch(ctx context.Context, req *VectorSearchRequest, opts ...grpc.CallOption) (*VectorSearchResponse, error) {
	return invoke[VectorSearchResponse](ctx, c.cc, "VectorSearch", req, opts)
}

func (c *aifsClient) BeginTransaction(ctx context.Context, req *Empty, opts ...grpc.CallOption) (*TxResponse, error) {
	return invoke[TxResponse](ctx, c.cc, "BeginTransaction", req, opts)
}

func (c *aifsClient) CommitTransaction(ctx context.Context, req *TxRequest, opts ...grpc.CallOption) (*TxResponse, error) {
	return invoke[TxResponse](ctx, c.cc, "CommitTransaction", req, opts)
}

func (c *aifsClient) RollbackTransaction(ctx context.Context, req *TxRequest, opts ...grpc.CallOption) (*TxResponse, error) {
	return invoke[TxResponse](ctx, c.cc, "RollbackTransaction", req, opts)
}

func (c *aifsClient) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest, opts ...grpc.CallOption) (*SnapshotInfo, error) {
	return invoke[SnapshotInfo](ctx, c.cc, "CreateSnapshot", req, opts)
}

func (c *aifsClient) GetSnapshot(ctx context.Context, req *GetSnapshotRequest, opts ...grpc.CallOption) (*SnapshotInfo, error) {
	return invoke[SnapshotInfo](ctx, c.cc, "GetSnapshot", req, opts)
}

func (c *aifsClient) VerifySnapshot(ctx context.Context, req *VerifySnapshotRequest, opts ...grpc.CallOption) (*VerifySnapshotResponse, error) {
	return invoke[VerifySnapshotResponse](ctx, c.cc, "VerifySnapshot", req, opts)
}

func (c *aifsClient) CreateBranch(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*BranchInfo, error) {
	return invoke[BranchInfo](ctx, c.cc, "CreateBranch", req, opts)
}

func (c *aifsClient) GetBranch(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*BranchInfo, error) {
	return invoke[BranchInfo](ctx, c.cc, "GetBranch", req, opts)
}

func (c *aifsClient) ListBranches(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*ListBranchesResponse, error) {
	return invoke[ListBranchesResponse](ctx, c.cc, "ListBranches", req, opts)
}

func (c *aifsClient) DeleteBranch(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "DeleteBranch", req, opts)
}

func (c *aifsClient) BranchHistory(ctx context.Context, req *BranchRequest, opts ...grpc.CallOption) (*BranchHistoryResponse, error) {
	return invoke[BranchHistoryResponse](ctx, c.cc, "BranchHistory", req, opts)
}

func (c *aifsClient) CreateTag(ctx context.Context, req *TagRequest, opts ...grpc.CallOption) (*TagInfo, error) {
	return invoke[TagInfo](ctx, c.cc, "CreateTag", req, opts)
}

func (c *aifsClient) GetTag(ctx context.Context, req *TagRequest, opts ...grpc.CallOption) (*TagInfo, error) {
	return invoke[TagInfo](ctx, c.cc, "GetTag", req, opts)
}

func (c *aifsClient) ListTags(ctx context.Context, req *TagRequest, opts ...grpc.CallOption) (*ListTagsResponse, error) {
	return invoke[ListTagsResponse](ctx, c.cc, "ListTags", req, opts)
}

func (c *aifsClient) RegisterNamespaceKey(ctx context.Context, req *RegisterNamespaceKeyRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "RegisterNamespaceKey", req, opts)
}

func (c *aifsClient) ListNamespaces(ctx context.Context, req *Empty, opts ...grpc.CallOption) (*ListNamespacesResponse, error) {
	return invoke[ListNamespacesResponse](ctx, c.cc, "ListNamespaces", req, opts)
}

func (c *aifsClient) Info(ctx context.Context, req *Empty, opts ...grpc.CallOption) (*InfoResponse, error) {
	return invoke[InfoResponse](ctx, c.cc, "Info", req, opts)
}
