package rpc

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/aifs-project/aifs"
	"github.com/aifs-project/aifs/auth"
	"github.com/aifs-project/aifs/codec"
	"github.com/aifs-project/aifs/model"
	"github.com/aifs-project/aifs/rpc/aifspb"
)

type testServer struct {
	engine *aifs.Engine
	lis    *bufconn.Listener
}

func newTestServer(t *testing.T, optFns ...ServerOption) *testServer {
	t.Helper()

	engine, err := aifs.Open(t.TempDir(), aifs.WithInMemory())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	srv := NewServer(engine, optFns...)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &testServer{engine: engine, lis: lis}
}

func (ts *testServer) client(t *testing.T, optFns ...grpc.DialOption) aifspb.AIFSClient {
	t.Helper()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return ts.lis.DialContext(ctx) }
	conn, err := Dial(context.Background(), "passthrough:///bufnet",
		append([]grpc.DialOption{grpc.WithContextDialer(dialer)}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return aifspb.NewAIFSClient(conn)
}

func putBlob(t *testing.T, client aifspb.AIFSClient, namespace string, data []byte) *aifspb.PutAssetResponse {
	t.Helper()
	resp, err := putBlobErr(client, namespace, data)
	require.NoError(t, err)
	return resp
}

func putBlobErr(client aifspb.AIFSClient, namespace string, data []byte) (*aifspb.PutAssetResponse, error) {
	stream, err := client.PutAsset(context.Background())
	if err != nil {
		return nil, err
	}
	req := &aifspb.PutAssetRequest{
		Header: &aifspb.PutAssetHeader{Namespace: namespace, Kind: "blob"},
		Data:   data,
	}
	if err := stream.Send(req); err != nil && err != io.EOF {
		return nil, err
	}
	return stream.CloseAndRecv()
}

func putEmbed(t *testing.T, client aifspb.AIFSClient, namespace string, vector []float32) *aifspb.PutAssetResponse {
	t.Helper()

	payload, err := codec.EncodeEmbed(codec.EmbedPayload{
		Vector:    vector,
		ModelName: "test-encoder",
		Dimension: uint32(len(vector)),
		Metric:    model.MetricCosine,
	})
	require.NoError(t, err)

	stream, err := client.PutAsset(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&aifspb.PutAssetRequest{
		Header: &aifspb.PutAssetHeader{Namespace: namespace, Kind: "embed"},
		Data:   payload,
	}))
	resp, err := stream.CloseAndRecv()
	require.NoError(t, err)
	return resp
}

func getAssetData(t *testing.T, client aifspb.AIFSClient, id string) (*aifspb.AssetInfo, []byte) {
	t.Helper()

	stream, err := client.GetAsset(context.Background(), &aifspb.GetAssetRequest{ID: id, IncludeData: true})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, first.Asset)

	var data bytes.Buffer
	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data.Write(frame.Data)
	}
	return first.Asset, data.Bytes()
}

func TestPutGetRoundtrip(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)

	payload := []byte("the quick brown fox")
	put := putBlob(t, client, "train", payload)
	assert.Len(t, put.ID, 64)
	assert.Contains(t, put.URI, "aifs://train/")

	asset, data := getAssetData(t, client, put.ID)
	assert.Equal(t, "train", asset.Namespace)
	assert.Equal(t, "blob", asset.Kind)
	assert.Equal(t, uint64(len(payload)), asset.Size)
	assert.True(t, asset.Visible)
	assert.Equal(t, payload, data)
}

func TestPutAssetMultiFrame(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)

	stream, err := client.PutAsset(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&aifspb.PutAssetRequest{
		Header: &aifspb.PutAssetHeader{Namespace: "train", Kind: "blob"},
	}))
	require.NoError(t, stream.Send(&aifspb.PutAssetRequest{Data: []byte("part one ")}))
	require.NoError(t, stream.Send(&aifspb.PutAssetRequest{Data: []byte("part two")}))
	resp, err := stream.CloseAndRecv()
	require.NoError(t, err)

	_, data := getAssetData(t, client, resp.ID)
	assert.Equal(t, []byte("part one part two"), data)
}

func TestGetAssetNotFound(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)

	missing := "00000000000000000000000000000000" + "00000000000000000000000000000000"
	stream, err := client.GetAsset(context.Background(), &aifspb.GetAssetRequest{ID: missing})
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestListAssetsAndInfo(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	putBlob(t, client, "train", []byte("one"))
	putBlob(t, client, "train", []byte("two"))
	putBlob(t, client, "eval", []byte("three"))

	list, err := client.ListAssets(ctx, &aifspb.ListAssetsRequest{Namespace: "train"})
	require.NoError(t, err)
	assert.Len(t, list.Assets, 2)

	list, err = client.ListAssets(ctx, &aifspb.ListAssetsRequest{Namespace: "train", Kind: "tensor"})
	require.NoError(t, err)
	assert.Empty(t, list.Assets)

	namespaces, err := client.ListNamespaces(ctx, &aifspb.Empty{})
	require.NoError(t, err)
	require.Len(t, namespaces.Namespaces, 2)
	assert.Equal(t, "eval", namespaces.Namespaces[0].Name)
	assert.Equal(t, "train", namespaces.Namespaces[1].Name)
	assert.Equal(t, uint64(2), namespaces.Namespaces[1].Assets)

	info, err := client.Info(ctx, &aifspb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, aifs.Version, info.Version)
	assert.NotEmpty(t, info.SignerPubKey)
}

func TestVectorSearchRPC(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	near := putEmbed(t, client, "vectors", []float32{1, 0, 0, 0})
	putEmbed(t, client, "vectors", []float32{0, 1, 0, 0})

	resp, err := client.VectorSearch(ctx, &aifspb.VectorSearchRequest{
		Namespace: "vectors",
		Query:     []float32{0.9, 0.1, 0, 0},
		K:         1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, near.ID, resp.Hits[0].ID)

	_, err = client.VectorSearch(ctx, &aifspb.VectorSearchRequest{Namespace: "vectors", Query: []float32{1, 0, 0, 0}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTransactionRPC(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	begin, err := client.BeginTransaction(ctx, &aifspb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "pending", begin.State)

	stream, err := client.PutAsset(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&aifspb.PutAssetRequest{
		Header: &aifspb.PutAssetHeader{Namespace: "train", Kind: "blob", TxID: begin.TxID},
		Data:   []byte("staged"),
	}))
	put, err := stream.CloseAndRecv()
	require.NoError(t, err)

	// Hidden until the transaction commits.
	getStream, err := client.GetAsset(ctx, &aifspb.GetAssetRequest{ID: put.ID})
	require.NoError(t, err)
	_, err = getStream.Recv()
	assert.Equal(t, codes.NotFound, status.Code(err))

	commit, err := client.CommitTransaction(ctx, &aifspb.TxRequest{TxID: begin.TxID})
	require.NoError(t, err)
	assert.Equal(t, "committed", commit.State)

	asset, _ := getAssetData(t, client, put.ID)
	assert.True(t, asset.Visible)
}

func TestRollbackTransactionRPC(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	begin, err := client.BeginTransaction(ctx, &aifspb.Empty{})
	require.NoError(t, err)

	stream, err := client.PutAsset(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&aifspb.PutAssetRequest{
		Header: &aifspb.PutAssetHeader{Namespace: "train", Kind: "blob", TxID: begin.TxID},
		Data:   []byte("discarded"),
	}))
	put, err := stream.CloseAndRecv()
	require.NoError(t, err)

	rollback, err := client.RollbackTransaction(ctx, &aifspb.TxRequest{TxID: begin.TxID})
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", rollback.State)

	getStream, err := client.GetAsset(ctx, &aifspb.GetAssetRequest{ID: put.ID})
	require.NoError(t, err)
	_, err = getStream.Recv()
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestSnapshotBranchTagRPC(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)
	ctx := context.Background()

	putBlob(t, client, "train", []byte("alpha"))
	putBlob(t, client, "train", []byte("beta"))

	snap, err := client.CreateSnapshot(ctx, &aifspb.CreateSnapshotRequest{
		Namespace: "train",
		Metadata:  map[string]string{"run": "42"},
	})
	require.NoError(t, err)
	assert.Len(t, snap.AssetIDs, 2)
	assert.NotEmpty(t, snap.Signature)
	assert.Contains(t, snap.URI, "aifs-snap://train/")

	got, err := client.GetSnapshot(ctx, &aifspb.GetSnapshotRequest{ID: snap.ID})
	require.NoError(t, err)
	assert.Equal(t, snap.MerkleRoot, got.MerkleRoot)

	verify, err := client.VerifySnapshot(ctx, &aifspb.VerifySnapshotRequest{ID: snap.ID})
	require.NoError(t, err)
	assert.True(t, verify.Valid)
	assert.Empty(t, verify.Reason)

	branch, err := client.CreateBranch(ctx, &aifspb.BranchRequest{
		Namespace:  "train",
		Name:       "main",
		SnapshotID: snap.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, snap.ID, branch.SnapshotID)

	branches, err := client.ListBranches(ctx, &aifspb.BranchRequest{Namespace: "train"})
	require.NoError(t, err)
	assert.Len(t, branches.Branches, 1)

	history, err := client.BranchHistory(ctx, &aifspb.BranchRequest{Namespace: "train", Name: "main"})
	require.NoError(t, err)
	require.Len(t, history.Events, 1)
	assert.Empty(t, history.Events[0].OldSnapshot)
	assert.Equal(t, snap.ID, history.Events[0].NewSnapshot)

	tag, err := client.CreateTag(ctx, &aifspb.TagRequest{Namespace: "train", Name: "v1", SnapshotID: snap.ID})
	require.NoError(t, err)
	assert.Equal(t, snap.ID, tag.SnapshotID)

	// Tags are immutable.
	_, err = client.CreateTag(ctx, &aifspb.TagRequest{Namespace: "train", Name: "v1", SnapshotID: snap.ID})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	tags, err := client.ListTags(ctx, &aifspb.TagRequest{Namespace: "train"})
	require.NoError(t, err)
	assert.Len(t, tags.Tags, 1)

	_, err = client.DeleteBranch(ctx, &aifspb.BranchRequest{Namespace: "train", Name: "main"})
	require.NoError(t, err)
	_, err = client.GetBranch(ctx, &aifspb.BranchRequest{Namespace: "train", Name: "main"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestSubscribeEventsRPC(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.SubscribeEvents(ctx, &aifspb.SubscribeEventsRequest{Namespace: "train"})
	require.NoError(t, err)

	// Let the subscription register before publishing.
	time.Sleep(100 * time.Millisecond)
	put := putBlob(t, client, "train", []byte("watched"))

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "asset_committed", msg.Type)
	assert.Equal(t, "train", msg.Namespace)
	assert.Equal(t, put.ID, msg.AssetID)
}

func TestAuthorization(t *testing.T) {
	authorizer, err := auth.NewAuthorizer("aifs", []byte("server-secret"))
	require.NoError(t, err)
	ts := newTestServer(t, WithAuthorizer(authorizer))
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		client := ts.client(t)
		_, err := client.ListAssets(ctx, &aifspb.ListAssetsRequest{Namespace: "train"})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("wrong method", func(t *testing.T) {
		token := authorizer.MintCapability("reader", "", []auth.Method{auth.MethodGet}, time.Hour)
		client := ts.client(t, WithToken(token))

		_, err := client.ListAssets(ctx, &aifspb.ListAssetsRequest{Namespace: "train"})
		require.NoError(t, err)

		_, err = putBlobErr(client, "train", []byte("denied"))
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("namespace scope", func(t *testing.T) {
		token := authorizer.MintCapability("trainer", "train",
			[]auth.Method{auth.MethodPut, auth.MethodGet}, time.Hour)
		client := ts.client(t, WithToken(token))

		putBlob(t, client, "train", []byte("scoped"))

		_, err := putBlobErr(client, "eval", []byte("out of scope"))
		assert.Equal(t, codes.PermissionDenied, status.Code(err))

		// Namespace-scoped tokens cannot use namespace-less operations.
		_, err = client.ListNamespaces(ctx, &aifspb.Empty{})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("expired token", func(t *testing.T) {
		token := authorizer.Mint("reader", "method = get", "expires = 1")
		client := ts.client(t, WithToken(token))
		_, err := client.ListAssets(ctx, &aifspb.ListAssetsRequest{Namespace: "train"})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("forged token", func(t *testing.T) {
		other, err := auth.NewAuthorizer("aifs", []byte("other-secret"))
		require.NoError(t, err)
		token := other.MintCapability("intruder", "", []auth.Method{auth.MethodGet}, time.Hour)
		client := ts.client(t, WithToken(token))
		_, err = client.ListAssets(ctx, &aifspb.ListAssetsRequest{Namespace: "train"})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("admin token", func(t *testing.T) {
		token := authorizer.MintCapability("admin", "", []auth.Method{auth.MethodAdmin}, time.Hour)
		client := ts.client(t, WithToken(token))

		put := putBlob(t, client, "train", []byte("admin payload"))
		snap, err := client.CreateSnapshot(ctx, &aifspb.CreateSnapshotRequest{Namespace: "train"})
		require.NoError(t, err)
		_, err = client.CreateBranch(ctx, &aifspb.BranchRequest{
			Namespace: "train", Name: "admin-branch", SnapshotID: snap.ID,
		})
		require.NoError(t, err)
		_, err = client.DeleteAsset(ctx, &aifspb.DeleteAssetRequest{ID: put.ID})
		require.NoError(t, err)
	})
}

func TestRegisterNamespaceKeyRPC(t *testing.T) {
	authorizer, err := auth.NewAuthorizer("aifs", []byte("server-secret"))
	require.NoError(t, err)
	ts := newTestServer(t, WithAuthorizer(authorizer))
	ctx := context.Background()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	replacement, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	snapshotter := authorizer.MintCapability("snapshotter", "train",
		[]auth.Method{auth.MethodSnapshot}, time.Hour)
	admin := authorizer.MintCapability("admin", "", []auth.Method{auth.MethodAdmin}, time.Hour)

	t.Run("fresh registration needs snapshot capability", func(t *testing.T) {
		client := ts.client(t, WithToken(snapshotter))
		_, err := client.RegisterNamespaceKey(ctx, &aifspb.RegisterNamespaceKeyRequest{
			Namespace: "train",
			PublicKey: pub,
			Metadata:  map[string]string{"owner": "ml-platform"},
		})
		require.NoError(t, err)
	})

	t.Run("duplicate without overwrite", func(t *testing.T) {
		client := ts.client(t, WithToken(snapshotter))
		_, err := client.RegisterNamespaceKey(ctx, &aifspb.RegisterNamespaceKeyRequest{
			Namespace: "train",
			PublicKey: replacement,
		})
		assert.Equal(t, codes.AlreadyExists, status.Code(err))
	})

	t.Run("overwrite requires admin", func(t *testing.T) {
		client := ts.client(t, WithToken(snapshotter))
		_, err := client.RegisterNamespaceKey(ctx, &aifspb.RegisterNamespaceKeyRequest{
			Namespace: "train",
			PublicKey: replacement,
			Overwrite: true,
		})
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("admin overwrites", func(t *testing.T) {
		client := ts.client(t, WithToken(admin))
		_, err := client.RegisterNamespaceKey(ctx, &aifspb.RegisterNamespaceKeyRequest{
			Namespace: "train",
			PublicKey: replacement,
			Overwrite: true,
		})
		require.NoError(t, err)
	})

	t.Run("malformed key", func(t *testing.T) {
		client := ts.client(t, WithToken(admin))
		_, err := client.RegisterNamespaceKey(ctx, &aifspb.RegisterNamespaceKeyRequest{
			Namespace: "eval",
			PublicKey: []byte("short"),
		})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, WithRateLimit(0, 1))
	client := ts.client(t)
	ctx := context.Background()

	_, err := client.Info(ctx, &aifspb.Empty{})
	require.NoError(t, err)

	_, err = client.Info(ctx, &aifspb.Empty{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
