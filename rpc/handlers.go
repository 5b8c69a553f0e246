package rpc

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aifs-project/aifs"
	"github.com/aifs-project/aifs/auth"
	"github.com/aifs-project/aifs/event"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
	"github.com/aifs-project/aifs/rpc/aifspb"
	"github.com/aifs-project/aifs/uri"
)

// dataFrameSize is the payload size of one get-stream data frame.
const dataFrameSize = 1 << 20

func parseID(s string) (model.ID, error) {
	id, err := model.ParseID(s)
	if err != nil {
		return model.ID{}, status.Errorf(codes.InvalidArgument, "asset id: %v", err)
	}
	return id, nil
}

func parseSnapshotID(s string) (model.SnapshotID, error) {
	sid, err := model.ParseSnapshotID(s)
	if err != nil {
		return model.SnapshotID{}, status.Errorf(codes.InvalidArgument, "snapshot id: %v", err)
	}
	return sid, nil
}

func toAssetInfo(asset model.Asset) *aifspb.AssetInfo {
	chunks := make([]string, len(asset.Chunks))
	for i, c := range asset.Chunks {
		chunks[i] = c.String()
	}
	return &aifspb.AssetInfo{
		ID:        asset.ID.String(),
		Namespace: asset.Namespace,
		Kind:      asset.Kind.String(),
		Size:      asset.Size,
		CreatedAt: asset.CreatedAt.Unix(),
		Metadata:  asset.Metadata,
		Chunks:    chunks,
		TxID:      string(asset.TxID),
		Visible:   asset.Visible,
	}
}

func toSnapshotInfo(snap model.Snapshot) *aifspb.SnapshotInfo {
	assetIDs := make([]string, len(snap.AssetIDs))
	for i, id := range snap.AssetIDs {
		assetIDs[i] = id.String()
	}
	return &aifspb.SnapshotInfo{
		ID:           snap.ID.String(),
		Namespace:    snap.Namespace,
		MerkleRoot:   snap.MerkleRoot.String(),
		Timestamp:    snap.Timestamp,
		AssetIDs:     assetIDs,
		Signature:    snap.Signature,
		SignerPubKey: snap.SignerPubKey,
		Metadata:     snap.Metadata,
		URI:          uri.FormatSnapshot(snap.Namespace, snap.ID),
	}
}

func toBranchInfo(b model.Branch) *aifspb.BranchInfo {
	return &aifspb.BranchInfo{
		Namespace:  b.Namespace,
		Name:       b.Name,
		SnapshotID: b.Snapshot.String(),
		UpdatedAt:  b.UpdatedAt.Unix(),
	}
}

func toTagInfo(t model.Tag) *aifspb.TagInfo {
	return &aifspb.TagInfo{
		Namespace:  t.Namespace,
		Name:       t.Name,
		SnapshotID: t.Snapshot.String(),
		CreatedAt:  t.CreatedAt.Unix(),
	}
}

func toEventMessage(ev model.Event) *aifspb.EventMessage {
	msg := &aifspb.EventMessage{
		Type:      ev.Type.String(),
		Namespace: ev.Namespace,
		Name:      ev.Name,
		At:        ev.At.Unix(),
	}
	if !ev.AssetID.IsZero() {
		msg.AssetID = ev.AssetID.String()
	}
	if !ev.Snapshot.IsZero() {
		msg.SnapshotID = ev.Snapshot.String()
	}
	return msg
}

// PutAsset assembles a client stream into one asset. The first frame
// carries the header; data may start in the first frame and continue in
// the rest.
func (s *Server) PutAsset(stream aifspb.AIFS_PutAssetServer) error {
	ctx := stream.Context()

	first, err := stream.Recv()
	if err != nil {
		return toStatus(err)
	}
	header := first.Header
	if header == nil {
		return status.Error(codes.InvalidArgument, "first frame must carry the asset header")
	}
	if err := s.authorize(ctx, header.Namespace, auth.MethodPut); err != nil {
		return err
	}

	kind, err := model.ParseKind(header.Kind)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	data := append([]byte(nil), first.Data...)
	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return toStatus(err)
		}
		if frame.Header != nil {
			return status.Error(codes.InvalidArgument, "header repeated mid-stream")
		}
		data = append(data, frame.Data...)
	}

	optFns := []aifs.PutOption{aifs.WithMetadata(header.Metadata)}
	if header.TxID != "" {
		optFns = append(optFns, aifs.WithTx(model.TxID(header.TxID)))
	}
	if len(header.Embedding) > 0 {
		optFns = append(optFns, aifs.WithEmbedding(header.Embedding))
	}
	if len(header.Parents) > 0 {
		parents := make([]aifs.Parent, len(header.Parents))
		for i, p := range header.Parents {
			pid, err := parseID(p.ID)
			if err != nil {
				return err
			}
			parents[i] = aifs.Parent{
				ID:              pid,
				TransformName:   p.TransformName,
				TransformDigest: p.TransformDigest,
			}
		}
		optFns = append(optFns, aifs.WithParents(parents...))
	}

	id, err := s.engine.PutAsset(ctx, header.Namespace, kind, data, optFns...)
	if err != nil {
		return toStatus(err)
	}
	return stream.SendAndClose(&aifspb.PutAssetResponse{
		ID:  id.String(),
		URI: uri.FormatAsset(header.Namespace, id),
	})
}

// GetAsset streams the asset record followed by its payload in fixed
// size frames when IncludeData is set.
func (s *Server) GetAsset(req *aifspb.GetAssetRequest, stream aifspb.AIFS_GetAssetServer) error {
	ctx := stream.Context()

	id, err := parseID(req.ID)
	if err != nil {
		return err
	}
	asset, err := s.engine.GetAsset(ctx, id)
	if err != nil {
		return toStatus(err)
	}
	if err := s.authorize(ctx, asset.Namespace, auth.MethodGet); err != nil {
		return err
	}
	if err := stream.Send(&aifspb.GetAssetResponse{Asset: toAssetInfo(asset)}); err != nil {
		return toStatus(err)
	}
	if !req.IncludeData {
		return nil
	}

	data, err := s.engine.GetAssetData(ctx, id)
	if err != nil {
		return toStatus(err)
	}
	for len(data) > 0 {
		n := min(len(data), dataFrameSize)
		if err := stream.Send(&aifspb.GetAssetResponse{Data: data[:n]}); err != nil {
			return toStatus(err)
		}
		data = data[n:]
	}
	return nil
}

func (s *Server) DeleteAsset(ctx context.Context, req *aifspb.DeleteAssetRequest) (*aifspb.Empty, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	asset, err := s.engine.GetAsset(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.authorize(ctx, asset.Namespace, auth.MethodPut); err != nil {
		return nil, err
	}
	if err := s.engine.DeleteAsset(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.Empty{}, nil
}

func (s *Server) ListAssets(ctx context.Context, req *aifspb.ListAssetsRequest) (*aifspb.ListAssetsResponse, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	filter := metastore.ListFilter{
		Namespace:   req.Namespace,
		MetaEquals:  req.MetaEquals,
		VisibleOnly: true,
		Limit:       int(req.Limit),
		Cursor:      req.Cursor,
	}
	if req.Kind != "" {
		kind, err := model.ParseKind(req.Kind)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		filter.Kind = &kind
	}
	assets, cursor, err := s.engine.ListAssets(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.ListAssetsResponse{NextCursor: cursor}
	for _, asset := range assets {
		resp.Assets = append(resp.Assets, toAssetInfo(asset))
	}
	return resp, nil
}

func (s *Server) VectorSearch(ctx context.Context, req *aifspb.VectorSearchRequest) (*aifspb.VectorSearchResponse, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodSearch); err != nil {
		return nil, err
	}
	var optFns []aifs.SearchOption
	if len(req.Filter) > 0 {
		optFns = append(optFns, aifs.WithSearchFilter(req.Filter))
	}
	results, err := s.engine.SearchVectors(ctx, req.Namespace, req.Query, int(req.K), optFns...)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.VectorSearchResponse{}
	for _, r := range results {
		resp.Hits = append(resp.Hits, &aifspb.SearchHit{ID: r.AssetID.String(), Score: r.Score})
	}
	return resp, nil
}

func (s *Server) BeginTransaction(ctx context.Context, _ *aifspb.Empty) (*aifspb.TxResponse, error) {
	if err := s.authorize(ctx, "", auth.MethodPut); err != nil {
		return nil, err
	}
	id, err := s.engine.BeginTransaction(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.TxResponse{TxID: string(id), State: model.TxPending.String()}, nil
}

func (s *Server) CommitTransaction(ctx context.Context, req *aifspb.TxRequest) (*aifspb.TxResponse, error) {
	if err := s.authorize(ctx, "", auth.MethodPut); err != nil {
		return nil, err
	}
	if err := s.engine.CommitTransaction(ctx, model.TxID(req.TxID)); err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.TxResponse{TxID: req.TxID, State: model.TxCommitted.String()}, nil
}

func (s *Server) RollbackTransaction(ctx context.Context, req *aifspb.TxRequest) (*aifspb.TxResponse, error) {
	if err := s.authorize(ctx, "", auth.MethodPut); err != nil {
		return nil, err
	}
	if err := s.engine.RollbackTransaction(ctx, model.TxID(req.TxID)); err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.TxResponse{TxID: req.TxID, State: model.TxRolledBack.String()}, nil
}

func (s *Server) CreateSnapshot(ctx context.Context, req *aifspb.CreateSnapshotRequest) (*aifspb.SnapshotInfo, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodSnapshot); err != nil {
		return nil, err
	}
	var optFns []aifs.SnapshotOption
	if len(req.Metadata) > 0 {
		optFns = append(optFns, aifs.WithSnapshotMetadata(req.Metadata))
	}
	if len(req.AssetIDs) > 0 {
		ids := make([]model.ID, len(req.AssetIDs))
		for i, raw := range req.AssetIDs {
			id, err := parseID(raw)
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}
		optFns = append(optFns, aifs.WithSnapshotAssets(ids...))
	}
	snap, err := s.engine.CreateSnapshot(ctx, req.Namespace, optFns...)
	if err != nil {
		return nil, toStatus(err)
	}
	return toSnapshotInfo(snap), nil
}

func (s *Server) GetSnapshot(ctx context.Context, req *aifspb.GetSnapshotRequest) (*aifspb.SnapshotInfo, error) {
	sid, err := parseSnapshotID(req.ID)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.GetSnapshot(ctx, sid)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.authorize(ctx, snap.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	return toSnapshotInfo(snap), nil
}

// VerifySnapshot reports verification failures in the response rather
// than as RPC errors so clients can distinguish a bad signature from a
// failed call.
func (s *Server) VerifySnapshot(ctx context.Context, req *aifspb.VerifySnapshotRequest) (*aifspb.VerifySnapshotResponse, error) {
	sid, err := parseSnapshotID(req.ID)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.GetSnapshot(ctx, sid)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.authorize(ctx, snap.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}

	var optFns []aifs.VerifyOption
	if len(req.PublicKey) > 0 {
		optFns = append(optFns, aifs.WithPublicKey(req.PublicKey))
	}
	if req.UseNamespaceKey {
		optFns = append(optFns, aifs.WithNamespaceKey())
	}
	if req.TrustedKeyID != "" {
		optFns = append(optFns, aifs.WithTrustedKey(req.TrustedKeyID))
	}
	if req.AllowKeyDivergence {
		optFns = append(optFns, aifs.WithAllowKeyDivergence())
	}

	verr := s.engine.VerifySnapshot(ctx, sid, optFns...)
	if verr == nil {
		return &aifspb.VerifySnapshotResponse{Valid: true}, nil
	}
	var divergence *aifs.KeyDivergenceError
	if errors.Is(verr, aifs.ErrSignatureInvalid) || errors.As(verr, &divergence) {
		return &aifspb.VerifySnapshotResponse{Valid: false, Reason: verr.Error()}, nil
	}
	return nil, toStatus(verr)
}

func (s *Server) CreateBranch(ctx context.Context, req *aifspb.BranchRequest) (*aifspb.BranchInfo, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodBranch); err != nil {
		return nil, err
	}
	sid, err := parseSnapshotID(req.SnapshotID)
	if err != nil {
		return nil, err
	}
	ev, err := s.engine.CreateBranch(ctx, req.Namespace, req.Name, sid, req.Metadata)
	if err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.BranchInfo{
		Namespace:  ev.Namespace,
		Name:       ev.Name,
		SnapshotID: ev.NewSnapshot.String(),
		UpdatedAt:  ev.At.Unix(),
	}, nil
}

func (s *Server) GetBranch(ctx context.Context, req *aifspb.BranchRequest) (*aifspb.BranchInfo, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	branch, err := s.engine.GetBranch(ctx, req.Namespace, req.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toBranchInfo(branch), nil
}

func (s *Server) ListBranches(ctx context.Context, req *aifspb.BranchRequest) (*aifspb.ListBranchesResponse, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	branches, err := s.engine.ListBranches(ctx, req.Namespace)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.ListBranchesResponse{}
	for _, b := range branches {
		resp.Branches = append(resp.Branches, toBranchInfo(b))
	}
	return resp, nil
}

func (s *Server) DeleteBranch(ctx context.Context, req *aifspb.BranchRequest) (*aifspb.Empty, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodBranch); err != nil {
		return nil, err
	}
	if err := s.engine.DeleteBranch(ctx, req.Namespace, req.Name); err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.Empty{}, nil
}

func (s *Server) BranchHistory(ctx context.Context, req *aifspb.BranchRequest) (*aifspb.BranchHistoryResponse, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	events, err := s.engine.BranchHistory(ctx, req.Namespace, req.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.BranchHistoryResponse{}
	for _, ev := range events {
		info := &aifspb.BranchEventInfo{
			NewSnapshot: ev.NewSnapshot.String(),
			At:          ev.At.Unix(),
			Metadata:    ev.Metadata,
		}
		if !ev.OldSnapshot.IsZero() {
			info.OldSnapshot = ev.OldSnapshot.String()
		}
		resp.Events = append(resp.Events, info)
	}
	return resp, nil
}

func (s *Server) CreateTag(ctx context.Context, req *aifspb.TagRequest) (*aifspb.TagInfo, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodTag); err != nil {
		return nil, err
	}
	sid, err := parseSnapshotID(req.SnapshotID)
	if err != nil {
		return nil, err
	}
	tag, err := s.engine.CreateTag(ctx, req.Namespace, req.Name, sid)
	if err != nil {
		return nil, toStatus(err)
	}
	return toTagInfo(tag), nil
}

func (s *Server) GetTag(ctx context.Context, req *aifspb.TagRequest) (*aifspb.TagInfo, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	tag, err := s.engine.GetTag(ctx, req.Namespace, req.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toTagInfo(tag), nil
}

func (s *Server) ListTags(ctx context.Context, req *aifspb.TagRequest) (*aifspb.ListTagsResponse, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return nil, err
	}
	tags, err := s.engine.ListTags(ctx, req.Namespace)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.ListTagsResponse{}
	for _, t := range tags {
		resp.Tags = append(resp.Tags, toTagInfo(t))
	}
	return resp, nil
}

func (s *Server) RegisterNamespaceKey(ctx context.Context, req *aifspb.RegisterNamespaceKeyRequest) (*aifspb.Empty, error) {
	if err := s.authorize(ctx, req.Namespace, auth.MethodSnapshot); err != nil {
		return nil, err
	}
	// A fresh registration needs only the snapshot capability; replacing
	// an already-pinned key is gated on admin.
	if req.Overwrite {
		if err := s.requireAdmin(ctx, req.Namespace); err != nil {
			return nil, err
		}
	}
	if len(req.PublicKey) != ed25519.PublicKeySize {
		return nil, status.Errorf(codes.InvalidArgument, "public key must be %d bytes", ed25519.PublicKeySize)
	}
	if err := s.engine.RegisterNamespaceKey(ctx, req.Namespace, req.PublicKey, req.Metadata, req.Overwrite); err != nil {
		return nil, toStatus(err)
	}
	return &aifspb.Empty{}, nil
}

func (s *Server) ListNamespaces(ctx context.Context, _ *aifspb.Empty) (*aifspb.ListNamespacesResponse, error) {
	if err := s.authorize(ctx, "", auth.MethodGet); err != nil {
		return nil, err
	}
	namespaces, err := s.engine.Namespaces(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.ListNamespacesResponse{}
	for _, ns := range namespaces {
		resp.Namespaces = append(resp.Namespaces, &aifspb.NamespaceInfo{
			Name:      ns.Name,
			Assets:    ns.Assets,
			Snapshots: ns.Snapshots,
		})
	}
	return resp, nil
}

func (s *Server) Info(ctx context.Context, _ *aifspb.Empty) (*aifspb.InfoResponse, error) {
	if err := s.authorize(ctx, "", auth.MethodGet); err != nil {
		return nil, err
	}
	info, err := s.engine.Info(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &aifspb.InfoResponse{
		Version:          info.Version,
		Metric:           info.Metric.String(),
		CompressionLevel: uint64(info.CompressionLevel),
		KMSKeyID:         info.KMSKeyID,
		SignerPubKey:     info.SignerPubKey,
	}
	for _, ns := range info.Namespaces {
		resp.Namespaces = append(resp.Namespaces, &aifspb.NamespaceInfo{
			Name:      ns.Name,
			Assets:    ns.Assets,
			Snapshots: ns.Snapshots,
		})
	}
	return resp, nil
}

// SubscribeEvents relays engine events until the client disconnects.
func (s *Server) SubscribeEvents(req *aifspb.SubscribeEventsRequest, stream aifspb.AIFS_SubscribeEventsServer) error {
	ctx := stream.Context()
	if err := s.authorize(ctx, req.Namespace, auth.MethodGet); err != nil {
		return err
	}

	var optFns []event.SubscribeOption
	if req.Namespace != "" {
		optFns = append(optFns, event.WithNamespace(req.Namespace))
	}
	if len(req.Types) > 0 {
		types := make([]model.EventType, len(req.Types))
		for i, t := range req.Types {
			types[i] = model.EventType(t)
		}
		optFns = append(optFns, event.WithTypes(types...))
	}

	events, err := s.engine.SubscribeEvents(ctx, optFns...)
	if err != nil {
		return toStatus(err)
	}
	for {
		select {
		case <-ctx.Done():
			return toStatus(ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.Send(toEventMessage(ev)); err != nil {
				return toStatus(err)
			}
		}
	}
}
