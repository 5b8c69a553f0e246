package vectorindex

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifs-project/aifs/model"
)

func assetID(s string) model.ID {
	return model.Sum([]byte(s))
}

func TestAddAndSearch(t *testing.T) {
	ix, err := New(WithMetric(model.MetricEuclidean))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{0, 0, 1}, nil))
	require.NoError(t, ix.Add(ctx, "prod", assetID("b"), []float32{0, 1, 0}, nil))
	require.NoError(t, ix.Add(ctx, "prod", assetID("c"), []float32{1, 0, 0}, nil))

	results, err := ix.Search(ctx, "prod", []float32{0, 0, 0.9}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, assetID("a"), results[0].AssetID)
	assert.LessOrEqual(t, results[0].Score, results[1].Score)
}

func TestDimensionBinding(t *testing.T) {
	ix, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{1, 2, 3}, nil))

	dim, ok := ix.Dimension("prod")
	require.True(t, ok)
	assert.Equal(t, 3, dim)

	var dm *DimensionMismatchError
	err = ix.Add(ctx, "prod", assetID("b"), []float32{1, 2}, nil)
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)

	_, err = ix.Search(ctx, "prod", []float32{1}, 1)
	assert.ErrorAs(t, err, &dm)

	// Other namespaces bind independently.
	require.NoError(t, ix.Add(ctx, "dev", assetID("c"), []float32{1, 2}, nil))
}

func TestDeleteRemovesFromResults(t *testing.T) {
	ix, err := New(WithMetric(model.MetricEuclidean))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{0, 1}, nil))
	require.NoError(t, ix.Add(ctx, "prod", assetID("b"), []float32{1, 0}, nil))
	assert.Equal(t, 2, ix.Len("prod"))

	ix.Delete(ctx, "prod", assetID("a"))
	assert.Equal(t, 1, ix.Len("prod"))

	results, err := ix.Search(ctx, "prod", []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, assetID("b"), results[0].AssetID)
}

func TestMetadataFilter(t *testing.T) {
	ix, err := New(WithMetric(model.MetricEuclidean))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{0, 1}, map[string]string{"model": "resnet", "stage": "train"}))
	require.NoError(t, ix.Add(ctx, "prod", assetID("b"), []float32{0, 0.9}, map[string]string{"model": "bert", "stage": "train"}))
	require.NoError(t, ix.Add(ctx, "prod", assetID("c"), []float32{0, 0.8}, map[string]string{"model": "resnet", "stage": "eval"}))

	results, err := ix.Search(ctx, "prod", []float32{0, 1}, 5, WithFilter(map[string]string{"model": "resnet"}))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, assetID("a"), results[0].AssetID)
	assert.Equal(t, assetID("c"), results[1].AssetID)

	results, err = ix.Search(ctx, "prod", []float32{0, 1}, 5, WithFilter(map[string]string{"model": "resnet", "stage": "eval"}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, assetID("c"), results[0].AssetID)

	results, err = ix.Search(ctx, "prod", []float32{0, 1}, 5, WithFilter(map[string]string{"model": "vgg"}))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVisibilityJoin(t *testing.T) {
	visible := map[model.ID]bool{assetID("committed"): true}
	ix, err := New(
		WithMetric(model.MetricEuclidean),
		WithVisibility(func(_ context.Context, id model.ID) bool {
			return visible[id]
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("committed"), []float32{0, 1}, nil))
	require.NoError(t, ix.Add(ctx, "prod", assetID("pending"), []float32{0, 0.99}, nil))

	results, err := ix.Search(ctx, "prod", []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, assetID("committed"), results[0].AssetID)

	// The pending asset surfaces once its transaction commits.
	visible[assetID("pending")] = true
	results, err = ix.Search(ctx, "prod", []float32{0, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestReAddReplacesVector(t *testing.T) {
	ix, err := New(WithMetric(model.MetricEuclidean))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{1, 0}, nil))
	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{0, 1}, nil))
	assert.Equal(t, 1, ix.Len("prod"))

	results, err := ix.Search(ctx, "prod", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, assetID("a"), results[0].AssetID)
	assert.InDelta(t, 0, results[0].Score, 1e-6)
}

func TestDotMetricReportsSimilarity(t *testing.T) {
	ix, err := New(WithMetric(model.MetricDot))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("strong"), []float32{2, 0}, nil))
	require.NoError(t, ix.Add(ctx, "prod", assetID("weak"), []float32{0.5, 0}, nil))

	results, err := ix.Search(ctx, "prod", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, assetID("strong"), results[0].AssetID)
	assert.InDelta(t, 2.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.5, results[1].Score, 1e-6)
}

func TestSearchUnknownNamespace(t *testing.T) {
	ix, err := New()
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), "nowhere", []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecallOnClusteredData(t *testing.T) {
	ix, err := New(WithMetric(model.MetricEuclidean), WithEF(400))
	require.NoError(t, err)
	ctx := context.Background()

	// Two well-separated clusters; nearest neighbours of a cluster-0 query
	// must come from cluster 0.
	rng := rand.New(rand.NewSource(42))
	for i := range 200 {
		vec := make([]float32, 8)
		offset := float32(0)
		if i%2 == 1 {
			offset = 10
		}
		for d := range vec {
			vec[d] = offset + rng.Float32()
		}
		require.NoError(t, ix.Add(ctx, "prod", assetID(fmt.Sprintf("v%d", i)), vec, map[string]string{
			"cluster": fmt.Sprintf("%d", i%2),
		}))
	}

	query := make([]float32, 8)
	for d := range query {
		query[d] = 0.5
	}
	results, err := ix.Search(ctx, "prod", query, 10)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for _, r := range results {
		assert.Less(t, r.Score, float32(5))
	}
}

// A small connection budget makes high layer draws likely; every draw
// must still fit the per-node connection slots.
func TestSmallMHandlesHighLayerDraws(t *testing.T) {
	ix, err := New(WithMetric(model.MetricEuclidean), WithM(2))
	require.NoError(t, err)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	for i := range 300 {
		vec := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		require.NoError(t, ix.Add(ctx, "prod", assetID(fmt.Sprintf("m%d", i)), vec, nil))
	}

	results, err := ix.Search(ctx, "prod", []float32{0.5, 0.5, 0.5, 0.5}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ix, err := New(WithMetric(model.MetricCosine))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "prod", assetID("a"), []float32{0, 0, 1}, map[string]string{"model": "resnet"}))
	require.NoError(t, ix.Add(ctx, "prod", assetID("b"), []float32{0, 1, 0}, nil))
	require.NoError(t, ix.Add(ctx, "dev", assetID("c"), []float32{1, 1}, nil))
	ix.Delete(ctx, "prod", assetID("b"))

	path := filepath.Join(t.TempDir(), "index.lz4")
	require.NoError(t, ix.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.MetricCosine, loaded.Metric())
	assert.Equal(t, 1, loaded.Len("prod"))
	assert.Equal(t, 1, loaded.Len("dev"))

	results, err := loaded.Search(ctx, "prod", []float32{0, 0, 1}, 5, WithFilter(map[string]string{"model": "resnet"}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, assetID("a"), results[0].AssetID)

	dim, ok := loaded.Dimension("dev")
	require.True(t, ok)
	assert.Equal(t, 2, dim)
}
