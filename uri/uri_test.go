package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifs-project/aifs/model"
)

func TestAssetRoundtrip(t *testing.T) {
	id := model.Sum([]byte("payload"))

	s := FormatAsset("train", id)
	assert.Equal(t, "aifs://train/"+id.String(), s)

	u, err := ParseAsset(s)
	require.NoError(t, err)
	assert.Equal(t, "train", u.Namespace)
	assert.Equal(t, id, u.AssetID)
	assert.Empty(t, u.Kind)
}

func TestAssetKindSuffix(t *testing.T) {
	id := model.Sum([]byte("payload"))

	u, err := ParseAsset("aifs://train/" + id.String() + ".tensor")
	require.NoError(t, err)
	assert.Equal(t, "tensor", u.Kind)
	assert.Equal(t, "aifs://train/"+id.String()+".tensor", u.String())

	_, err = ParseAsset("aifs://train/" + id.String() + ".parquet")
	assert.Error(t, err)
}

func TestSnapshotRoundtrip(t *testing.T) {
	sid := model.NewSnapshotID(model.Sum([]byte("root")), "2026-08-26T12:00:00Z")

	s := FormatSnapshot("train", sid)
	assert.Equal(t, "aifs-snap://train/"+sid.String(), s)

	u, err := ParseSnapshot(s)
	require.NoError(t, err)
	assert.Equal(t, "train", u.Namespace)
	assert.Equal(t, sid, u.Snapshot)
}

func TestParseRejectsMalformed(t *testing.T) {
	id := model.Sum([]byte("payload")).String()

	bad := []string{
		"",
		"train/" + id,
		"aifs-snap://train/" + id, // wrong scheme for an asset
		"aifs://" + id,            // missing namespace
		"aifs://train/",
		"aifs://train/nothex",
		"aifs://train/" + id[:10],
	}
	for _, s := range bad {
		_, err := ParseAsset(s)
		assert.Error(t, err, "input %q", s)
	}

	_, err := ParseSnapshot("aifs://train/" + id)
	assert.Error(t, err)
}
