package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundtrip(t *testing.T) {
	id := Sum([]byte("hello"))
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 64)

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	// Same bytes, same address.
	assert.Equal(t, id, Sum([]byte("hello")))
	assert.NotEqual(t, id, Sum([]byte("hello!")))
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"abc",
		strings.Repeat("g", 64),            // not hex
		strings.ToUpper(Sum(nil).String()), // uppercase
		Sum(nil).String() + "00",           // too long
		Sum(nil).String()[:62],             // too short
		"aifs://" + Sum(nil).String(),      // scheme prefix
	} {
		_, err := ParseID(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestIDTextMarshaling(t *testing.T) {
	id := Sum([]byte("payload"))
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back ID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)

	assert.Error(t, back.UnmarshalText([]byte("nope")))
}

func TestSnapshotIDDerivation(t *testing.T) {
	root := Sum([]byte("root"))
	sid := NewSnapshotID(root, "2025-01-02T03:04:05Z")
	assert.False(t, sid.IsZero())
	assert.Len(t, sid.String(), 32)

	// Deterministic, and sensitive to both inputs.
	assert.Equal(t, sid, NewSnapshotID(root, "2025-01-02T03:04:05Z"))
	assert.NotEqual(t, sid, NewSnapshotID(root, "2025-01-02T03:04:06Z"))
	assert.NotEqual(t, sid, NewSnapshotID(Sum([]byte("other")), "2025-01-02T03:04:05Z"))

	parsed, err := ParseSnapshotID(sid.String())
	require.NoError(t, err)
	assert.Equal(t, sid, parsed)

	_, err = ParseSnapshotID(sid.String() + "00")
	assert.Error(t, err)
}

func TestKindParseAndString(t *testing.T) {
	for _, k := range []Kind{KindBlob, KindTensor, KindEmbed, KindArtifact} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
		assert.True(t, k.Valid())
	}
	_, err := ParseKind("parquet")
	assert.Error(t, err)
	assert.False(t, Kind(9).Valid())
}

func TestMetricParseAndString(t *testing.T) {
	for _, m := range []Metric{MetricCosine, MetricEuclidean, MetricDot, MetricManhattan, MetricHamming} {
		parsed, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
		assert.True(t, m.Valid())
	}
	_, err := ParseMetric("l2")
	assert.Error(t, err)
	assert.False(t, Metric(99).Valid())
}

func TestTxStateStringsAndTerminal(t *testing.T) {
	assert.Equal(t, "pending", TxPending.String())
	assert.Equal(t, "committing", TxCommitting.String())
	assert.Equal(t, "committed", TxCommitted.String())
	assert.Equal(t, "rolling_back", TxRollingBack.String())
	assert.Equal(t, "rolled_back", TxRolledBack.String())
	assert.Equal(t, "failed", TxFailed.String())

	assert.True(t, TxCommitted.Terminal())
	assert.True(t, TxRolledBack.Terminal())
	assert.False(t, TxPending.Terminal())
	assert.False(t, TxFailed.Terminal())
}

func TestCanonicalTimestamp(t *testing.T) {
	in := time.Date(2025, 6, 7, 10, 30, 45, 987654321, time.FixedZone("CEST", 2*60*60))
	assert.Equal(t, "2025-06-07T08:30:45Z", CanonicalTimestamp(in))
}

func TestEventTypeStrings(t *testing.T) {
	assert.Equal(t, "asset_committed", EventAssetCommitted.String())
	assert.Equal(t, "snapshot_created", EventSnapshotCreated.String())
	assert.Equal(t, "branch_updated", EventBranchUpdated.String())
	assert.Equal(t, "tag_created", EventTagCreated.String())
}
