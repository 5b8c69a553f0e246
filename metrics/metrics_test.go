package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := NewRegistry()

	reg.Engine.RecordPut(1024, 5*time.Millisecond, nil)
	reg.Engine.RecordPut(0, time.Millisecond, errors.New("boom"))
	reg.Engine.RecordGet(2048, 2*time.Millisecond, nil)
	reg.Engine.RecordSearch(10, time.Millisecond, nil)
	reg.Engine.RecordCommit(3, time.Millisecond, nil)
	reg.Engine.RecordSnapshot(3, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `aifs_operations_total{op="put"} 2`)
	assert.Contains(t, body, `aifs_operation_errors_total{op="put"} 1`)
	assert.Contains(t, body, `aifs_payload_bytes_total{op="get"} 2048`)
	assert.Contains(t, body, "go_goroutines")
}
