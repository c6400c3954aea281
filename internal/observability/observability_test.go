package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "transport", StatusClass(0))
	assert.Equal(t, "2xx", StatusClass(200))
	assert.Equal(t, "4xx", StatusClass(422))
	assert.Equal(t, "5xx", StatusClass(503))
}

func TestRecorders(t *testing.T) {
	m := getMetrics()

	before := testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("reset_user_traffic"))
	RecordToolExecution("reset_user_traffic", 10*time.Millisecond, false)
	RecordToolExecution("reset_user_traffic", 10*time.Millisecond, true)
	after := testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("reset_user_traffic"))
	assert.Equal(t, before+1, after)

	before = testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("get_user", "4xx"))
	RecordUpstreamRequest("get_user", 404, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.upstreamRequestsTotal.WithLabelValues("get_user", "4xx")))

	SetActiveSessions(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.activeSessions))

	before = testutil.ToFloat64(m.tokenRefreshTotal.WithLabelValues("error"))
	RecordTokenRefresh(false, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.tokenRefreshTotal.WithLabelValues("error")))
}

func TestMetricsHandler(t *testing.T) {
	RecordAgentTurn("gemini", "answered", time.Second)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_turn_total")
}

func TestAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	SetAuditLogger(zerolog.New(&buf))

	RecordToolAudit(context.Background(), "grant_reward", "alice", "success", map[string]interface{}{
		"reason": "loyal customer",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tool", entry["type"])
	assert.Equal(t, "alice", entry["actor"])
	assert.Equal(t, "execute:grant_reward", entry["action"])
	assert.Equal(t, "success", entry["status"])
	assert.Equal(t, "loyal customer", entry["metadata"].(map[string]interface{})["reason"])
}
