package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RecordProviderConnect("alpha", true)
	SetProvidersReady(2)
	RecordToolDispatch("alpha__ping", "alpha", 15*time.Millisecond, true)
	RecordModelStream("anthropic", time.Second, false)
	RecordTurn("settled", 1)
	RecordSessionSave(time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `lainbot_provider_connect_total{provider="alpha",status="success"} 1`)
	assert.Contains(t, body, "lainbot_providers_ready 2")
	assert.Contains(t, body, `lainbot_model_stream_total{endpoint="anthropic",status="error"} 1`)
	assert.Contains(t, body, `lainbot_agent_turn_total{outcome="settled"} 1`)
}
