package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	r := NewRegistry()
	r.ObserveOperation("login", OutcomeSuccess)
	r.ObserveOperation("login", OutcomeSuccess)
	r.ObserveOperation("login", "INVALID_CREDENTIALS")
	r.DeviceEvent("created")
	r.EmailQueued("verification", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Operations.WithLabelValues("login", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Operations.WithLabelValues("login", "INVALID_CREDENTIALS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.DeviceEvents.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Emails.WithLabelValues("verification", OutcomeFailure)))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveOperation("login", OutcomeSuccess)
		r.DeviceEvent("created")
		r.EmailQueued("reset", true)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.DeviceEvent("reused")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `auth_device_events_total{event="reused"} 1`)
}
