package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveIssuance("created")
	m.ObserveIssuance("created")
	m.ObserveRedemption("already_used")
	m.ObserveRateLimit("issuance", "denied")
	m.ObserveAudit("dropped")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Issuances.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Redemptions.WithLabelValues("already_used")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitChecks.WithLabelValues("issuance", "denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditEvents.WithLabelValues("dropped")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()

	a.ObserveIssuance("created")

	assert.Equal(t, float64(1), testutil.ToFloat64(a.Issuances.WithLabelValues("created")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Issuances.WithLabelValues("created")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDuration("issue", 12*time.Millisecond)
	m.ObserveRedemption("redeemed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bday_coupon_redemptions_total{outcome="redeemed"} 1`)
	assert.Contains(t, string(body), "bday_operation_duration_seconds_bucket")
}
