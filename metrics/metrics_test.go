package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlens-backend/models"
	"trustlens-backend/verifier"
)

var _ verifier.Observer = (*Metrics)(nil)

func TestMetrics_CountersAndGauge(t *testing.T) {
	m := New()

	m.IngestionFinished(models.DocumentReady, 12)
	m.IngestionFinished(models.DocumentError, 0)
	m.ResultPersisted(models.VerdictRisk)
	m.ResultPersisted(models.VerdictRisk)
	m.CitationStripped("R-1")
	m.RunStarted()
	m.RunStarted()
	m.RunFinished()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("READY")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.chunksIndexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.verdicts.WithLabelValues("RISK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.citationsStripped.WithLabelValues("R-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))
}

func TestMetrics_Handler_ExposesFamilies(t *testing.T) {
	m := New()
	m.Verified(models.VerdictPass, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "trustlens_verification_seconds_count{status=\"PASS\"} 1")
	assert.Contains(t, string(body), "go_goroutines")
}
