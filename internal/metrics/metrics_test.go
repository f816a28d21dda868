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

	m.IngestOutcome("success")
	m.IngestOutcome("success")
	m.IngestOutcome("stale_prompt")
	m.StorageAttempt("upload", "retry")
	m.StorageAttempt("upload", "ok")
	m.TokenRefresh("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestTotal.WithLabelValues("stale_prompt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageAttempts.WithLabelValues("upload", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshTotal.WithLabelValues("success")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveStage("normalize", 20*time.Millisecond)
	m.IngestOutcome("success")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `voicecollect_ingest_total{outcome="success"} 1`)
	assert.Contains(t, string(body), `voicecollect_ingest_stage_seconds_count{stage="normalize"} 1`)
}
