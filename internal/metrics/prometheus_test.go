package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Exposition(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)
	r.IncExpansion("html", OutcomeExpanded)
	r.IncExpansion("html", OutcomeCycle)
	r.ObserveCompileDuration("html", 15*time.Millisecond)
	r.IncPublishResult(true)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.True(t, strings.Contains(body, `portal_reference_expansions_total{dest="html",outcome="cycle"} 1`), body)
	require.Contains(t, body, "portal_compile_duration_seconds")
	require.Contains(t, body, `portal_publish_results_total{result="success"} 1`)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncExpansion("markdown", OutcomeNotFound)
	r.ObserveCompileDuration("markdown", time.Second)
	r.IncPublishResult(false)
}
