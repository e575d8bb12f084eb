package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	expansions      *prom.CounterVec
	compileDuration *prom.HistogramVec
	publishResults  *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		expansions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portal",
			Name:      "reference_expansions_total",
			Help:      "Note references handled, by destination and outcome",
		}, []string{"dest", "outcome"}),
		compileDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "portal",
			Name:      "compile_duration_seconds",
			Help:      "Duration of top-level note compilations",
			Buckets:   prom.DefBuckets,
		}, []string{"dest"}),
		publishResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portal",
			Name:      "publish_results_total",
			Help:      "Published notes by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.expansions, pr.compileDuration, pr.publishResults)
	return pr
}

func (p *PrometheusRecorder) IncExpansion(dest string, outcome Outcome) {
	p.expansions.WithLabelValues(dest, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveCompileDuration(dest string, d time.Duration) {
	p.compileDuration.WithLabelValues(dest).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPublishResult(success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	p.publishResults.WithLabelValues(result).Inc()
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
