package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewardclaims/internal/claimflow"
	"rewardclaims/internal/claims"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	workflowsOpened  prometheus.Counter
	transitionsTotal *prometheus.CounterVec
	submissionsTotal *prometheus.CounterVec
	activeWorkflows  prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	opened := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rewardclaims_workflows_opened_total",
		Help: "Total number of claim workflows opened",
	})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardclaims_workflow_transitions_total",
		Help: "Claim workflow phase transitions",
	}, []string{"from", "to"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardclaims_claim_submissions_total",
		Help: "Claim submissions sent to the rewards backend",
	}, []string{"result"})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rewardclaims_active_workflows",
		Help: "Number of open claim workflows",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(opened, transitions, submissions, active)

	return &metricsRegistry{
		registry:         r,
		workflowsOpened:  opened,
		transitionsTotal: transitions,
		submissionsTotal: submissions,
		activeWorkflows:  active,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incOpened() {
	m.workflowsOpened.Inc()
}

func (m *metricsRegistry) incTransition(from, to claimflow.Phase) {
	m.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *metricsRegistry) incSubmission(result string) {
	m.submissionsTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) setActive(n int) {
	m.activeWorkflows.Set(float64(n))
}

// countingClient labels every submission by how the backend answered.
type countingClient struct {
	next    claims.Client
	metrics *metricsRegistry
}

func (c countingClient) SubmitClaim(ctx context.Context, req claims.SubmitClaimRequest) (claims.SubmitClaimResponse, error) {
	resp, err := c.next.SubmitClaim(ctx, req)
	switch {
	case err != nil:
		c.metrics.incSubmission("error")
	case resp.Success:
		c.metrics.incSubmission("initiated")
	default:
		c.metrics.incSubmission("rejected")
	}
	return resp, err
}
