// Package metrics exposes governance events as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/govdelegate/pkg/types"
)

const namespace = "govdelegate"

// Collector counts cycles, decisions and votes from the event stream.
// Each Collector owns its registry so tests and multiple instances do not
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	cycles             *prometheus.CounterVec
	cycleDuration      *prometheus.HistogramVec
	decisions          *prometheus.CounterVec
	decisionConfidence prometheus.Histogram
	proposalErrors     *prometheus.CounterVec
	votes              *prometheus.CounterVec
	predictionAccuracy *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry, including the
// Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Governance cycles by organization and result.",
		}, []string{"organization", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of completed governance cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"organization"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Vote decisions by organization and risk level.",
		}, []string{"organization", "risk"}),
		decisionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_confidence",
			Help:      "Confidence of vote decisions.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		proposalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_errors_total",
			Help:      "Per-proposal failures by organization, phase and kind.",
		}, []string{"organization", "phase", "kind"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Votes by organization and state (cast, queued, approved, rejected, timeout).",
		}, []string{"organization", "state"}),
		predictionAccuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prediction_accuracy",
			Help:      "Learned prediction accuracy per organization.",
		}, []string{"organization"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cycles,
		c.cycleDuration,
		c.decisions,
		c.decisionConfidence,
		c.proposalErrors,
		c.votes,
		c.predictionAccuracy,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe updates metrics from one event. It has the types.EventEmitter signature.
func (c *Collector) Observe(e *types.Event) {
	org := e.Organization
	switch e.Type {
	case types.EventTypeCycleCompleted:
		c.cycles.WithLabelValues(org, "done").Inc()
		if d, ok := e.Metadata["duration_seconds"].(float64); ok {
			c.cycleDuration.WithLabelValues(org).Observe(d)
		}
	case types.EventTypeCycleFailed:
		c.cycles.WithLabelValues(org, "failed").Inc()
	case types.EventTypeDecisionMade:
		if e.Decision != nil {
			c.decisions.WithLabelValues(org, string(e.Decision.Risk)).Inc()
			c.decisionConfidence.Observe(e.Decision.Confidence)
		}
	case types.EventTypeProposalRejected:
		phase, _ := e.Metadata["phase"].(string)
		kind, _ := e.Metadata["kind"].(string)
		c.proposalErrors.WithLabelValues(org, phase, kind).Inc()
	case types.EventTypeVoteCast:
		c.votes.WithLabelValues(org, "cast").Inc()
	case types.EventTypeVoteQueued:
		c.votes.WithLabelValues(org, "queued").Inc()
	case types.EventTypeVoteApproved:
		c.votes.WithLabelValues(org, "approved").Inc()
	case types.EventTypeVoteRejected:
		c.votes.WithLabelValues(org, "rejected").Inc()
	case types.EventTypeApprovalTimeout:
		c.votes.WithLabelValues(org, "timeout").Inc()
	case types.EventTypePredictionRecorded:
		if acc, ok := e.Metadata["accuracy"].(float64); ok {
			c.predictionAccuracy.WithLabelValues(org).Set(acc)
		}
	}
}
