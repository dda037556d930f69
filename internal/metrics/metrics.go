// Package metrics exposes Prometheus collectors for the white agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent collectors and the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	// ActionsTotal counts actions returned by act, by source (model | retry | fallback).
	ActionsTotal *prometheus.CounterVec
	// ModelFailuresTotal counts model calls that fell back to the heuristic.
	ModelFailuresTotal prometheus.Counter
	// EpisodesTotal counts finished episodes by outcome (success | failure).
	EpisodesTotal *prometheus.CounterVec
	// EpisodeReward observes the final reward of each episode.
	EpisodeReward prometheus.Histogram
	// CleanupScore observes the cleanup score of each episode.
	CleanupScore prometheus.Histogram
	// ActiveContexts is the number of live agent instances.
	ActiveContexts prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whiteagent_actions_total",
				Help: "Actions returned by act, by source.",
			},
			[]string{"source"},
		),
		ModelFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whiteagent_model_failures_total",
			Help: "Model calls that failed and fell back to the heuristic policy.",
		}),
		EpisodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whiteagent_episodes_total",
				Help: "Finished episodes by outcome.",
			},
			[]string{"outcome"},
		),
		EpisodeReward: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whiteagent_episode_reward",
			Help:    "Final reward per episode.",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 1},
		}),
		CleanupScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whiteagent_cleanup_score",
			Help:    "Fraction of opened containers closed per episode.",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 1},
		}),
		ActiveContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whiteagent_active_contexts",
			Help: "Live agent instances keyed by context id.",
		}),
	}

	m.Registry.MustRegister(
		m.ActionsTotal, m.ModelFailuresTotal,
		m.EpisodesTotal, m.EpisodeReward, m.CleanupScore,
		m.ActiveContexts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveAction records one act decision.
func (m *Metrics) ObserveAction(source string, modelFailed bool) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(source).Inc()
	if modelFailed {
		m.ModelFailuresTotal.Inc()
	}
}

// ObserveEpisode records one finished episode.
func (m *Metrics) ObserveEpisode(reward, cleanupScore float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if reward > 0 {
		outcome = "success"
	}
	m.EpisodesTotal.WithLabelValues(outcome).Inc()
	m.EpisodeReward.Observe(reward)
	m.CleanupScore.Observe(cleanupScore)
}

// SetActiveContexts updates the live context gauge.
func (m *Metrics) SetActiveContexts(n int) {
	if m == nil {
		return
	}
	m.ActiveContexts.Set(float64(n))
}
