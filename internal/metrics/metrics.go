// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Monitor Metrics
var (
	// ActiveMonitors tracks the number of sessions with a running poll loop
	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "widget_active_monitors",
			Help: "Number of sessions with a running playback monitor",
		},
	)

	// PollTicksTotal tracks poll ticks by outcome (published, auth_error, provider_error, panic)
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_poll_ticks_total",
			Help: "Total playback poll ticks by result",
		},
		[]string{"result"},
	)

	// PollDuration tracks the latency of one tick including enrichment
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "widget_poll_duration_seconds",
			Help:    "Duration of a playback poll tick in seconds",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// ColorExtractionsTotal tracks album colour computations by result
	ColorExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_color_extractions_total",
			Help: "Total album colour extractions by result",
		},
		[]string{"result"},
	)

	// CommandsTotal tracks dispatched widget commands by type and result
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_commands_total",
			Help: "Total widget commands by command type and result",
		},
		[]string{"command", "result"},
	)
)

// Broker Metrics
var (
	BrokerSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "widget_broker_subscribers",
			Help: "Number of subscriptions attached to the broker",
		},
	)

	BrokerPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_broker_published_total",
			Help: "Total events published by kind",
		},
		[]string{"kind"},
	)

	BrokerSupersededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_broker_superseded_total",
			Help: "Queued sync_track events replaced by a newer one before delivery",
		},
	)
)

// Credential Metrics
var (
	// TokenRefreshesTotal tracks refresh-token exchanges by result
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_token_refreshes_total",
			Help: "Total Spotify token refresh exchanges by result",
		},
		[]string{"result"},
	)
)
