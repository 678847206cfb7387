// Package metrics exposes the process-wide Prometheus counters/gauges
// seen across the pack's VMS-shaped repos: frames ingested/skipped,
// rule fires, chunks emitted, and queue drops. Not a spec-defined
// route; mounted by the admin HTTP mux alongside the WsFmp4 viewer
// endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgevision_frames_ingested_total",
		Help: "Frames successfully decoded per camera.",
	}, []string{"camera_id"})

	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgevision_frames_skipped_total",
		Help: "Error envelopes published in place of a frame, per camera and reason.",
	}, []string{"camera_id", "reason"})

	RuleFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgevision_rule_fires_total",
		Help: "Rule matches by agent and rule label.",
	}, []string{"agent_id", "label"})

	ChunksEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgevision_chunks_emitted_total",
		Help: "Event video chunks published to the bus.",
	}, []string{"agent_id"})

	QueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgevision_queue_drops_total",
		Help: "Items dropped from a bounded queue under back-pressure.",
	}, []string{"queue"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgevision_active_detection_workers",
		Help: "Currently running DetectionWorker tasks.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgevision_active_event_sessions",
		Help: "Currently open event sessions.",
	})
)

// Handler returns the /metrics HTTP handler for mounting on the admin mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
