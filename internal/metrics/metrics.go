// Package metrics wires the domain-level counters and gauges this module
// exposes through a *prometheus.Registry: shard mailbox depth for every
// sharded store, refresh token rotation outcomes, and rate limiter
// rejections. Grounded on dexidp/dex's server/server.go, which builds its
// HTTP instrumentation the same way — explicit prometheus.NewCounterVec/
// NewHistogramVec construction plus Registry.MustRegister, no promauto and
// no package-level globals — generalized here from HTTP request framing to
// this module's own domain events, since the token endpoint and stores own
// no HTTP handlers for promhttp to wrap.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueDepthSource is satisfied by every sharded store in internal/store
// plus internal/keymanager.Manager, all of which expose QueueDepths as a
// thin forward to their internal *shard.Ring.
type QueueDepthSource interface {
	QueueDepths() []int
}

// Refresh token rotation outcomes recorded by ObserveRefreshRotation.
const (
	RotationOutcomeIssued        = "issued"
	RotationOutcomeRotated       = "rotated"
	RotationOutcomeReuseDetected = "reuse_detected"
	RotationOutcomeNarrowed      = "narrowed"
)

// Metrics holds the registered collectors. The zero value is not usable;
// construct with New.
type Metrics struct {
	shardQueueDepth     *prometheus.GaugeVec
	refreshRotations    *prometheus.CounterVec
	rateLimitRejections prometheus.Counter
	dpopReplaysRejected prometheus.Counter
}

// New constructs and registers this module's collectors against registry.
// Mirrors dex's server.go pattern of building Vecs inline and registering
// them once at startup rather than via package-level promauto helpers.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		shardQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "authd_shard_queue_depth",
			Help: "Pending job count in a store's shard mailbox.",
		}, []string{"store", "shard"}),
		refreshRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_refresh_token_rotations_total",
			Help: "Refresh token grant outcomes, by outcome.",
		}, []string{"outcome"}),
		rateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_rate_limit_rejections_total",
			Help: "Requests rejected by the fixed-window rate limiter.",
		}),
		dpopReplaysRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_dpop_replays_rejected_total",
			Help: "DPoP proofs rejected as JTI replays.",
		}),
	}
	registry.MustRegister(m.shardQueueDepth, m.refreshRotations, m.rateLimitRejections, m.dpopReplaysRejected)
	return m
}

// ObserveRefreshRotation records a refresh_token grant outcome. Safe to call
// on a nil *Metrics, so callers that did not wire a registry pay nothing.
func (m *Metrics) ObserveRefreshRotation(outcome string) {
	if m == nil {
		return
	}
	m.refreshRotations.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitRejection records one request turned away by the limiter.
func (m *Metrics) ObserveRateLimitRejection() {
	if m == nil {
		return
	}
	m.rateLimitRejections.Inc()
}

// ObserveDPoPReplayRejected records one DPoP proof rejected for JTI replay.
func (m *Metrics) ObserveDPoPReplayRejected() {
	if m == nil {
		return
	}
	m.dpopReplaysRejected.Inc()
}

func (m *Metrics) reportQueueDepths(store string, src QueueDepthSource) {
	for shard, depth := range src.QueueDepths() {
		m.shardQueueDepth.WithLabelValues(store, strconv.Itoa(shard)).Set(float64(depth))
	}
}

// RunQueueDepthReporter polls every named source's shard queue depths on
// interval until ctx is cancelled. Intended to run as one background
// goroutine per process, started alongside the key rotation loop
// (internal/keymanager.Manager.StartRotationLoop).
func (m *Metrics) RunQueueDepthReporter(ctx context.Context, interval time.Duration, sources map[string]QueueDepthSource) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, src := range sources {
				m.reportQueueDepths(name, src)
			}
		}
	}
}
