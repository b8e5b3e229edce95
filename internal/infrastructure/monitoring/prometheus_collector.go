package monitoring

import (
	"time"

	"studyroom/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	participantsConnected prometheus.Gauge
	joinsTotal            prometheus.Counter
	leavesTotal           prometheus.Counter
	joinRejectedTotal     *prometheus.CounterVec
	streakUpdatesTotal    prometheus.Counter

	// Relay
	signalsRelayedTotal  *prometheus.CounterVec
	relayDroppedTotal    prometheus.Counter
	positionUpdatesTotal prometheus.Counter

	// Histograms
	joinDuration prometheus.Histogram

	// Per-room
	roomOccupancy *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "studyroom_participants_connected_total",
			Help: "Number of currently connected participants",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_joins_total",
			Help: "Total number of successful room joins",
		}),

		leavesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_leaves_total",
			Help: "Total number of room leaves",
		}),

		joinRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_joins_rejected_total",
			Help: "Total number of rejected join attempts",
		}, []string{"reason"}),

		streakUpdatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_streak_updates_total",
			Help: "Total number of streak state changes",
		}),

		signalsRelayedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "studyroom_signals_relayed_total",
			Help: "Total number of signaling messages relayed",
		}, []string{"kind"}),

		relayDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_relay_dropped_total",
			Help: "Total number of relay deliveries dropped (full or gone receiver)",
		}),

		positionUpdatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "studyroom_position_updates_total",
			Help: "Total number of position updates accepted",
		}),

		joinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "studyroom_join_duration_seconds",
			Help:    "Duration of room join operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		roomOccupancy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "studyroom_room_occupancy",
			Help: "Current occupancy per room",
		}, []string{"room_id"}),
	}
}

func (p *PrometheusCollector) RecordJoin(roomID domain.RoomID, occupancy int, duration time.Duration) {
	p.participantsConnected.Inc()
	p.joinsTotal.Inc()
	p.joinDuration.Observe(duration.Seconds())
	p.roomOccupancy.WithLabelValues(string(roomID)).Set(float64(occupancy))
}

func (p *PrometheusCollector) RecordJoinRejected(reason string) {
	p.joinRejectedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordLeave(roomID domain.RoomID, occupancy int) {
	p.participantsConnected.Dec()
	p.leavesTotal.Inc()
	p.roomOccupancy.WithLabelValues(string(roomID)).Set(float64(occupancy))
}

func (p *PrometheusCollector) RecordSignalRelayed(kind domain.SignalKind) {
	p.signalsRelayedTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordRelayDropped() {
	p.relayDroppedTotal.Inc()
}

func (p *PrometheusCollector) RecordPositionUpdate() {
	p.positionUpdatesTotal.Inc()
}

func (p *PrometheusCollector) RecordStreakUpdate() {
	p.streakUpdatesTotal.Inc()
}
