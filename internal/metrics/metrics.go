// Package metrics exposes Prometheus counters for the transport and game engine
// and serves them on a local debug listener. Label values are fixed sets, never
// player ids or addresses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// drop reasons
const (
	DropChecksum  = "checksum"
	DropMalformed = "malformed"
	DropRateLimit = "rate_limit"
	DropDuplicate = "duplicate"
	DropDecode    = "decode"
)

var (
	datagramsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapserv_datagrams_sent_total",
		Help: "Datagrams written to the socket",
	}, []string{"kind"})

	datagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapserv_datagrams_received_total",
		Help: "Datagrams read from the socket",
	}, []string{"kind"})

	datagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapserv_datagrams_dropped_total",
		Help: "Inbound datagrams or messages discarded",
	}, []string{"reason"})

	retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_retransmits_total",
		Help: "Reliable chunks sent again after the retry interval",
	})

	reliableAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_reliable_abandoned_total",
		Help: "Reliable messages dropped after the last retry without a full ack",
	})

	pendingReliable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapserv_pending_reliable",
		Help: "Reliable messages awaiting acknowledgment",
	})

	explosions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_explosions_total",
		Help: "Bombs that went off",
	})

	tilesDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_tiles_destroyed_total",
		Help: "Obstacles cleared by explosions",
	})

	playersKilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_players_killed_total",
		Help: "Players whose health dropped to zero",
	})

	livenessEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_liveness_evictions_total",
		Help: "Players removed for not sending updates",
	})

	roundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapserv_rounds_completed_total",
		Help: "Rounds that ran until the timer expired",
	})

	players = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapserv_players",
		Help: "Players in the current round",
	})

	bombs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapserv_bombs",
		Help: "Live bombs in the current round",
	})

	chests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapserv_chests",
		Help: "Unclaimed chests in the current round",
	})

	roundTimer = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapserv_round_timer_seconds",
		Help: "Seconds left in the current round",
	})
)

func RecordSent(kind string) {
	datagramsSent.WithLabelValues(kind).Inc()
}

func RecordReceived(kind string) {
	datagramsReceived.WithLabelValues(kind).Inc()
}

// RecordDropped counts a discarded datagram. reason is one of the Drop* constants.
func RecordDropped(reason string) {
	datagramsDropped.WithLabelValues(reason).Inc()
}

func RecordRetransmits(n int) {
	retransmits.Add(float64(n))
}

func RecordAbandoned() {
	reliableAbandoned.Inc()
}

func SetPending(n int) {
	pendingReliable.Set(float64(n))
}

func RecordExplosion(cleared int) {
	explosions.Inc()
	tilesDestroyed.Add(float64(cleared))
}

func RecordKills(n int) {
	playersKilled.Add(float64(n))
}

func RecordEvictions(n int) {
	livenessEvictions.Add(float64(n))
}

func RecordRoundCompleted() {
	roundsCompleted.Inc()
}

// UpdateRound refreshes the per-round gauges.
func UpdateRound(playerCount, bombCount, chestCount, timer int) {
	players.Set(float64(playerCount))
	bombs.Set(float64(bombCount))
	chests.Set(float64(chestCount))
	roundTimer.Set(float64(timer))
}
