// Package metrics exposes the bridge's Prometheus instruments. Collectors
// are registered on the default registry; the operator decides whether to
// serve them (the core opens no metrics port of its own).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CastConnections tracks live Cast V2 sender connections.
	CastConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fauxcast_cast_connections",
		Help: "Currently open Cast V2 sender connections",
	})

	// CastMessagesTotal counts decoded Cast V2 messages by namespace.
	CastMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fauxcast_cast_messages_total",
		Help: "Decoded Cast V2 messages by namespace",
	}, []string{"namespace"})

	// DisplayCommandsTotal counts commands sent to the display by type,
	// including commands dropped because no display was connected.
	DisplayCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fauxcast_display_commands_total",
		Help: "Commands forwarded to the display by type and result",
	}, []string{"type", "result"})

	// SignalingSessions tracks live WebRTC signaling sessions.
	SignalingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fauxcast_signaling_sessions",
		Help: "Currently open signaling sessions",
	})

	// BufferedCandidatesTotal counts ICE candidates queued while waiting
	// for the display's answer.
	BufferedCandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fauxcast_signaling_buffered_candidates_total",
		Help: "Sender ICE candidates buffered before the display answered",
	})
)

// SetCastConnections records the live sender connection count.
func SetCastConnections(n int) {
	CastConnections.Set(float64(n))
}

// IncCastMessage counts one decoded message on the given namespace.
func IncCastMessage(namespace string) {
	CastMessagesTotal.WithLabelValues(namespace).Inc()
}

// IncDisplayCommand counts one forwarded (or dropped) display command.
func IncDisplayCommand(cmdType string, delivered bool) {
	result := "sent"
	if !delivered {
		result = "dropped"
	}
	DisplayCommandsTotal.WithLabelValues(cmdType, result).Inc()
}

// SetSignalingSessions records the live signaling session count.
func SetSignalingSessions(n int) {
	SignalingSessions.Set(float64(n))
}

// IncBufferedCandidate counts one candidate queued pre-answer.
func IncBufferedCandidate() {
	BufferedCandidatesTotal.Inc()
}
