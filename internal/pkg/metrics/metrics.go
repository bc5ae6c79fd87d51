package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every bridge collector and is served on /metrics.
var Registry = prometheus.NewRegistry()

// Command outcomes.
const (
	OutcomeApplied              = "applied"
	OutcomeRejectedGate         = "rejected_gate"
	OutcomeRejectedNotConnected = "rejected_not_connected"
	OutcomeError                = "error"
)

var (
	// LinkConnected is 1 while the vehicle link has a live session.
	LinkConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mavbridge_link_connected",
			Help: "Whether the vehicle link has a live session (1=connected, 0=not connected).",
		},
	)

	// LinkReconnects counts supervisor reconnects after link loss.
	LinkReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mavbridge_link_reconnects_total",
			Help: "Total number of vehicle link reconnects.",
		},
	)

	// HeartbeatsReceived counts vehicle heartbeats.
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mavbridge_heartbeats_received_total",
			Help: "Total number of heartbeats received from the vehicle.",
		},
	)

	// BusConnected mirrors the MQTT connection state.
	BusConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mavbridge_bus_connected",
			Help: "Whether the bus client is connected (1=connected, 0=not connected).",
		},
	)

	// ArmState exposes the cached arm state (0=disarmed, 1=armed, 2=emergency).
	ArmState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mavbridge_arm_state",
			Help: "Cached vehicle arm state (0=disarmed, 1=armed, 2=emergency).",
		},
	)

	// CommandsTotal counts routed commands by family and outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mavbridge_commands_total",
			Help: "Total number of routed actuator commands.",
		},
		[]string{"family", "outcome"},
	)

	// CommandLatency measures decode-to-dispatch time of routed commands.
	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mavbridge_command_latency_seconds",
			Help:    "Time from receiving a command to handing it to the vehicle link.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// DroppedMessages counts bus messages dropped by a handler.
	DroppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mavbridge_dropped_messages_total",
			Help: "Total number of bus messages dropped, by handler and reason.",
		},
		[]string{"handler", "reason"},
	)

	// ListenerSubscribed is 1 while a channel follows a listener topic.
	ListenerSubscribed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mavbridge_listener_subscribed",
			Help: "Whether a control channel follows a listener topic.",
		},
		[]string{"channel"},
	)

	// TelemetryPublished counts telemetry publications by kind.
	TelemetryPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mavbridge_telemetry_published_total",
			Help: "Total number of telemetry messages published, by kind.",
		},
		[]string{"kind"},
	)

	// RecorderUploads counts archive uploads by status.
	RecorderUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mavbridge_recorder_uploads_total",
			Help: "Total number of telemetry archive uploads, by status.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LinkConnected,
		LinkReconnects,
		HeartbeatsReceived,
		BusConnected,
		ArmState,
		CommandsTotal,
		CommandLatency,
		DroppedMessages,
		ListenerSubscribed,
		TelemetryPublished,
		RecorderUploads,
	)
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
