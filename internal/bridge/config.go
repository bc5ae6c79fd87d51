package bridge

import (
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/mavbridge/internal/bridge/bus"
	"github.com/autopeer-io/mavbridge/internal/bridge/link"
	"github.com/autopeer-io/mavbridge/internal/bridge/recorder"
	"github.com/autopeer-io/mavbridge/internal/bridge/router"
	"github.com/autopeer-io/mavbridge/internal/bridge/server"
	"github.com/autopeer-io/mavbridge/internal/bridge/subscription"
	"github.com/autopeer-io/mavbridge/internal/bridge/telemetry"
	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
	"github.com/autopeer-io/mavbridge/internal/pkg/envelope"
	"github.com/autopeer-io/mavbridge/internal/pkg/mapper"
	"github.com/autopeer-io/mavbridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/mavbridge/pkg/mqtt"
	"github.com/autopeer-io/mavbridge/pkg/options"
)

type Config struct {
	MqttOptions      *options.MqttOptions
	MavlinkOptions   *options.MavlinkOptions
	VehicleOptions   *options.VehicleOptions
	RouterOptions    *options.RouterOptions
	TelemetryOptions *options.TelemetryOptions
	HttpOptions      *options.HttpOptions
	S3Options        *options.S3Options

	// TransportDebug forwards MQTT client internals to the debug log.
	TransportDebug bool
}

// NewBridge wires every component of the bridge. Nothing is connected until
// Run.
func (cfg *Config) NewBridge() (*Bridge, error) {
	clientCfg := cfg.MqttOptions.ToClientConfig()
	if cfg.TransportDebug {
		clientCfg.Debug = log.NewPrinter(log.Std(), "paho")
	}
	mqttClient, err := pkgmqtt.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	endpoints, err := cfg.MavlinkOptions.ParsedEndpoints()
	if err != nil {
		return nil, err
	}
	clk := clock.RealClock{}
	newLink := func(sink link.Sink) (vehicle.Link, error) {
		l, err := link.New(link.Config{
			Endpoints: endpoints,
			SystemID:  uint8(cfg.MavlinkOptions.SystemID),
			Kinds:     cfg.TelemetryOptions.Kinds,
			Sink:      sink,
			Clock:     clk,
			Logger:    log.WithName("link"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init mavlink: %w", err)
		}
		return l, nil
	}

	b, err := cfg.assemble(mqttClient, newLink, clk)
	if err != nil {
		return nil, err
	}

	// Optional telemetry archive
	if cfg.S3Options.Enabled() {
		store, err := recorder.NewMinIO(cfg.S3Options)
		if err != nil {
			return nil, err
		}
		rec, err := recorder.New(recorder.Config{
			Entity:        cfg.MqttOptions.Entity,
			FlushInterval: cfg.S3Options.FlushInterval,
			MaxBatch:      cfg.S3Options.MaxBatch,
		}, store, clk, log.WithName("recorder"))
		if err != nil {
			return nil, err
		}
		b.relay.AddObserver(rec)
		b.recorder = rec
	}

	// Optional status server
	if cfg.HttpOptions.Addr != "" {
		hub := server.NewHub(log.WithName("stream"))
		b.relay.AddObserver(hub)
		b.server = server.NewServer(cfg.HttpOptions, server.Sources{
			Status: func() any { return b.Status() },
			Checks: []server.Check{
				{Name: "vehicle", Ready: func() bool { return b.ctrl.HeartbeatSeen() && !b.supervisor.Lost() }},
				{Name: "bus", Ready: b.session.Connected},
			},
			Hub:     hub,
			Vehicle: b.ctrl,
		})
	}

	return b, nil
}

// assemble wires the bus, telemetry, vehicle and routing components around
// an MQTT client and a link factory.
func (cfg *Config) assemble(mqttClient pkgmqtt.Client, newLink func(link.Sink) (vehicle.Link, error), clk clock.WithTicker) (*Bridge, error) {
	codec := envelope.NewCodec(clk)
	topics := cfg.MqttOptions.Topics()

	// Bus
	session := bus.NewSession(mqttClient, cfg.MqttOptions.QoS, log.WithName("bus"))

	// Telemetry relay, one publisher per kind
	publishers := make(map[string]telemetry.Publisher, len(cfg.TelemetryOptions.Kinds))
	for _, kind := range cfg.TelemetryOptions.Kinds {
		p, err := session.DeclarePublisher(topics.Telemetry(kind))
		if err != nil {
			return nil, err
		}
		publishers[kind] = p
	}
	encoder, err := telemetry.NewEncoder(cfg.TelemetryOptions.Format)
	if err != nil {
		return nil, err
	}
	relay, err := telemetry.NewRelay(telemetry.Config{
		Interval: cfg.TelemetryOptions.Interval,
		Kinds:    cfg.TelemetryOptions.Kinds,
	}, publishers, encoder, codec, clk, log.WithName("telemetry"))
	if err != nil {
		return nil, err
	}

	// Vehicle
	mavLink, err := newLink(relay)
	if err != nil {
		return nil, err
	}
	ctrl := vehicle.NewController(vehicle.Config{
		AllowOverride:    cfg.VehicleOptions.AllowOverride,
		SteeringChannel:  cfg.VehicleOptions.SteeringChannel,
		ThrottleChannel:  cfg.VehicleOptions.ThrottleChannel,
		PropulsionRelay:  cfg.VehicleOptions.PropulsionRelay,
		StatusTimeout:    cfg.MavlinkOptions.StatusTimeout,
		ArmRetries:       cfg.VehicleOptions.ArmRetries,
		ArmRetryInterval: cfg.VehicleOptions.ArmRetryInterval,
	}, mavLink, log.WithName("vehicle"))

	supervisor := NewSupervisor(SupervisorConfig{
		HeartbeatTimeout: cfg.MavlinkOptions.HeartbeatTimeout,
		LinkLossTimeout:  cfg.MavlinkOptions.LinkLossTimeout,
		ReconnectInitial: cfg.MavlinkOptions.ReconnectInitial,
		ReconnectMax:     cfg.MavlinkOptions.ReconnectMax,
		ReconnectSteps:   cfg.MavlinkOptions.ReconnectSteps,
	}, ctrl, clk, log.WithName("supervisor"))

	// Command routing and listeners
	ro := cfg.RouterOptions
	rtr, err := router.New(router.Config{
		Scale:    mapper.Range{InMin: ro.PercentMin, InMax: ro.PercentMax, OutMin: ro.PWMMin, OutMax: ro.PWMMax},
		Channels: ro.Channels,
	}, ctrl, codec, log.WithName("router"))
	if err != nil {
		return nil, err
	}
	listeners := subscription.NewManager(subscription.Config{Realm: cfg.MqttOptions.Realm}, session, rtr, codec, log.WithName("subscription"))

	return &Bridge{
		cfg:        cfg,
		logger:     log.WithName("bridge"),
		topics:     topics,
		client:     mqttClient,
		session:    session,
		relay:      relay,
		ctrl:       ctrl,
		supervisor: supervisor,
		router:     rtr,
		listeners:  listeners,
	}, nil
}
