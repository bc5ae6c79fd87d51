package bridge

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/mavbridge/internal/bridge/bus"
	"github.com/autopeer-io/mavbridge/internal/bridge/recorder"
	"github.com/autopeer-io/mavbridge/internal/bridge/router"
	"github.com/autopeer-io/mavbridge/internal/bridge/server"
	"github.com/autopeer-io/mavbridge/internal/bridge/subscription"
	"github.com/autopeer-io/mavbridge/internal/bridge/telemetry"
	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
	"github.com/autopeer-io/mavbridge/pkg/log"
	pkgmqtt "github.com/autopeer-io/mavbridge/pkg/mqtt"
	"github.com/autopeer-io/mavbridge/pkg/mqtt/topic"
)

// Bridge is the running process: one vehicle session, one bus session and
// everything declared on it.
type Bridge struct {
	cfg    *Config
	logger log.Logger
	topics *topic.TopicBuilder

	client     pkgmqtt.Client
	session    *bus.Session
	relay      *telemetry.Relay
	ctrl       *vehicle.Controller
	supervisor *Supervisor
	router     *router.Router
	listeners  *subscription.Manager

	// Optional.
	server   *server.Server
	recorder *recorder.Recorder
}

// Status is served on /api/v1/status.
type Status struct {
	vehicle.Status
	BusConnected bool              `json:"busConnected"`
	LinkLost     bool              `json:"linkLost"`
	Listeners    map[string]string `json:"listeners"`
	Declared     []string          `json:"declared"`
	Telemetry    []telemetry.Frame `json:"telemetry"`
}

// Run connects the bus and the vehicle, declares every command and listener
// topic and serves until ctx is done or a component fails. Everything
// declared is released on every return path.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("Starting mavbridge", "base", b.topics.Base())
	defer b.shutdown()

	if err := b.session.Start(ctx); err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	if err := b.supervisor.Establish(ctx); err != nil {
		return fmt.Errorf("failed to establish vehicle session: %w", err)
	}

	if err := b.declare(ctx); err != nil {
		return err
	}
	b.followInitialListeners(ctx)
	b.announce(ctx, true)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.relay.Run(ctx) })
	g.Go(func() error { return b.supervisor.Run(ctx) })
	if b.server != nil {
		g.Go(func() error { return b.server.Start(ctx) })
	}
	if b.recorder != nil {
		g.Go(func() error { return b.recorder.Run(ctx) })
	}

	b.logger.Info("mavbridge running")
	return g.Wait()
}

// declare serves every command and listener control topic.
func (b *Bridge) declare(ctx context.Context) error {
	queryables := []struct {
		topic   string
		handler pkgmqtt.QueryHandler
	}{
		{b.topics.CommandWildcard(topic.SubjectRudder, topic.FamilyRudder), b.router.QueryHandler("rudder_command")},
		{b.topics.CommandWildcard(topic.SubjectEngine, topic.FamilyEngine), b.router.QueryHandler("engine_command")},
		{b.topics.CommandWildcard(topic.SubjectThruster, topic.FamilyThruster), b.router.QueryHandler("thruster_command")},
		{b.topics.Listener(topic.SubjectRudderListener), b.listeners.QueryHandler(subscription.RudderChannel, false)},
		{b.topics.Listener(topic.SubjectRudderListenerKey), b.listeners.QueryHandler(subscription.RudderChannel, true)},
		{b.topics.Listener(topic.SubjectEngineListener), b.listeners.QueryHandler(subscription.EngineChannel, false)},
		{b.topics.Listener(topic.SubjectEngineListenerKey), b.listeners.QueryHandler(subscription.EngineChannel, true)},
	}
	for _, q := range queryables {
		if _, err := b.session.DeclareQueryable(ctx, q.topic, q.handler); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) followInitialListeners(ctx context.Context) {
	initial := map[subscription.Channel]string{
		subscription.RudderChannel: b.cfg.RouterOptions.RudderListener,
		subscription.EngineChannel: b.cfg.RouterOptions.EngineListener,
	}
	for ch, t := range initial {
		if t == "" {
			continue
		}
		if err := b.listeners.Set(ctx, ch, t); err != nil {
			b.logger.Error(err, "Failed to follow initial listener", "channel", ch, "topic", t)
		}
	}
}

// announce publishes the retained presence flag that the last will clears.
func (b *Bridge) announce(ctx context.Context, online bool) {
	if !b.client.IsConnected() {
		return
	}
	payload := []byte("false")
	if online {
		payload = []byte("true")
	}
	if err := b.client.Publish(ctx, b.topics.Online(), b.cfg.MqttOptions.QoS, true, payload); err != nil {
		b.logger.Error(err, "Failed to publish presence", "topic", b.topics.Online())
	}
}

// shutdown releases overrides, the vehicle session and every bus declaration.
func (b *Bridge) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.logger.Info("Shutting down mavbridge")
	b.listeners.Close(ctx)
	if b.ctrl.Connected() {
		if err := b.ctrl.ReleaseOverrides(); err != nil {
			b.logger.Error(err, "Failed to release RC overrides")
		}
	}
	if err := b.ctrl.Close(); err != nil {
		b.logger.Error(err, "Failed to close vehicle session")
	}
	b.announce(ctx, false)
	if err := b.session.Close(ctx); err != nil {
		b.logger.Error(err, "Failed to release bus declarations")
	}
}

// SetAllowOverride flips the RC override gate at runtime.
func (b *Bridge) SetAllowOverride(allow bool) {
	b.ctrl.SetAllowOverride(allow)
}

// Status returns a point-in-time view of the bridge.
func (b *Bridge) Status() Status {
	declared := b.session.Live()
	slices.Sort(declared)
	return Status{
		Status:       b.ctrl.Status(),
		BusConnected: b.session.Connected(),
		LinkLost:     b.ctrl.Connected() && b.supervisor.Lost(),
		Listeners:    b.listeners.Topics(),
		Declared:     declared,
		Telemetry:    b.relay.Latest(),
	}
}
