package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/mavbridge/internal/bridge/link"
	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
	"github.com/autopeer-io/mavbridge/internal/pkg/envelope"
	pkgmqtt "github.com/autopeer-io/mavbridge/pkg/mqtt"
	"github.com/autopeer-io/mavbridge/pkg/options"
)

// memClient is an in-memory bus client.
type memClient struct {
	mu sync.Mutex

	queries      map[string]pkgmqtt.QueryHandler
	handlers     map[string]pkgmqtt.MessageHandler
	unsubscribed []string
	retained     map[string]string
	disconnected bool
}

func newMemClient() *memClient {
	return &memClient{
		queries:  map[string]pkgmqtt.QueryHandler{},
		handlers: map[string]pkgmqtt.MessageHandler{},
		retained: map[string]string{},
	}
}

func (m *memClient) Start(ctx context.Context) error           { return nil }
func (m *memClient) AwaitConnection(ctx context.Context) error { return nil }

func (m *memClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disconnected
}

func (m *memClient) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *memClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if retain {
		m.retained[topic] = string(payload)
	}
	return nil
}

func (m *memClient) Subscribe(ctx context.Context, topic string, qos int, handler pkgmqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *memClient) Serve(ctx context.Context, topic string, qos int, handler pkgmqtt.QueryHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[topic] = handler
	return nil
}

func (m *memClient) Unsubscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.queries, topic)
	delete(m.handlers, topic)
	return nil
}

func (m *memClient) query(topic string) pkgmqtt.QueryHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[topic]
}

// memLink is a vehicle that always answers with a disarmed heartbeat.
type memLink struct {
	mu     sync.Mutex
	opens  int
	closes int
	sent   []vehicle.Command
}

func (l *memLink) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	return nil
}

func (l *memLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *memLink) WaitHeartbeat(ctx context.Context, timeout time.Duration) (vehicle.Heartbeat, error) {
	return vehicle.Heartbeat{SystemID: 1, ComponentID: 1, ReceivedAt: time.Now()}, nil
}

func (l *memLink) LastHeartbeat() time.Time { return time.Time{} }

func (l *memLink) Send(cmd vehicle.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, cmd)
	return nil
}

func (l *memLink) commands() []vehicle.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]vehicle.Command(nil), l.sent...)
}

func testConfig() *Config {
	mqttOpts := options.NewMqttOptions()
	mqttOpts.Realm = "vessel"
	mqttOpts.Entity = "boat"

	vehicleOpts := options.NewVehicleOptions()
	vehicleOpts.AllowOverride = true
	vehicleOpts.SteeringChannel = 1
	vehicleOpts.ThrottleChannel = 3

	telemetryOpts := options.NewTelemetryOptions()
	telemetryOpts.Kinds = []string{"VFR_HUD"}
	telemetryOpts.Format = "json"

	return &Config{
		MqttOptions:      mqttOpts,
		MavlinkOptions:   options.NewMavlinkOptions(),
		VehicleOptions:   vehicleOpts,
		RouterOptions:    options.NewRouterOptions(),
		TelemetryOptions: telemetryOpts,
		HttpOptions:      &options.HttpOptions{},
		S3Options:        options.NewS3Options(),
	}
}

func TestBridgeRoutesCommandsAndReleasesOnShutdown(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	client := newMemClient()
	vl := &memLink{}

	cfg := testConfig()
	b, err := cfg.assemble(client, func(link.Sink) (vehicle.Link, error) { return vl, nil }, clk)
	if err != nil {
		t.Fatalf("assemble() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	filter := b.topics.CommandWildcard("set_rudder_angle_pct", "rudder")
	var handler pkgmqtt.QueryHandler
	deadline := time.Now().Add(5 * time.Second)
	for handler == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("rudder command topic %s was never served", filter)
		}
		time.Sleep(5 * time.Millisecond)
		handler = client.query(filter)
	}

	codec := envelope.NewCodec(clk)
	reply := handler(ctx, b.topics.Rudder("*"), codec.Enclose(envelope.EncodeFloat(clk.Now(), 50)))
	env, err := codec.Uncover(reply)
	if err != nil {
		t.Fatalf("Uncover(reply) error = %v", err)
	}
	_, status, err := envelope.DecodeString(env.Payload)
	if err != nil {
		t.Fatalf("DecodeString(reply) error = %v", err)
	}
	if status != "ok" {
		t.Fatalf("reply = %q, want ok", status)
	}

	cmds := vl.commands()
	if len(cmds) != 1 {
		t.Fatalf("sent %d commands, want 1: %v", len(cmds), cmds)
	}
	override, ok := cmds[0].(vehicle.RCOverride)
	if !ok || override.Channels[0] != 1700 {
		t.Fatalf("sent %v, want steering override to 1700", cmds[0])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	// Declared: 3 command filters and 4 listener control topics.
	if got := len(client.unsubscribed); got != 7 {
		t.Errorf("unsubscribed %d topics, want 7: %v", got, client.unsubscribed)
	}
	if !client.disconnected {
		t.Error("bus client was not disconnected")
	}
	if client.retained[b.topics.Online()] != "false" {
		t.Errorf("presence = %q, want false after shutdown", client.retained[b.topics.Online()])
	}

	cmds = vl.commands()
	release, ok := cmds[len(cmds)-1].(vehicle.RCOverride)
	if !ok || release.Channels != [vehicle.OverrideChannels]uint16{} {
		t.Errorf("last command %v, want a full release", cmds[len(cmds)-1])
	}
	if vl.closes != 1 {
		t.Errorf("link closes = %d, want 1", vl.closes)
	}
}

func TestStatusReportsDeclarations(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	cfg := testConfig()
	b, err := cfg.assemble(newMemClient(), func(link.Sink) (vehicle.Link, error) { return &memLink{}, nil }, clk)
	if err != nil {
		t.Fatal(err)
	}

	st := b.Status()
	if st.Connected {
		t.Error("vehicle reported connected before Run")
	}
	if len(st.Declared) != 1 || st.Declared[0] != b.topics.Telemetry("VFR_HUD") {
		t.Errorf("Declared = %v, want only the telemetry publisher", st.Declared)
	}
}
