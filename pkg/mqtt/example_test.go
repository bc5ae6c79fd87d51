package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/mqtt"
)

// ExampleClient shows how the bridge talks to the broker: a plain subscription
// for listener traffic, a served query topic for commands, and a publish for
// telemetry.
func ExampleClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "mavbridge-example",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		WillTopic:      "vessel/v1/boat/online",
		WillPayload:    []byte("false"),
		WillRetain:     true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; autopaho keeps reconnecting in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	lever := func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("lever update on %s: %d bytes\n", topic, len(payload))
	}
	if err := client.Subscribe(ctx, "vessel/v1/joystick/lever/+", 1, lever); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	// Requests carry a response topic and correlation data; the returned
	// payload is published back to the requester.
	ack := func(ctx context.Context, topic string, payload []byte) []byte {
		return []byte("ok")
	}
	if err := client.Serve(ctx, "vessel/v1/boat/set_rudder_angle_pct/rudder/+", 1, ack); err != nil {
		log.Error(err, "Failed to serve")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	if err := client.Publish(ctx, "vessel/v1/boat/telemetry/VFR_HUD", 0, false, []byte{}); err != nil {
		log.Error(err, "Failed to publish telemetry")
	}

	client.Disconnect(ctx)
}
