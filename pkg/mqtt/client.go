package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/mavbridge/pkg/log"
)

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	// base is the context handlers run under; it is cancelled by Disconnect.
	base   context.Context
	cancel context.CancelFunc

	connected atomic.Bool

	// subscriptions holds the registered handlers.
	// Key: topic filter (string), Value: *subscriptionEntry
	subscriptions sync.Map
}

// inboxSize bounds the messages queued for one subscriber.
const inboxSize = 32

type delivery struct {
	topic   string
	payload []byte
}

type subscriptionEntry struct {
	topic   string
	qos     int
	handler MessageHandler
	query   QueryHandler

	// Plain subscribers are served by one worker in arrival order.
	inbox chan delivery
	done  chan struct{}
}

func newSubscriptionEntry(topic string, qos int, handler MessageHandler, query QueryHandler) *subscriptionEntry {
	e := &subscriptionEntry{topic: topic, qos: qos, handler: handler, query: query}
	if handler != nil {
		e.inbox = make(chan delivery, inboxSize)
		e.done = make(chan struct{})
	}
	return e
}

func (e *subscriptionEntry) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case d := <-e.inbox:
			e.handler(ctx, d.topic, d.payload)
		}
	}
}

func (e *subscriptionEntry) stop() {
	if e.done != nil {
		close(e.done)
	}
}

// NewClient creates a new MQTT client implementing the Client interface.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg: cfg,
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // Already validated

	c.base, c.cancel = context.WithCancel(ctx)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		WillMessage: c.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.router,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}

	if c.cfg.Debug != nil {
		pahoCfg.Debug = c.cfg.Debug
		pahoCfg.PahoDebug = c.cfg.Debug
	}

	log.Info("Starting MQTT Client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	cm, err := autopaho.NewConnection(c.base, pahoCfg)
	if err != nil {
		c.cancel()
		return err
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm != nil {
		_ = c.cm.Disconnect(ctx)
		c.connected.Store(false)
		log.Info("MQTT Client disconnected")
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})

	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	return c.register(ctx, newSubscriptionEntry(topic, qos, handler, nil))
}

func (c *pahoClient) Serve(ctx context.Context, topic string, qos int, handler QueryHandler) error {
	return c.register(ctx, newSubscriptionEntry(topic, qos, nil, handler))
}

func (c *pahoClient) register(ctx context.Context, entry *subscriptionEntry) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	// Tracked first so that OnConnectionUp re-subscribes it after a reconnect.
	c.track(entry)

	_, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: entry.topic, QoS: byte(entry.qos)},
		},
	})
	if err != nil {
		c.untrack(entry.topic)
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	log.Info("Subscribed to topic", "topic", entry.topic, "query", entry.query != nil)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}

	c.untrack(topic)

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	})
	return err
}

// track stores entry, replacing and stopping any entry on the same topic.
func (c *pahoClient) track(entry *subscriptionEntry) {
	if entry.handler != nil {
		go entry.serve(c.base)
	}
	if prev, loaded := c.subscriptions.Swap(entry.topic, entry); loaded {
		prev.(*subscriptionEntry).stop()
	}
}

func (c *pahoClient) untrack(topic string) {
	if prev, loaded := c.subscriptions.LoadAndDelete(topic); loaded {
		prev.(*subscriptionEntry).stop()
	}
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return fmt.Errorf("client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// --- Internal Callbacks ---

// onConnectionUp is called when the connection is established or re-established.
func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	c.connected.Store(true)
	log.Info("MQTT Connection established")

	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(*subscriptionEntry)
		log.Info("Re-subscribing", "topic", entry.topic)
		if _, err := cm.Subscribe(c.base, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: entry.topic, QoS: byte(entry.qos)},
			},
		}); err != nil {
			log.Error(err, "Failed to re-subscribe", "topic", entry.topic)
		}
		return true
	})
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT Connection failed, retrying...")
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT Client internal error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	if d.Properties != nil {
		log.Warn("MQTT Server requested disconnect", "reason", d.Properties.ReasonString)
	} else {
		log.Warn("MQTT Server requested disconnect", "reasonCode", d.ReasonCode)
	}
}

// router dispatches incoming messages to the registered handlers.
// Matching is a linear scan; a bridge holds a handful of subscriptions.
// Queries are answered concurrently. Messages for one subscriber are queued
// and handled in the order received; when its queue is full the message is
// dropped rather than stalling the paho reader loop.
func (c *pahoClient) router(p paho.PublishReceived) (bool, error) {
	pkt := p.Packet

	matched := false
	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(*subscriptionEntry)
		if !topicsMatch(topicFilter(entry.topic), pkt.Topic) {
			return true
		}
		matched = true
		if entry.query != nil {
			go c.answer(entry.query, pkt)
			return true
		}
		select {
		case entry.inbox <- delivery{topic: pkt.Topic, payload: pkt.Payload}:
		default:
			log.Warn("Subscriber queue full, message dropped", "topic", pkt.Topic, "filter", entry.topic)
		}
		return true
	})

	if !matched {
		log.Debug("Received message on unhandled topic", "topic", pkt.Topic)
	}

	return true, nil // Always acknowledge reception
}

// answer runs a query handler and publishes its reply to the response topic.
func (c *pahoClient) answer(handler QueryHandler, req *paho.Publish) {
	reply := handler(c.base, req.Topic, req.Payload)

	if req.Properties == nil || req.Properties.ResponseTopic == "" {
		log.Debug("Query carried no response topic, reply dropped", "topic", req.Topic)
		return
	}

	_, err := c.cm.Publish(c.base, &paho.Publish{
		Topic:   req.Properties.ResponseTopic,
		QoS:     req.QoS,
		Payload: reply,
		Properties: &paho.PublishProperties{
			CorrelationData: req.Properties.CorrelationData,
		},
	})
	if err != nil {
		log.Error(err, "Failed to publish query reply", "topic", req.Topic, "responseTopic", req.Properties.ResponseTopic)
	}
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}

// topicsMatch checks if a topic matches a filter (supports wildcards + and #).
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}

	if !strings.Contains(filter, "+") && !strings.Contains(filter, "#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

func topicFilter(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		// Format: $share/<group>/<topic>
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}
