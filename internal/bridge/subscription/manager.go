// Package subscription follows externally named listener topics. Each control
// channel holds at most one live subscription, and replacing it always
// undeclares the previous one first.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/mavbridge/internal/bridge/bus"
	"github.com/autopeer-io/mavbridge/internal/bridge/router"
	"github.com/autopeer-io/mavbridge/internal/pkg/envelope"
	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/mavbridge/internal/pkg/util/fsm"
	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/mqtt"
	"github.com/autopeer-io/mavbridge/pkg/mqtt/topic"
)

// MinTopicLength is the longest payload still read as "stop listening".
const MinTopicLength = 5

// ErrUnknownChannel is returned for channels the manager does not own.
var ErrUnknownChannel = errors.New("unknown listener channel")

// Channel is a logical control channel fed by a listener topic.
type Channel string

const (
	RudderChannel Channel = "rudder"
	EngineChannel Channel = "engine"
)

const (
	StateUnsubscribed = "unsubscribed"
	StateSubscribed   = "subscribed"

	EventSubscribe   = "event_subscribe"
	EventUnsubscribe = "event_unsubscribe"
)

// Declarer creates bus subscriptions.
type Declarer interface {
	DeclareSubscriber(ctx context.Context, topic string, handler mqtt.MessageHandler) (bus.Handle, error)
}

// Applier applies a decoded lever command.
type Applier interface {
	Apply(cmd router.Command) (router.Result, error)
}

// Config configures a Manager.
type Config struct {
	// Realm prefixes keys received on the listener_key topics.
	Realm string
}

type channelState struct {
	mu     sync.Mutex
	name   Channel
	family router.Family
	fsm    *fsm.FSM
	handle bus.Handle
}

// Manager owns the listener subscription of every channel.
type Manager struct {
	cfg      Config
	declarer Declarer
	applier  Applier
	codec    *envelope.Codec
	logger   log.Logger

	channels map[Channel]*channelState
}

// NewManager creates a Manager for the rudder and engine channels.
func NewManager(cfg Config, declarer Declarer, applier Applier, codec *envelope.Codec, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.WithName("subscription")
	}
	m := &Manager{
		cfg:      cfg,
		declarer: declarer,
		applier:  applier,
		codec:    codec,
		logger:   logger,
		channels: map[Channel]*channelState{},
	}
	m.addChannel(RudderChannel, router.Rudder)
	m.addChannel(EngineChannel, router.Engine)
	return m
}

func (m *Manager) addChannel(name Channel, family router.Family) {
	cs := &channelState{name: name, family: family}
	cs.fsm = fsm.NewFSM(
		StateUnsubscribed,
		fsm.Events{
			{Name: EventSubscribe, Src: []string{StateUnsubscribed, StateSubscribed}, Dst: StateSubscribed},
			{Name: EventUnsubscribe, Src: []string{StateSubscribed}, Dst: StateUnsubscribed},
		},
		fsm.Callbacks{
			"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
				metrics.SetBool(metrics.ListenerSubscribed.WithLabelValues(string(name)), e.Dst == StateSubscribed)
				return nil
			}),
		},
	)
	metrics.ListenerSubscribed.WithLabelValues(string(name)).Set(0)
	m.channels[name] = cs
}

// Set applies a listener control message: a topic longer than MinTopicLength
// subscribes, anything shorter unsubscribes.
func (m *Manager) Set(ctx context.Context, ch Channel, topicName string) error {
	if len(topicName) > MinTopicLength {
		return m.Subscribe(ctx, ch, topicName)
	}
	return m.Unsubscribe(ctx, ch)
}

// Subscribe points ch at topicName. Subscribing to the topic already followed
// does nothing; a different topic replaces the current subscription.
func (m *Manager) Subscribe(ctx context.Context, ch Channel, topicName string) error {
	cs, ok := m.channels[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.handle != nil {
		if cs.handle.Topic() == topicName {
			m.logger.Debug("Listener already subscribed", "channel", ch, "topic", topicName)
			return nil
		}
		m.release(ctx, cs)
	}

	handle, err := m.declarer.DeclareSubscriber(ctx, topicName, m.leverHandler(cs))
	if err != nil {
		return err
	}
	cs.handle = handle
	if err := cs.fsm.Event(ctx, EventSubscribe); !fsmutil.IsNoop(err) {
		return err
	}
	m.logger.Info("Listener subscribed", "channel", ch, "topic", topicName)
	return nil
}

// Unsubscribe stops following the channel's listener topic, if any.
func (m *Manager) Unsubscribe(ctx context.Context, ch Channel) error {
	cs, ok := m.channels[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.handle == nil {
		return nil
	}
	m.release(ctx, cs)
	return nil
}

// release undeclares the current handle. Undeclare failures are logged only;
// the handle is dropped either way.
func (m *Manager) release(ctx context.Context, cs *channelState) {
	t := cs.handle.Topic()
	if err := cs.handle.Undeclare(ctx); err != nil {
		m.logger.Error(err, "Failed to undeclare listener", "channel", cs.name, "topic", t)
	}
	cs.handle = nil
	if err := cs.fsm.Event(ctx, EventUnsubscribe); !fsmutil.IsNoop(err) {
		m.logger.Error(err, "Listener state transition failed", "channel", cs.name)
	}
	m.logger.Info("Listener unsubscribed", "channel", cs.name, "topic", t)
}

// Topic returns the topic ch follows, or "".
func (m *Manager) Topic(ch Channel) string {
	cs, ok := m.channels[ch]
	if !ok {
		return ""
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.handle == nil {
		return ""
	}
	return cs.handle.Topic()
}

// State returns the state of ch.
func (m *Manager) State(ch Channel) string {
	cs, ok := m.channels[ch]
	if !ok {
		return ""
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.fsm.Current()
}

// Topics returns the followed topic of every subscribed channel.
func (m *Manager) Topics() map[string]string {
	out := map[string]string{}
	for _, ch := range m.Channels() {
		if t := m.Topic(ch); t != "" {
			out[string(ch)] = t
		}
	}
	return out
}

// Channels returns the managed channels in name order.
func (m *Manager) Channels() []Channel {
	chs := make([]Channel, 0, len(m.channels))
	for ch := range m.channels {
		chs = append(chs, ch)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
	return chs
}

// Close unsubscribes every channel.
func (m *Manager) Close(ctx context.Context) {
	for _, ch := range m.Channels() {
		_ = m.Unsubscribe(ctx, ch)
	}
}

// ResolveKey turns a listener_key payload into a topic under the realm.
func (m *Manager) ResolveKey(key string) string {
	key = strings.TrimPrefix(key, topic.Separator)
	if len(key) <= MinTopicLength || m.cfg.Realm == "" {
		return key
	}
	return m.cfg.Realm + topic.Separator + key
}

// QueryHandler serves a listener control topic. With relative set, the
// payload is a key resolved under the realm.
func (m *Manager) QueryHandler(ch Channel, relative bool) mqtt.QueryHandler {
	handler := fmt.Sprintf("%s_listener", ch)
	return func(ctx context.Context, topicName string, payload []byte) []byte {
		status, err := m.control(ctx, ch, relative, payload)
		if err != nil {
			m.logger.Error(err, "Listener control dropped", "handler", handler, "topic", topicName)
			metrics.DroppedMessages.WithLabelValues(handler, router.Reason(err)).Inc()
			status = "error: " + err.Error()
		}
		return m.codec.Enclose(envelope.EncodeString(m.codec.Now(), status))
	}
}

func (m *Manager) control(ctx context.Context, ch Channel, relative bool, payload []byte) (string, error) {
	env, err := m.codec.Uncover(payload)
	if err != nil {
		return "", err
	}
	_, name, err := envelope.DecodeString(env.Payload)
	if err != nil {
		return "", err
	}
	if relative {
		name = m.ResolveKey(name)
	}
	if err := m.Set(ctx, ch, name); err != nil {
		return "", err
	}
	if t := m.Topic(ch); t != "" {
		return "subscribed: " + t, nil
	}
	return "unsubscribed", nil
}

// leverHandler applies lever percentages received on a listener topic as a
// combined command on the channel's family.
func (m *Manager) leverHandler(cs *channelState) mqtt.MessageHandler {
	handler := fmt.Sprintf("%s_lever", cs.name)
	return func(ctx context.Context, topicName string, payload []byte) {
		if err := m.applyLever(cs.family, payload); err != nil {
			m.logger.Error(err, "Lever message dropped", "handler", handler, "topic", topicName)
			metrics.DroppedMessages.WithLabelValues(handler, router.Reason(err)).Inc()
		}
	}
}

func (m *Manager) applyLever(family router.Family, payload []byte) error {
	env, err := m.codec.Uncover(payload)
	if err != nil {
		return err
	}
	ts, value, err := envelope.DecodeFloat(env.Payload)
	if err != nil {
		return err
	}
	enclosedAt := env.EnclosedAt
	if enclosedAt.IsZero() {
		enclosedAt = ts
	}
	_, err = m.applier.Apply(router.Command{
		Family:     family,
		Target:     router.CombinedTarget,
		ReceivedAt: env.ReceivedAt,
		EnclosedAt: enclosedAt,
		Value:      value,
	})
	return err
}
