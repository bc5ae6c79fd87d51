// Package bus gives the bridge declare/undeclare semantics on top of an MQTT
// client: every subscriber, queryable and publisher is a handle owned by a
// Session, and closing the Session releases whatever is still declared.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/mqtt"
)

var (
	// ErrClosed is returned by declarations on a closed Session.
	ErrClosed = errors.New("bus session closed")

	// ErrAlreadyDeclared is returned when a queryable topic is declared twice
	// or when subscribers and a queryable would share a topic.
	ErrAlreadyDeclared = errors.New("topic already declared")
)

// Handle is a declared subscriber, queryable or publisher.
type Handle interface {
	Topic() string
	Undeclare(ctx context.Context) error
}

// Session owns every declaration made through it.
type Session struct {
	client mqtt.Client
	qos    int
	logger log.Logger

	mu         sync.Mutex
	closed     bool
	subs       map[string]map[*subscriber]struct{}
	queryables map[string]*queryable
	publishers map[*Publisher]struct{}
}

// NewSession creates a Session over client. The client is started by Start.
func NewSession(client mqtt.Client, qos int, logger log.Logger) *Session {
	if logger == nil {
		logger = log.WithName("bus")
	}
	return &Session{
		client:     client,
		qos:        qos,
		logger:     logger,
		subs:       map[string]map[*subscriber]struct{}{},
		queryables: map[string]*queryable{},
		publishers: map[*Publisher]struct{}{},
	}
}

// Start connects the client and waits for the broker.
func (s *Session) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}
	if err := s.client.AwaitConnection(ctx); err != nil {
		return err
	}
	metrics.BusConnected.Set(1)
	return nil
}

// Connected reports the client connection state.
func (s *Session) Connected() bool {
	ok := s.client.IsConnected()
	metrics.SetBool(metrics.BusConnected, ok)
	return ok
}

// DeclareSubscriber routes messages on topic to handler. Several subscribers
// may share a topic; the broker subscription lives while any of them does.
func (s *Session) DeclareSubscriber(ctx context.Context, topic string, handler mqtt.MessageHandler) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	// The client keeps one handler per topic, so a subscriber would replace
	// the queryable's responder.
	if _, ok := s.queryables[topic]; ok {
		return nil, fmt.Errorf("%w: %s is served as a queryable", ErrAlreadyDeclared, topic)
	}

	sub := &subscriber{topic: topic, handler: handler, s: s}
	if set, ok := s.subs[topic]; ok {
		set[sub] = struct{}{}
		s.logger.Debug("Subscriber joined existing topic", "topic", topic, "count", len(set))
		return sub, nil
	}

	if err := s.client.Subscribe(ctx, topic, s.qos, s.fanOut(topic)); err != nil {
		return nil, fmt.Errorf("declare subscriber %s: %w", topic, err)
	}
	s.subs[topic] = map[*subscriber]struct{}{sub: {}}
	s.logger.Info("Subscriber declared", "topic", topic)
	return sub, nil
}

// DeclareQueryable answers requests on topic with handler.
func (s *Session) DeclareQueryable(ctx context.Context, topic string, handler mqtt.QueryHandler) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.queryables[topic]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDeclared, topic)
	}
	if _, ok := s.subs[topic]; ok {
		return nil, fmt.Errorf("%w: %s has subscribers", ErrAlreadyDeclared, topic)
	}

	if err := s.client.Serve(ctx, topic, s.qos, handler); err != nil {
		return nil, fmt.Errorf("declare queryable %s: %w", topic, err)
	}
	q := &queryable{topic: topic, s: s}
	s.queryables[topic] = q
	s.logger.Info("Queryable declared", "topic", topic)
	return q, nil
}

// DeclarePublisher returns a publisher bound to topic.
func (s *Session) DeclarePublisher(topic string) (*Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	p := &Publisher{topic: topic, s: s}
	s.publishers[p] = struct{}{}
	return p, nil
}

// Live returns the topics with at least one live declaration.
func (s *Session) Live() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var topics []string
	for t := range s.subs {
		topics = append(topics, t)
	}
	for t := range s.queryables {
		topics = append(topics, t)
	}
	for p := range s.publishers {
		topics = append(topics, p.topic)
	}
	return topics
}

// Close undeclares everything still live and disconnects the client. Every
// undeclaration is attempted; failures are aggregated.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var errs []error
	for topic := range s.subs {
		if err := s.client.Unsubscribe(ctx, topic); err != nil {
			errs = append(errs, fmt.Errorf("undeclare subscriber %s: %w", topic, err))
		}
	}
	for topic := range s.queryables {
		if err := s.client.Unsubscribe(ctx, topic); err != nil {
			errs = append(errs, fmt.Errorf("undeclare queryable %s: %w", topic, err))
		}
	}
	s.subs = map[string]map[*subscriber]struct{}{}
	s.queryables = map[string]*queryable{}
	s.publishers = map[*Publisher]struct{}{}
	s.mu.Unlock()

	s.client.Disconnect(ctx)
	metrics.BusConnected.Set(0)
	s.logger.Info("Bus session closed")
	return utilerrors.NewAggregate(errs)
}

func (s *Session) fanOut(topic string) mqtt.MessageHandler {
	return func(ctx context.Context, t string, payload []byte) {
		s.mu.Lock()
		handlers := make([]mqtt.MessageHandler, 0, len(s.subs[topic]))
		for sub := range s.subs[topic] {
			handlers = append(handlers, sub.handler)
		}
		s.mu.Unlock()

		for _, h := range handlers {
			h(ctx, t, payload)
		}
	}
}

type subscriber struct {
	topic   string
	handler mqtt.MessageHandler
	s       *Session
}

func (h *subscriber) Topic() string { return h.topic }

func (h *subscriber) Undeclare(ctx context.Context) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[h.topic]
	if !ok {
		return nil
	}
	if _, ok := set[h]; !ok {
		return nil
	}
	delete(set, h)
	if len(set) > 0 {
		return nil
	}
	delete(s.subs, h.topic)
	if err := s.client.Unsubscribe(ctx, h.topic); err != nil {
		return fmt.Errorf("undeclare subscriber %s: %w", h.topic, err)
	}
	s.logger.Info("Subscriber undeclared", "topic", h.topic)
	return nil
}

type queryable struct {
	topic string
	s     *Session
}

func (h *queryable) Topic() string { return h.topic }

func (h *queryable) Undeclare(ctx context.Context) error {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryables[h.topic] != h {
		return nil
	}
	delete(s.queryables, h.topic)
	if err := s.client.Unsubscribe(ctx, h.topic); err != nil {
		return fmt.Errorf("undeclare queryable %s: %w", h.topic, err)
	}
	s.logger.Info("Queryable undeclared", "topic", h.topic)
	return nil
}

// Publisher publishes on one topic.
type Publisher struct {
	topic string
	s     *Session
}

func (p *Publisher) Topic() string { return p.topic }

// Publish sends payload on the publisher's topic.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	p.s.mu.Lock()
	_, live := p.s.publishers[p]
	p.s.mu.Unlock()
	if !live {
		return ErrClosed
	}
	return p.s.client.Publish(ctx, p.topic, p.s.qos, false, payload)
}

// Undeclare releases the publisher.
func (p *Publisher) Undeclare(ctx context.Context) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	delete(p.s.publishers, p)
	return nil
}
