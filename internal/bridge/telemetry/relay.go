// Package telemetry relays decoded vehicle telemetry onto the bus. The link
// hands every message to the Relay as it arrives; once per cycle the Relay
// publishes the newest frame of each kind that has changed since the last
// cycle.
package telemetry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/mavbridge/internal/pkg/envelope"
	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
)

// Frame is one telemetry message converted to plain fields.
type Frame struct {
	Kind   string         `json:"kind" cbor:"kind"`
	At     time.Time      `json:"at" cbor:"at"`
	Fields map[string]any `json:"fields" cbor:"fields"`
}

// Publisher sends an enclosed payload on one topic.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Observer receives every frame the relay publishes.
type Observer interface {
	OnFrame(f Frame)
}

// Config configures a Relay.
type Config struct {
	Interval time.Duration
	// Kinds are published in this order within a cycle.
	Kinds []string
}

// Relay caches the latest frame per kind and publishes fresh ones each cycle.
type Relay struct {
	cfg        Config
	publishers map[string]Publisher
	encoder    Encoder
	codec      *envelope.Codec
	clock      clock.WithTicker
	logger     log.Logger

	mu        sync.Mutex
	pending   map[string]Frame
	latest    map[string]Frame
	observers []Observer
}

// NewRelay creates a Relay. Every configured kind needs a publisher.
func NewRelay(cfg Config, publishers map[string]Publisher, encoder Encoder, codec *envelope.Codec, clk clock.WithTicker, logger log.Logger) (*Relay, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("telemetry interval must be positive, got %v", cfg.Interval)
	}
	for _, kind := range cfg.Kinds {
		if publishers[kind] == nil {
			return nil, fmt.Errorf("no publisher for telemetry kind %q", kind)
		}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.WithName("telemetry")
	}
	return &Relay{
		cfg:        cfg,
		publishers: publishers,
		encoder:    encoder,
		codec:      codec,
		clock:      clk,
		logger:     logger,
		pending:    map[string]Frame{},
		latest:     map[string]Frame{},
	}, nil
}

// AddObserver registers o for every published frame.
func (r *Relay) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Observe implements link.Sink. Only the newest frame of a kind is kept.
func (r *Relay) Observe(kind string, at time.Time, msg message.Message) {
	f := Frame{Kind: kind, At: at, Fields: Fields(msg)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[kind] = f
}

// Run publishes a cycle every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Telemetry relay started", "interval", r.cfg.Interval, "kinds", r.cfg.Kinds, "format", r.encoder.Format())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			r.Flush(ctx)
		}
	}
}

// Flush publishes every fresh frame once and returns how many were sent.
func (r *Relay) Flush(ctx context.Context) int {
	r.mu.Lock()
	fresh := make([]Frame, 0, len(r.pending))
	for _, kind := range r.cfg.Kinds {
		if f, ok := r.pending[kind]; ok {
			fresh = append(fresh, f)
			delete(r.pending, kind)
		}
	}
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	sent := 0
	for _, f := range fresh {
		if err := r.publish(ctx, f); err != nil {
			r.logger.Error(err, "Telemetry frame dropped", "handler", "telemetry", "kind", f.Kind)
			metrics.DroppedMessages.WithLabelValues("telemetry", "publish").Inc()
			continue
		}
		sent++
		metrics.TelemetryPublished.WithLabelValues(f.Kind).Inc()

		r.mu.Lock()
		r.latest[f.Kind] = f
		r.mu.Unlock()

		for _, o := range observers {
			o.OnFrame(f)
		}
	}
	return sent
}

func (r *Relay) publish(ctx context.Context, f Frame) error {
	payload, err := r.encoder.Encode(f.Fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Kind, err)
	}
	return r.publishers[f.Kind].Publish(ctx, r.codec.Enclose(payload))
}

// Latest returns the last published frame of every kind, in kind order.
func (r *Relay) Latest() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Frame, 0, len(r.latest))
	for _, kind := range r.cfg.Kinds {
		if f, ok := r.latest[kind]; ok {
			out = append(out, f)
		}
	}
	return out
}
