// Package link implements vehicle.Link on a gomavlib node.
//
// One goroutine drains the node's events. Frames are dispatched through a
// table keyed by message ID so a missing telemetry kind never delays another
// one; heartbeats additionally wake WaitHeartbeat callers.
package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.bug.st/serial"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/options"
)

// ErrClosed is returned when the link is closed while waiting.
var ErrClosed = errors.New("link closed")

// Sink receives every telemetry message the link decodes.
type Sink interface {
	Observe(kind string, at time.Time, msg message.Message)
}

// Config configures a Link.
type Config struct {
	Endpoints []options.Endpoint
	SystemID  uint8

	// Kinds are the telemetry kinds handed to Sink; see Kinds().
	Kinds []string
	Sink  Sink

	Clock  clock.Clock
	Logger log.Logger
}

var _ vehicle.Link = (*Link)(nil)

// Link is a MAVLink session toward one vehicle.
type Link struct {
	cfg    Config
	clock  clock.Clock
	logger log.Logger

	// handlers is the dispatch table, fixed after New.
	handlers map[uint32]func(sysID, compID uint8, msg message.Message)

	mu    sync.Mutex
	node  *gomavlib.Node
	write func(message.Message)
	done  chan struct{}

	targetSystem    atomic.Uint32
	targetComponent atomic.Uint32
	lastHeartbeat   atomic.Int64

	waitersMu sync.Mutex
	waiters   map[chan vehicle.Heartbeat]struct{}
}

// New creates a closed Link.
func New(cfg Config) (*Link, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("link")
	}

	l := &Link{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		handlers: map[uint32]func(uint8, uint8, message.Message){},
		waiters:  map[chan vehicle.Heartbeat]struct{}{},
	}

	l.handlers[(&ardupilotmega.MessageHeartbeat{}).GetID()] = l.onHeartbeat
	for _, kind := range cfg.Kinds {
		proto, ok := telemetryMessages[kind]
		if !ok {
			return nil, fmt.Errorf("unknown telemetry kind %q", kind)
		}
		l.handlers[proto.GetID()] = l.telemetryHandler(kind)
	}
	return l, nil
}

// Open creates the gomavlib node and starts the read loop.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.node != nil {
		return nil
	}

	endpoints, err := endpointConfs(l.cfg.Endpoints)
	if err != nil {
		return err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   endpoints,
		Dialect:     ardupilotmega.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: l.cfg.SystemID,
	})
	if err != nil {
		return fmt.Errorf("create mavlink node on %v: %w%s", l.cfg.Endpoints, err, serialHint(l.cfg.Endpoints))
	}

	l.node = node
	l.write = func(m message.Message) { node.WriteMessageAll(m) }
	l.done = make(chan struct{})
	go l.readLoop(node, l.done)

	l.logger.Info("MAVLink node started", "endpoints", fmt.Sprint(l.cfg.Endpoints), "systemID", l.cfg.SystemID)
	return nil
}

// Close stops the node. Pending WaitHeartbeat calls return ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	node, done := l.node, l.done
	l.node, l.write, l.done = nil, nil, nil
	l.mu.Unlock()

	if node == nil {
		return nil
	}
	node.Close()
	<-done
	return nil
}

// WaitHeartbeat blocks for the next vehicle heartbeat.
func (l *Link) WaitHeartbeat(ctx context.Context, timeout time.Duration) (vehicle.Heartbeat, error) {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return vehicle.Heartbeat{}, ErrClosed
	}

	ch := make(chan vehicle.Heartbeat, 1)
	l.waitersMu.Lock()
	l.waiters[ch] = struct{}{}
	l.waitersMu.Unlock()
	defer func() {
		l.waitersMu.Lock()
		delete(l.waiters, ch)
		l.waitersMu.Unlock()
	}()

	timer := l.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case hb := <-ch:
		return hb, nil
	case <-timer.C():
		return vehicle.Heartbeat{}, fmt.Errorf("%w after %s", vehicle.ErrHeartbeatTimeout, timeout)
	case <-ctx.Done():
		return vehicle.Heartbeat{}, ctx.Err()
	case <-done:
		return vehicle.Heartbeat{}, ErrClosed
	}
}

// LastHeartbeat returns the time of the latest vehicle heartbeat.
func (l *Link) LastHeartbeat() time.Time {
	ns := l.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Send encodes cmd for the current target and writes it on every channel.
func (l *Link) Send(cmd vehicle.Command) error {
	msg, err := encodeCommand(cmd, uint8(l.targetSystem.Load()), uint8(l.targetComponent.Load()))
	if err != nil {
		return err
	}

	l.mu.Lock()
	write := l.write
	l.mu.Unlock()
	if write == nil {
		return ErrClosed
	}
	write(msg)
	return nil
}

func (l *Link) readLoop(node *gomavlib.Node, done chan struct{}) {
	defer close(done)

	for evt := range node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			l.dispatch(e.SystemID(), e.ComponentID(), e.Message())
		case *gomavlib.EventChannelOpen:
			l.logger.Info("MAVLink channel open", "channel", fmt.Sprint(e.Channel))
		case *gomavlib.EventChannelClose:
			l.logger.Warn("MAVLink channel closed", "channel", fmt.Sprint(e.Channel))
		case *gomavlib.EventParseError:
			l.logger.Debug("MAVLink parse error", "error", e.Error.Error())
		}
	}
}

// dispatch routes one decoded message through the table.
func (l *Link) dispatch(sysID, compID uint8, msg message.Message) {
	if h, ok := l.handlers[msg.GetID()]; ok {
		h(sysID, compID, msg)
	}
}

func (l *Link) onHeartbeat(sysID, compID uint8, msg message.Message) {
	hb, ok := msg.(*ardupilotmega.MessageHeartbeat)
	if !ok || hb.Type == ardupilotmega.MAV_TYPE_GCS {
		return
	}

	now := l.clock.Now()
	l.targetSystem.Store(uint32(sysID))
	l.targetComponent.Store(uint32(compID))
	l.lastHeartbeat.Store(now.UnixNano())
	metrics.HeartbeatsReceived.Inc()

	beat := vehicle.Heartbeat{
		SystemID:    sysID,
		ComponentID: compID,
		Armed:       hb.BaseMode&ardupilotmega.MAV_MODE_FLAG_SAFETY_ARMED != 0,
		ReceivedAt:  now,
	}

	l.waitersMu.Lock()
	for ch := range l.waiters {
		select {
		case ch <- beat:
		default:
		}
	}
	l.waitersMu.Unlock()
}

func (l *Link) telemetryHandler(kind string) func(uint8, uint8, message.Message) {
	return func(sysID, compID uint8, msg message.Message) {
		if l.cfg.Sink == nil {
			return
		}
		if target := l.targetSystem.Load(); target != 0 && uint32(sysID) != target {
			return
		}
		l.cfg.Sink.Observe(kind, l.clock.Now(), msg)
	}
}

func endpointConfs(eps []options.Endpoint) ([]gomavlib.EndpointConf, error) {
	confs := make([]gomavlib.EndpointConf, 0, len(eps))
	for _, ep := range eps {
		switch ep.Kind {
		case options.EndpointSerial:
			confs = append(confs, gomavlib.EndpointSerial{Device: ep.Address, Baud: ep.Baud})
		case options.EndpointUDPServer:
			confs = append(confs, gomavlib.EndpointUDPServer{Address: ep.Address})
		case options.EndpointUDPClient:
			confs = append(confs, gomavlib.EndpointUDPClient{Address: ep.Address})
		case options.EndpointTCPServer:
			confs = append(confs, gomavlib.EndpointTCPServer{Address: ep.Address})
		case options.EndpointTCPClient:
			confs = append(confs, gomavlib.EndpointTCPClient{Address: ep.Address})
		default:
			return nil, fmt.Errorf("unsupported endpoint kind %q", ep.Kind)
		}
	}
	if len(confs) == 0 {
		return nil, errors.New("no endpoints configured")
	}
	return confs, nil
}

// serialHint lists the serial ports present when a serial endpoint is configured.
func serialHint(eps []options.Endpoint) string {
	for _, ep := range eps {
		if ep.Kind != options.EndpointSerial {
			continue
		}
		ports, err := serial.GetPortsList()
		if err != nil || len(ports) == 0 {
			return " (no serial ports found)"
		}
		return fmt.Sprintf(" (available serial ports: %s)", strings.Join(ports, ", "))
	}
	return ""
}
