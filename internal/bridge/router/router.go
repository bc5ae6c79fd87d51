package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
	"github.com/autopeer-io/mavbridge/internal/pkg/envelope"
	"github.com/autopeer-io/mavbridge/internal/pkg/mapper"
	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/mqtt"
	"github.com/autopeer-io/mavbridge/pkg/mqtt/topic"
)

var (
	// ErrDecode is returned for malformed command payloads.
	ErrDecode = envelope.ErrDecode

	// ErrOutOfDomain is returned for percentages outside the accepted domain.
	ErrOutOfDomain = errors.New("value outside percentage domain")
)

// familyIndex is the level of the family name in a command topic.
const familyIndex = topic.TargetIndex - 1

// Actuator is the part of the vehicle controller the router drives.
type Actuator interface {
	SetSteering(pwm uint16) (vehicle.Outcome, error)
	SetThrottle(pwm uint16) (vehicle.Outcome, error)
	SetChannel(channel int, pwm uint16) (vehicle.Outcome, error)
}

// Config configures a Router.
type Config struct {
	// Scale maps command percentages to PWM.
	Scale mapper.Range

	// Channels overrides the RC channel of a unit, keyed "family.target".
	Channels map[string]int
}

// Command is a decoded inbound command.
type Command struct {
	Family     Family
	Target     Target
	ReceivedAt time.Time
	EnclosedAt time.Time
	Value      float64
}

// Result is what Route did with a command.
type Result struct {
	Command Command
	PWM     uint16
	Outcome vehicle.Outcome
}

// Router turns topic-addressed commands into one actuator call each.
type Router struct {
	cfg    Config
	act    Actuator
	codec  *envelope.Codec
	logger log.Logger
}

// New creates a Router.
func New(cfg Config, act Actuator, codec *envelope.Codec, logger log.Logger) (*Router, error) {
	if err := cfg.Scale.Validate(); err != nil {
		return nil, err
	}
	for key, ch := range cfg.Channels {
		if !vehicle.ValidChannel(ch) {
			return nil, fmt.Errorf("channel for %s: %w: %d", key, vehicle.ErrInvalidChannel, ch)
		}
	}
	if logger == nil {
		logger = log.WithName("router")
	}
	return &Router{cfg: cfg, act: act, codec: codec, logger: logger}, nil
}

// Route decodes the envelope on a command topic, parses the target from the
// topic and applies the value.
func (r *Router) Route(ctx context.Context, topicName string, payload []byte) (Result, error) {
	env, err := r.codec.Uncover(payload)
	if err != nil {
		return Result{}, err
	}
	ts, value, err := envelope.DecodeFloat(env.Payload)
	if err != nil {
		return Result{}, err
	}

	familySeg, _ := topic.Segment(topicName, familyIndex)
	family, err := ParseFamily(familySeg)
	if err != nil {
		return Result{}, err
	}
	targetSeg, ok := topic.Target(topicName)
	if !ok {
		return Result{}, fmt.Errorf("%w: no target level in %q", ErrUnknownTarget, topicName)
	}
	target, err := ParseTarget(family, targetSeg)
	if err != nil {
		return Result{}, err
	}

	enclosedAt := env.EnclosedAt
	if enclosedAt.IsZero() {
		enclosedAt = ts
	}
	return r.Apply(Command{
		Family:     family,
		Target:     target,
		ReceivedAt: env.ReceivedAt,
		EnclosedAt: enclosedAt,
		Value:      value,
	})
}

// Apply range-maps a command and dispatches it.
func (r *Router) Apply(cmd Command) (Result, error) {
	res := Result{Command: cmd}

	if !r.cfg.Scale.Contains(cmd.Value) {
		return res, fmt.Errorf("%w: %g not in [%g, %g]", ErrOutOfDomain, cmd.Value, r.cfg.Scale.InMin, r.cfg.Scale.InMax)
	}
	mapped, err := r.cfg.Scale.Map(cmd.Value)
	if err != nil {
		return res, err
	}
	pwm := math.Round(mapped)
	if pwm < 0 || pwm >= math.MaxUint16 {
		return res, fmt.Errorf("%w: pwm %g not representable", ErrOutOfDomain, pwm)
	}
	res.PWM = uint16(pwm)

	var outcome vehicle.Outcome
	if ch, ok := r.cfg.Channels[string(cmd.Family)+"."+cmd.Target.String()]; ok {
		outcome, err = r.act.SetChannel(ch, res.PWM)
	} else {
		switch cmd.Family {
		case Rudder:
			outcome, err = r.act.SetSteering(res.PWM)
		case Engine:
			outcome, err = r.act.SetThrottle(res.PWM)
		default:
			return res, fmt.Errorf("%w: %s %s", ErrNotWired, cmd.Family, cmd.Target)
		}
	}
	res.Outcome = outcome
	if err != nil {
		return res, err
	}

	if !cmd.ReceivedAt.IsZero() {
		metrics.CommandLatency.WithLabelValues(string(cmd.Family)).Observe(r.codec.Now().Sub(cmd.ReceivedAt).Seconds())
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Family), outcome.String()).Inc()
	r.logger.Debug("Command applied", "family", cmd.Family, "target", cmd.Target.String(), "value", cmd.Value, "pwm", res.PWM, "outcome", outcome.String())
	return res, nil
}

// QueryHandler serves a command topic. Every request is acknowledged with a
// status string; errors are logged and reported in the acknowledgement.
func (r *Router) QueryHandler(name string) mqtt.QueryHandler {
	return func(ctx context.Context, topicName string, payload []byte) []byte {
		res, err := r.Route(ctx, topicName, payload)
		status := Status(res, err)
		if err != nil {
			r.logger.Error(err, "Command dropped", "handler", name, "topic", topicName)
			metrics.DroppedMessages.WithLabelValues(name, Reason(err)).Inc()
			family := string(res.Command.Family)
			if family == "" {
				family = "unknown"
			}
			metrics.CommandsTotal.WithLabelValues(family, metrics.OutcomeError).Inc()
		}
		return r.Ack(status)
	}
}

// Ack encloses a status acknowledgement.
func (r *Router) Ack(status string) []byte {
	return r.codec.Enclose(envelope.EncodeString(r.codec.Now(), status))
}

// Status renders the acknowledgement text for a routing result.
func Status(res Result, err error) string {
	if err != nil {
		return "error: " + Reason(err)
	}
	switch res.Outcome {
	case vehicle.RejectedGate:
		return "rejected: override disabled"
	case vehicle.RejectedNotConnected:
		return "rejected: vehicle not connected"
	default:
		return "ok"
	}
}

// Reason names the class of a routing error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, ErrNotWired):
		return "not_wired"
	case errors.Is(err, ErrOutOfDomain):
		return "out_of_domain"
	case errors.Is(err, mapper.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, vehicle.ErrLink):
		return "link"
	case errors.Is(err, vehicle.ErrInvalidChannel):
		return "invalid_channel"
	default:
		return "internal"
	}
}
