package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
)

// Outcome is the result of a gated actuation. Rejections are not errors.
type Outcome int

const (
	Applied Outcome = iota
	RejectedGate
	RejectedNotConnected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return metrics.OutcomeApplied
	case RejectedGate:
		return metrics.OutcomeRejectedGate
	case RejectedNotConnected:
		return metrics.OutcomeRejectedNotConnected
	default:
		return "unknown"
	}
}

// Config configures a Controller.
type Config struct {
	// AllowOverride is the initial state of the RC override gate.
	AllowOverride bool

	SteeringChannel int
	ThrottleChannel int
	PropulsionRelay int

	// StatusTimeout bounds a single arm-state query.
	StatusTimeout time.Duration

	// ArmRetries and ArmRetryInterval shape the retrying arm/disarm variants.
	ArmRetries       int
	ArmRetryInterval time.Duration
}

// Status is a point-in-time view of the controller.
type Status struct {
	Connected     bool      `json:"connected"`
	HeartbeatSeen bool      `json:"heartbeatSeen"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
	ArmState      ArmState  `json:"armState"`
	AllowOverride bool      `json:"allowOverride"`
}

// Controller owns the vehicle session, the cached arm state and the safety
// gate. It is safe for concurrent use; all writes to the link are serialized.
type Controller struct {
	cfg    Config
	link   Link
	logger log.Logger

	// sessionMu guards Connect/Close so a live session is never opened twice.
	sessionMu sync.Mutex
	live      atomic.Bool

	// writeMu serializes every Send on the link.
	writeMu sync.Mutex

	heartbeat     atomic.Bool
	allowOverride atomic.Bool

	arm *armStateMachine
}

// NewController creates a Controller over link.
func NewController(cfg Config, link Link, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.WithName("vehicle")
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = time.Second
	}
	if cfg.ArmRetries < 1 {
		cfg.ArmRetries = 1
	}
	c := &Controller{
		cfg:    cfg,
		link:   link,
		logger: logger,
		arm:    newArmStateMachine(logger),
	}
	c.allowOverride.Store(cfg.AllowOverride)
	return c
}

// Connect opens a session on the link. While a session is live further
// calls open nothing.
func (c *Controller) Connect(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.live.Load() {
		c.logger.Debug("Connect skipped, session already live")
		return nil
	}
	if err := c.link.Open(ctx); err != nil {
		return linkError("open", err)
	}
	c.live.Store(true)
	metrics.LinkConnected.Set(1)
	c.logger.Info("Vehicle link opened")
	return nil
}

// Close ends the session. A later Connect opens a fresh one.
func (c *Controller) Close() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if !c.live.Swap(false) {
		return nil
	}
	c.heartbeat.Store(false)
	metrics.LinkConnected.Set(0)
	if err := c.link.Close(); err != nil {
		return linkError("close", err)
	}
	c.logger.Info("Vehicle link closed")
	return nil
}

// Connected reports whether a session is live.
func (c *Controller) Connected() bool {
	return c.live.Load()
}

// WaitForHeartbeat blocks until a heartbeat is seen or timeout elapses.
func (c *Controller) WaitForHeartbeat(ctx context.Context, timeout time.Duration) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	c.logger.Info("Waiting for vehicle heartbeat", "timeout", timeout)
	hb, err := c.link.WaitHeartbeat(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrHeartbeatTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return linkError("wait heartbeat", err)
	}
	c.heartbeat.Store(true)
	c.logger.Info("Heartbeat received", "system", hb.SystemID, "component", hb.ComponentID, "armed", hb.Armed)
	return nil
}

// HeartbeatSeen reports whether WaitForHeartbeat succeeded on this session.
func (c *Controller) HeartbeatSeen() bool {
	return c.heartbeat.Load()
}

// LastHeartbeat returns when the link last saw a heartbeat.
func (c *Controller) LastHeartbeat() time.Time {
	return c.link.LastHeartbeat()
}

// IsArmed queries the vehicle's arm state, bounded by the status timeout.
// A failed query is logged and reported as not armed.
func (c *Controller) IsArmed(ctx context.Context) bool {
	armed, ok := c.queryArmed(ctx)
	if !ok {
		return false
	}
	c.arm.reconcile(armed)
	return armed
}

func (c *Controller) queryArmed(ctx context.Context) (bool, bool) {
	if !c.Connected() {
		c.logger.Warn("Arm state query skipped, vehicle not connected")
		return false, false
	}
	hb, err := c.link.WaitHeartbeat(ctx, c.cfg.StatusTimeout)
	if err != nil {
		c.logger.Warn("Arm state query failed", "timeout", c.cfg.StatusTimeout, "error", err.Error())
		return false, false
	}
	return hb.Armed, true
}

// State returns the cached arm state.
func (c *Controller) State() ArmState {
	return c.arm.state()
}

// ArmVehicle sends an arm command and confirms it with one arm-state query.
// It returns true only when the vehicle reports armed. No retry is made.
func (c *Controller) ArmVehicle(ctx context.Context) (bool, error) {
	return c.setArmed(ctx, true)
}

// DisarmVehicle sends a disarm command and confirms it with one arm-state
// query. A confirmed disarm also clears a latched emergency stop.
func (c *Controller) DisarmVehicle(ctx context.Context) (bool, error) {
	return c.setArmed(ctx, false)
}

// ArmVehicleWithRetry repeats ArmVehicle until confirmed or the configured
// attempts are used up. Errors stop the retries.
func (c *Controller) ArmVehicleWithRetry(ctx context.Context) (bool, error) {
	return c.retry(ctx, c.ArmVehicle)
}

// DisarmVehicleWithRetry repeats DisarmVehicle like ArmVehicleWithRetry.
func (c *Controller) DisarmVehicleWithRetry(ctx context.Context) (bool, error) {
	return c.retry(ctx, c.DisarmVehicle)
}

func (c *Controller) setArmed(ctx context.Context, arm bool) (bool, error) {
	cmd := ArmDisarm{Arm: arm}
	if arm && c.State() == StateEmergency {
		c.logger.Warn("Arm refused, emergency stop latched")
		return false, ErrEmergencyLatched
	}
	if err := c.send(cmd); err != nil {
		return false, err
	}

	armed, ok := c.queryArmed(ctx)
	if !ok || armed != arm {
		c.logger.Warn("Command not confirmed by vehicle", "command", cmd.String(), "answered", ok)
		return false, nil
	}

	event := EventDisarm
	if arm {
		event = EventArm
	}
	if err := c.arm.fire(ctx, event); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) retry(ctx context.Context, op func(context.Context) (bool, error)) (bool, error) {
	backoff := wait.Backoff{
		Duration: c.cfg.ArmRetryInterval,
		Factor:   1.0,
		Steps:    c.cfg.ArmRetries,
	}
	attempt := 0
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		done, err := op(ctx)
		if err != nil {
			return false, err
		}
		if !done {
			c.logger.Info("Attempt not confirmed", "attempt", attempt, "of", c.cfg.ArmRetries)
		}
		return done, nil
	})
	if err != nil {
		if ctx.Err() == nil && wait.Interrupted(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetRelay switches a relay. There is no read-back; the call returns once
// the command is written.
func (c *Controller) SetRelay(index int, on bool) error {
	return c.send(SetRelay{Index: index, On: on})
}

// EnablePropulsion powers the propulsion relay.
func (c *Controller) EnablePropulsion() error {
	if c.State() == StateEmergency {
		c.logger.Warn("Propulsion enable refused, emergency stop latched")
		return ErrEmergencyLatched
	}
	return c.SetRelay(c.cfg.PropulsionRelay, true)
}

// DisablePropulsion cuts the propulsion relay.
func (c *Controller) DisablePropulsion() error {
	return c.SetRelay(c.cfg.PropulsionRelay, false)
}

// EmergencyStop latches EMERGENCY and cuts the propulsion relay. The
// override gate does not apply.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	if err := c.arm.fire(ctx, EventEmergency); err != nil {
		c.logger.Error(err, "Failed to latch emergency state")
	}
	c.logger.Warn("Emergency stop", "relay", c.cfg.PropulsionRelay)
	return c.DisablePropulsion()
}

// SetAllowOverride opens or closes the RC override gate.
func (c *Controller) SetAllowOverride(allow bool) {
	if c.allowOverride.Swap(allow) != allow {
		c.logger.Info("RC override gate changed", "allowOverride", allow)
	}
}

// AllowOverride reports the state of the RC override gate.
func (c *Controller) AllowOverride() bool {
	return c.allowOverride.Load()
}

// SetSteering overrides the steering channel.
func (c *Controller) SetSteering(pwm uint16) (Outcome, error) {
	return c.SetChannel(c.cfg.SteeringChannel, pwm)
}

// SetThrottle overrides the throttle channel.
func (c *Controller) SetThrottle(pwm uint16) (Outcome, error) {
	return c.SetChannel(c.cfg.ThrottleChannel, pwm)
}

// SetChannel overrides one RC channel with pwm, passed through unclamped.
// Other channels are left alone.
func (c *Controller) SetChannel(channel int, pwm uint16) (Outcome, error) {
	if !ValidChannel(channel) {
		return Applied, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if !c.AllowOverride() {
		c.logger.Info("RC override rejected, gate closed", "channel", channel, "pwm", pwm)
		return RejectedGate, nil
	}
	if !c.Connected() {
		c.logger.Warn("RC override rejected, vehicle not connected", "channel", channel, "pwm", pwm)
		return RejectedNotConnected, nil
	}
	if err := c.send(NewRCOverride(channel, pwm)); err != nil {
		return Applied, err
	}
	c.logger.Debug("RC override sent", "channel", channel, "pwm", pwm)
	return Applied, nil
}

// ReleaseOverrides hands every RC channel back to the transmitter.
func (c *Controller) ReleaseOverrides() error {
	var o RCOverride
	for i := range o.Channels {
		o.Channels[i] = ChannelRelease
	}
	return c.send(o)
}

// Status returns a snapshot for status reporting.
func (c *Controller) Status() Status {
	return Status{
		Connected:     c.Connected(),
		HeartbeatSeen: c.HeartbeatSeen(),
		LastHeartbeat: c.link.LastHeartbeat(),
		ArmState:      c.State(),
		AllowOverride: c.AllowOverride(),
	}
}

func (c *Controller) send(cmd Command) error {
	if !c.Connected() {
		c.logger.Warn("Command dropped, vehicle not connected", "command", cmd.String())
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.link.Send(cmd); err != nil {
		err = linkError("send "+cmd.String(), err)
		c.logger.Error(err, "Failed to send command")
		return err
	}
	return nil
}
