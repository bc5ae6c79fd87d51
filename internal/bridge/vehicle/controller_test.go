package vehicle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autopeer-io/mavbridge/pkg/log"
)

// fakeLink records every call. When obey is set, an ArmDisarm command flips
// the armed flag reported by later heartbeats.
type fakeLink struct {
	mu sync.Mutex

	opens, closes int
	sent          []Command
	sendErr       error
	openErr       error

	armed bool
	obey  bool
	// obeyAfter delays obedience until that many ArmDisarm commands were sent.
	obeyAfter int
	armSends  int

	// silent makes WaitHeartbeat time out.
	silent bool

	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func (f *fakeLink) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeLink) WaitHeartbeat(ctx context.Context, timeout time.Duration) (Heartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.silent {
		return Heartbeat{}, ErrHeartbeatTimeout
	}
	return Heartbeat{SystemID: 1, ComponentID: 1, Armed: f.armed}, nil
}

func (f *fakeLink) LastHeartbeat() time.Time { return time.Time{} }

func (f *fakeLink) Send(cmd Command) error {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inFlight.Add(-1)
	time.Sleep(50 * time.Microsecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	if ad, ok := cmd.(ArmDisarm); ok {
		f.armSends++
		if f.obey && f.armSends > f.obeyAfter {
			f.armed = ad.Arm
		}
	}
	return nil
}

func (f *fakeLink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestController(t *testing.T, link *fakeLink, allow bool) *Controller {
	t.Helper()
	c := NewController(Config{
		AllowOverride:    allow,
		SteeringChannel:  1,
		ThrottleChannel:  3,
		PropulsionRelay:  2,
		StatusTimeout:    10 * time.Millisecond,
		ArmRetries:       3,
		ArmRetryInterval: time.Millisecond,
	}, link, log.NewNopLogger())
	return c
}

func connected(t *testing.T, link *fakeLink, allow bool) *Controller {
	t.Helper()
	c := newTestController(t, link, allow)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	link := &fakeLink{}
	c := connected(t, link, false)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if link.opens != 1 {
		t.Fatalf("opens = %d, want 1", link.opens)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if link.closes != 1 {
		t.Errorf("closes = %d, want 1", link.closes)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if link.opens != 2 {
		t.Errorf("opens after reconnect = %d, want 2", link.opens)
	}
}

func TestConnectFailureIsLinkError(t *testing.T) {
	link := &fakeLink{openErr: errors.New("no such device")}
	c := newTestController(t, link, false)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrLink) {
		t.Fatalf("Connect() error = %v, want ErrLink", err)
	}
	if c.Connected() {
		t.Error("controller reports connected after failed open")
	}
}

func TestGateClosedNeverReachesLink(t *testing.T) {
	link := &fakeLink{}
	c := connected(t, link, false)

	for _, set := range []func(uint16) (Outcome, error){c.SetSteering, c.SetThrottle} {
		out, err := set(1700)
		if err != nil || out != RejectedGate {
			t.Errorf("got (%v, %v), want (%v, nil)", out, err, RejectedGate)
		}
	}
	if n := link.sentCount(); n != 0 {
		t.Errorf("link received %d commands, want 0", n)
	}
}

func TestOverrideNotConnected(t *testing.T) {
	link := &fakeLink{}
	c := newTestController(t, link, true)

	out, err := c.SetSteering(1500)
	if err != nil || out != RejectedNotConnected {
		t.Errorf("got (%v, %v), want (%v, nil)", out, err, RejectedNotConnected)
	}
	if n := link.sentCount(); n != 0 {
		t.Errorf("link received %d commands, want 0", n)
	}
}

func TestSetSteeringTouchesOnlyItsChannel(t *testing.T) {
	link := &fakeLink{}
	c := connected(t, link, true)

	out, err := c.SetSteering(1700)
	if err != nil || out != Applied {
		t.Fatalf("SetSteering() = (%v, %v)", out, err)
	}
	out, err = c.SetThrottle(1234)
	if err != nil || out != Applied {
		t.Fatalf("SetThrottle() = (%v, %v)", out, err)
	}

	steer := link.sent[0].(RCOverride)
	if steer.Channels[0] != 1700 {
		t.Errorf("channel 1 = %d, want 1700", steer.Channels[0])
	}
	for i := 1; i < OverrideChannels; i++ {
		if steer.Channels[i] != ChannelIgnore {
			t.Errorf("channel %d = %d, want ignore", i+1, steer.Channels[i])
		}
	}
	if throttle := link.sent[1].(RCOverride); throttle.Channels[2] != 1234 || throttle.Channels[0] != ChannelIgnore {
		t.Errorf("unexpected throttle override %v", throttle.Channels)
	}
}

func TestSetChannelRejectsInvalidChannel(t *testing.T) {
	for _, ch := range []int{0, -3, OverrideChannels + 1} {
		link := &fakeLink{}
		c := connected(t, link, true)

		if _, err := c.SetChannel(ch, 1500); !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("SetChannel(%d) error = %v, want ErrInvalidChannel", ch, err)
		}
		if link.sentCount() != 0 {
			t.Errorf("SetChannel(%d) sent %d messages, want none", ch, link.sentCount())
		}
	}
}

func TestSetAllowOverrideAtRuntime(t *testing.T) {
	link := &fakeLink{}
	c := connected(t, link, false)

	c.SetAllowOverride(true)
	if out, _ := c.SetSteering(1600); out != Applied {
		t.Errorf("outcome with open gate = %v", out)
	}
	c.SetAllowOverride(false)
	if out, _ := c.SetSteering(1600); out != RejectedGate {
		t.Errorf("outcome with closed gate = %v", out)
	}
	if n := link.sentCount(); n != 1 {
		t.Errorf("sent = %d, want 1", n)
	}
}

func TestArmVehicle(t *testing.T) {
	tests := []struct {
		name      string
		link      *fakeLink
		want      bool
		wantState ArmState
	}{
		{"confirmed", &fakeLink{obey: true}, true, StateArmed},
		{"vehicle refuses", &fakeLink{}, false, StateDisarmed},
		{"query times out", &fakeLink{obey: true, silent: true}, false, StateDisarmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := connected(t, tt.link, false)
			got, err := c.ArmVehicle(context.Background())
			if err != nil {
				t.Fatalf("ArmVehicle() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ArmVehicle() = %v, want %v", got, tt.want)
			}
			if s := c.State(); s != tt.wantState {
				t.Errorf("State() = %v, want %v", s, tt.wantState)
			}
			if tt.link.armSends != 1 {
				t.Errorf("arm commands sent = %d, want exactly 1", tt.link.armSends)
			}
		})
	}
}

func TestDisarmVehicle(t *testing.T) {
	link := &fakeLink{obey: true}
	c := connected(t, link, false)

	if ok, err := c.ArmVehicle(context.Background()); !ok || err != nil {
		t.Fatalf("ArmVehicle() = (%v, %v)", ok, err)
	}
	if ok, err := c.DisarmVehicle(context.Background()); !ok || err != nil {
		t.Fatalf("DisarmVehicle() = (%v, %v)", ok, err)
	}
	if s := c.State(); s != StateDisarmed {
		t.Errorf("State() = %v", s)
	}
}

func TestEmergencyStopBypassesGate(t *testing.T) {
	link := &fakeLink{obey: true}
	c := connected(t, link, false)

	if err := c.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("EmergencyStop() error = %v", err)
	}
	if s := c.State(); s != StateEmergency {
		t.Errorf("State() = %v, want EMERGENCY", s)
	}
	if len(link.sent) != 1 {
		t.Fatalf("sent = %v, want one relay command", link.sent)
	}
	if relay, ok := link.sent[0].(SetRelay); !ok || relay.Index != 2 || relay.On {
		t.Errorf("sent %v, want relay 2 off", link.sent[0])
	}

	// Latched: arming and propulsion are refused, a reconcile does not clear it.
	if _, err := c.ArmVehicle(context.Background()); !errors.Is(err, ErrEmergencyLatched) {
		t.Errorf("ArmVehicle() error = %v, want ErrEmergencyLatched", err)
	}
	if err := c.EnablePropulsion(); !errors.Is(err, ErrEmergencyLatched) {
		t.Errorf("EnablePropulsion() error = %v, want ErrEmergencyLatched", err)
	}
	c.IsArmed(context.Background())
	if s := c.State(); s != StateEmergency {
		t.Errorf("State() after reconcile = %v, want EMERGENCY", s)
	}

	// A confirmed disarm is the way out.
	if ok, err := c.DisarmVehicle(context.Background()); !ok || err != nil {
		t.Fatalf("DisarmVehicle() = (%v, %v)", ok, err)
	}
	if s := c.State(); s != StateDisarmed {
		t.Errorf("State() = %v, want DISARMED", s)
	}
}

func TestEmergencyStopWhileDisconnectedStillLatches(t *testing.T) {
	c := newTestController(t, &fakeLink{}, false)
	if err := c.EmergencyStop(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("EmergencyStop() error = %v, want ErrNotConnected", err)
	}
	if s := c.State(); s != StateEmergency {
		t.Errorf("State() = %v, want EMERGENCY", s)
	}
}

func TestIsArmedReconcilesCache(t *testing.T) {
	link := &fakeLink{armed: true}
	c := connected(t, link, false)

	if !c.IsArmed(context.Background()) {
		t.Fatal("IsArmed() = false, want true")
	}
	if s := c.State(); s != StateArmed {
		t.Errorf("State() = %v, want ARMED", s)
	}

	link.silent = true
	if c.IsArmed(context.Background()) {
		t.Error("IsArmed() on timeout = true, want false")
	}
	if s := c.State(); s != StateArmed {
		t.Errorf("State() after timeout = %v, cache must be unchanged", s)
	}
}

func TestWaitForHeartbeat(t *testing.T) {
	c := newTestController(t, &fakeLink{}, false)
	if err := c.WaitForHeartbeat(context.Background(), time.Millisecond); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error before connect = %v", err)
	}

	link := &fakeLink{silent: true}
	c = connected(t, link, false)
	if err := c.WaitForHeartbeat(context.Background(), time.Millisecond); !errors.Is(err, ErrHeartbeatTimeout) {
		t.Errorf("error = %v, want ErrHeartbeatTimeout", err)
	}
	if c.HeartbeatSeen() {
		t.Error("HeartbeatSeen() after timeout")
	}

	link.silent = false
	if err := c.WaitForHeartbeat(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !c.HeartbeatSeen() {
		t.Error("HeartbeatSeen() = false after heartbeat")
	}
}

func TestSendFailureIsLinkError(t *testing.T) {
	cause := errors.New("write: broken pipe")
	link := &fakeLink{sendErr: cause}
	c := connected(t, link, true)

	_, err := c.SetSteering(1500)
	var le *LinkError
	if !errors.As(err, &le) || !errors.Is(err, ErrLink) || !errors.Is(err, cause) {
		t.Errorf("error = %v, want *LinkError wrapping the cause", err)
	}
	if err := c.SetRelay(1, true); !errors.Is(err, ErrLink) {
		t.Errorf("SetRelay() error = %v", err)
	}
}

func TestArmWithRetry(t *testing.T) {
	link := &fakeLink{obey: true, obeyAfter: 2}
	c := connected(t, link, false)

	ok, err := c.ArmVehicleWithRetry(context.Background())
	if err != nil || !ok {
		t.Fatalf("ArmVehicleWithRetry() = (%v, %v)", ok, err)
	}
	if link.armSends != 3 {
		t.Errorf("arm commands = %d, want 3", link.armSends)
	}

	link = &fakeLink{}
	c = connected(t, link, false)
	ok, err = c.DisarmVehicleWithRetry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// The vehicle is already disarmed so the first answer confirms it.
	if !ok || link.armSends != 1 {
		t.Errorf("DisarmVehicleWithRetry() = %v after %d sends", ok, link.armSends)
	}
}

func TestArmWithRetryGivesUp(t *testing.T) {
	link := &fakeLink{}
	c := connected(t, link, false)

	ok, err := c.ArmVehicleWithRetry(context.Background())
	if err != nil || ok {
		t.Fatalf("ArmVehicleWithRetry() = (%v, %v), want (false, nil)", ok, err)
	}
	if link.armSends != 3 {
		t.Errorf("arm commands = %d, want 3", link.armSends)
	}
}

func TestLinkWritesAreSerialized(t *testing.T) {
	link := &fakeLink{}
	c := connected(t, link, true)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = c.SetSteering(1500)
			} else {
				_ = c.SetRelay(1, true)
			}
		}(i)
	}
	wg.Wait()

	if link.overlapped.Load() {
		t.Error("link saw concurrent writes")
	}
	if n := link.sentCount(); n != 16 {
		t.Errorf("sent = %d, want 16", n)
	}
}
