package vehicle

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/mavbridge/internal/pkg/util/fsm"
	"github.com/autopeer-io/mavbridge/pkg/log"
)

// ArmState is the cached arm state of the vehicle.
type ArmState string

const (
	StateDisarmed  ArmState = "DISARMED"
	StateArmed     ArmState = "ARMED"
	StateEmergency ArmState = "EMERGENCY"
)

const (
	// EventArm (Active) is fired once an arm command has been confirmed.
	EventArm = "event_arm"
	// EventDisarm (Active) is fired once a disarm command has been confirmed.
	// It is the only way out of EMERGENCY.
	EventDisarm = "event_disarm"
	// EventEmergency latches EMERGENCY from any state.
	EventEmergency = "event_emergency"
)

func (s ArmState) gaugeValue() float64 {
	switch s {
	case StateArmed:
		return 1
	case StateEmergency:
		return 2
	default:
		return 0
	}
}

type armStateMachine struct {
	*fsm.FSM
	logger log.Logger
}

func newArmStateMachine(logger log.Logger) *armStateMachine {
	m := &armStateMachine{logger: logger}

	events := fsm.Events{
		{Name: EventArm, Src: []string{string(StateDisarmed), string(StateArmed)}, Dst: string(StateArmed)},
		{Name: EventDisarm, Src: []string{string(StateArmed), string(StateDisarmed), string(StateEmergency)}, Dst: string(StateDisarmed)},
		{Name: EventEmergency, Src: []string{string(StateDisarmed), string(StateArmed), string(StateEmergency)}, Dst: string(StateEmergency)},
	}

	callbacks := fsm.Callbacks{
		// Side-Effects (enter_state): fired for every change of state.
		"enter_state": fsmutil.WrapEvent(m.actionEnterState),
	}

	m.FSM = fsm.NewFSM(string(StateDisarmed), events, callbacks)
	metrics.ArmState.Set(StateDisarmed.gaugeValue())
	return m
}

func (m *armStateMachine) state() ArmState {
	return ArmState(m.Current())
}

// fire runs an event, treating "already there" as success.
func (m *armStateMachine) fire(ctx context.Context, event string) error {
	if err := m.Event(ctx, event); !fsmutil.IsNoop(err) {
		return err
	}
	return nil
}

// reconcile aligns the cache with a live arm-state answer. EMERGENCY is only
// left through an explicit disarm.
func (m *armStateMachine) reconcile(armed bool) {
	current := m.state()
	if current == StateEmergency {
		return
	}
	want := StateDisarmed
	if armed {
		want = StateArmed
	}
	if current != want {
		m.logger.Info("Arm state reconciled with vehicle", "cached", current, "vehicle", want)
		m.SetState(string(want))
		metrics.ArmState.Set(want.gaugeValue())
	}
}

func (m *armStateMachine) actionEnterState(ctx context.Context, e *fsm.Event) error {
	metrics.ArmState.Set(ArmState(e.Dst).gaugeValue())
	m.logger.Info("Arm state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	return nil
}
