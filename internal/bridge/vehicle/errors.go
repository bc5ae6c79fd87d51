package vehicle

import (
	"errors"
	"fmt"
)

var (
	// ErrLink matches every *LinkError via errors.Is.
	ErrLink = errors.New("vehicle link error")

	// ErrHeartbeatTimeout is returned when no heartbeat arrives in time.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("vehicle not connected")

	// ErrEmergencyLatched is returned when arming or enabling propulsion
	// while an emergency stop is in effect.
	ErrEmergencyLatched = errors.New("emergency stop latched")

	// ErrInvalidChannel is returned for an RC channel outside 1..OverrideChannels.
	ErrInvalidChannel = errors.New("invalid RC channel")
)

// LinkError reports a transport failure. The session must be re-established
// before the link is used again.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("vehicle link: %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() []error {
	return []error{ErrLink, e.Err}
}

func linkError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LinkError
	if errors.As(err, &le) {
		return err
	}
	return &LinkError{Op: op, Err: err}
}
