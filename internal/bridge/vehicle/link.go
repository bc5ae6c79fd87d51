package vehicle

import (
	"context"
	"time"
)

// Heartbeat is a liveness message from the vehicle.
type Heartbeat struct {
	SystemID    uint8
	ComponentID uint8
	Armed       bool
	ReceivedAt  time.Time
}

// Link is the transport toward the vehicle.
type Link interface {
	// Open establishes a session.
	Open(ctx context.Context) error

	// Close ends the session. Closing a closed link is a no-op.
	Close() error

	// WaitHeartbeat blocks until the next heartbeat arrives and returns it.
	// It fails with ErrHeartbeatTimeout when timeout elapses first.
	WaitHeartbeat(ctx context.Context, timeout time.Duration) (Heartbeat, error)

	// LastHeartbeat returns the most recent heartbeat time, zero if none.
	LastHeartbeat() time.Time

	// Send writes one command. Callers serialize Send.
	Send(cmd Command) error
}
