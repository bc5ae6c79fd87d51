package bridge

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
)

// session is the part of the vehicle controller the supervisor manages.
type session interface {
	Connect(ctx context.Context) error
	Close() error
	WaitForHeartbeat(ctx context.Context, timeout time.Duration) error
	LastHeartbeat() time.Time
}

// SupervisorConfig configures link supervision.
type SupervisorConfig struct {
	HeartbeatTimeout time.Duration
	LinkLossTimeout  time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// ReconnectSteps bounds the attempts of one startup or reconnect round.
	ReconnectSteps int
}

// Supervisor establishes the vehicle session and re-establishes it after
// heartbeats stop arriving.
type Supervisor struct {
	cfg     SupervisorConfig
	session session
	clock   clock.WithTicker
	logger  log.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig, s session, clk clock.WithTicker, logger log.Logger) *Supervisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.WithName("supervisor")
	}
	return &Supervisor{cfg: cfg, session: s, clock: clk, logger: logger}
}

func (s *Supervisor) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: s.cfg.ReconnectInitial,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    s.cfg.ReconnectSteps,
		Cap:      s.cfg.ReconnectMax,
	}
}

// Establish connects and waits for the first heartbeat, retrying with backoff.
// Running out of attempts returns an error wrapping ErrHeartbeatTimeout or the
// last link error; the process is expected to exit on it.
func (s *Supervisor) Establish(ctx context.Context) error {
	var lastErr error
	attempt := 0
	err := wait.ExponentialBackoffWithContext(ctx, s.backoff(), func(ctx context.Context) (bool, error) {
		attempt++
		if err := s.attempt(ctx); err != nil {
			lastErr = err
			s.logger.Warn("Vehicle session not established", "attempt", attempt, "err", err.Error())
			return false, nil
		}
		return true, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil {
		return fmt.Errorf("vehicle not reachable after %d attempts: %w", attempt, lastErr)
	}
	return err
}

func (s *Supervisor) attempt(ctx context.Context) error {
	if err := s.session.Connect(ctx); err != nil {
		return err
	}
	if err := s.session.WaitForHeartbeat(ctx, s.cfg.HeartbeatTimeout); err != nil {
		if cerr := s.session.Close(); cerr != nil {
			s.logger.Error(cerr, "Failed to close vehicle session")
		}
		return err
	}
	return nil
}

// Lost reports whether the last heartbeat is older than the link-loss timeout.
func (s *Supervisor) Lost() bool {
	last := s.session.LastHeartbeat()
	return last.IsZero() || s.clock.Since(last) > s.cfg.LinkLossTimeout
}

// Run watches heartbeats until ctx is done and reconnects after link loss.
// It returns an error only when a reconnect round is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.LinkLossTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
		if !s.Lost() {
			continue
		}

		s.logger.Warn("Vehicle heartbeat lost, reconnecting", "last", s.session.LastHeartbeat(), "timeout", s.cfg.LinkLossTimeout)
		metrics.LinkConnected.Set(0)
		if err := s.session.Close(); err != nil {
			s.logger.Error(err, "Failed to close lost vehicle session")
		}
		if err := s.Establish(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		metrics.LinkReconnects.Inc()
		s.logger.Info("Vehicle session re-established")
	}
}

var _ session = (*vehicle.Controller)(nil)
