// Package recorder archives published telemetry frames to object storage as
// CBOR batches.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/mavbridge/internal/bridge/telemetry"
	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
)

const contentType = "application/cbor"

// Config configures a Recorder.
type Config struct {
	Entity        string
	FlushInterval time.Duration
	// MaxBatch bounds the frames held in memory; the oldest are dropped first.
	MaxBatch int
}

// Recorder batches frames and uploads them every flush interval.
type Recorder struct {
	cfg    Config
	store  Store
	clock  clock.WithTicker
	logger log.Logger
	enc    cbor.EncMode

	mu    sync.Mutex
	batch []telemetry.Frame
}

// New creates a Recorder.
func New(cfg Config, store Store, clk clock.WithTicker, logger log.Logger) (*Recorder, error) {
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %v", cfg.FlushInterval)
	}
	if cfg.MaxBatch <= 0 {
		return nil, fmt.Errorf("max batch must be positive, got %d", cfg.MaxBatch)
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.WithName("recorder")
	}
	return &Recorder{cfg: cfg, store: store, clock: clk, logger: logger, enc: enc}, nil
}

// OnFrame implements telemetry.Observer.
func (r *Recorder) OnFrame(f telemetry.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(f)
}

func (r *Recorder) append(frames ...telemetry.Frame) {
	r.batch = append(r.batch, frames...)
	if over := len(r.batch) - r.cfg.MaxBatch; over > 0 {
		r.batch = r.batch[over:]
		metrics.DroppedMessages.WithLabelValues("recorder", "batch_full").Add(float64(over))
	}
}

// Pending returns the number of frames waiting for upload.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batch)
}

// Run prepares the bucket, then flushes every interval until ctx is done.
// A last flush runs on the way out.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.store.EnsureBucket(ctx); err != nil {
		return err
	}

	ticker := r.clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.Flush(flushCtx); err != nil {
				r.logger.Error(err, "Final telemetry upload failed", "frames", r.Pending())
			}
			return nil
		case <-ticker.C():
			if err := r.Flush(ctx); err != nil {
				r.logger.Error(err, "Telemetry upload failed, batch kept", "frames", r.Pending())
			}
		}
	}
}

// Flush uploads the pending batch. On failure the frames are put back.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.batch
	r.batch = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	data, err := r.enc.Marshal(batch)
	if err != nil {
		metrics.RecorderUploads.WithLabelValues("error").Inc()
		return fmt.Errorf("encode batch: %w", err)
	}

	key := r.ObjectKey(r.clock.Now())
	if err := r.store.Put(ctx, key, data, contentType); err != nil {
		metrics.RecorderUploads.WithLabelValues("error").Inc()
		r.mu.Lock()
		pending := r.batch
		r.batch = batch
		r.append(pending...)
		r.mu.Unlock()
		return err
	}

	metrics.RecorderUploads.WithLabelValues("ok").Inc()
	r.logger.Debug("Telemetry batch uploaded", "key", key, "frames", len(batch), "bytes", len(data))
	return nil
}

// ObjectKey names the batch uploaded at t.
func (r *Recorder) ObjectKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("telemetry/%s/%s/%d.cbor", r.cfg.Entity, t.Format(time.DateOnly), t.UnixNano())
}
