// Package worker runs one goroutine per stream: it pulls frames from the
// stream's source, runs them through the counting pipeline, and publishes
// the results to the state store. A worker failure is contained to its own
// stream; the rest of the service keeps running.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/alerts"
	"github.com/crowdsight/crowd-density-server/internal/config"
	"github.com/crowdsight/crowd-density-server/internal/heatmap"
	"github.com/crowdsight/crowd-density-server/internal/ingest"
	"github.com/crowdsight/crowd-density-server/internal/logger"
	"github.com/crowdsight/crowd-density-server/internal/metrics"
	"github.com/crowdsight/crowd-density-server/internal/pipeline"
	"github.com/crowdsight/crowd-density-server/internal/state"
	"github.com/crowdsight/crowd-density-server/internal/vision"
	"github.com/crowdsight/crowd-density-server/internal/zones"
)

// ErrTooManyFailures marks a worker that aborted after consecutive frame
// errors reached the configured limit.
var ErrTooManyFailures = errors.New("too many consecutive frame errors")

// InferenceConfig selects the counting mode for a stream.
type InferenceConfig struct {
	Mode pipeline.Mode `json:"mode"`
}

// OutputConfig tunes what rides along with the live statistics.
type OutputConfig struct {
	Heatmap      bool `json:"heatmap"`
	Preview      bool `json:"preview"`
	PreviewEvery int  `json:"preview_every,omitempty"`
	PreviewWidth int  `json:"preview_width,omitempty"`
}

// StreamConfig is the immutable definition of one stream. Changing a
// stream means deleting and recreating it.
type StreamConfig struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Source    ingest.Config   `json:"source"`
	Inference InferenceConfig `json:"inference"`
	Zones     []zones.Zone    `json:"zones,omitempty"`
	Output    OutputConfig    `json:"output"`
}

// Capabilities holds the loaded counting models handed to a worker. Either
// may be nil; what that means depends on the stream's mode.
type Capabilities struct {
	Detector vision.Detector
	Density  vision.DensityEstimator
}

// StreamWorker owns the processing loop for one stream.
type StreamWorker struct {
	cfg    StreamConfig
	srv    *config.Config
	source ingest.Source
	pipe   *pipeline.Pipeline
	store  state.Store
	track  *alerts.Tracker
	mets   *metrics.Metrics
	log    *logger.Logger

	mu      sync.Mutex
	status  string
	lastErr error

	prevModel   pipeline.Mode
	droppedSeen uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New assembles a worker. Nothing starts until Start is called.
func New(cfg StreamConfig, srv *config.Config, caps Capabilities, store state.Store, sink alerts.Sink, mets *metrics.Metrics, log *logger.Logger) (*StreamWorker, error) {
	caps, mode, err := resolveCapabilities(cfg, caps, log)
	if err != nil {
		return nil, err
	}

	source, err := ingest.New(cfg.Source, ingest.Options{
		RingCapacity:  srv.RingCapacity,
		FrameInterval: srv.FrameInterval,
	})
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(pipeline.Config{
		Mode:      mode,
		Detector:  caps.Detector,
		Density:   caps.Density,
		Zones:     cfg.Zones,
		EMAAlpha:  srv.EMAAlpha,
		LowScore:  srv.HybridThresholdLow,
		HighScore: srv.HybridThresholdHigh,
		FPSWindow: srv.FPSWindow,
	})

	return &StreamWorker{
		cfg:    cfg,
		srv:    srv,
		source: source,
		pipe:   pipe,
		store:  store,
		track:  alerts.NewTracker(cfg.ID, sink),
		mets:   mets,
		log:    log,
		status: state.StatusStarting,
		done:   make(chan struct{}),
	}, nil
}

// resolveCapabilities enforces the mode/capability contract: a fixed mode
// missing its capability is a startup failure, while hybrid mode degrades
// to whichever capability loaded.
func resolveCapabilities(cfg StreamConfig, caps Capabilities, log *logger.Logger) (Capabilities, pipeline.Mode, error) {
	mode := cfg.Inference.Mode
	if mode == "" {
		mode = pipeline.ModeHybrid
	}

	switch mode {
	case pipeline.ModeDetector:
		if caps.Detector == nil {
			return caps, mode, fmt.Errorf("stream %s: detector capability failed to load", cfg.ID)
		}
	case pipeline.ModeDensity:
		if caps.Density == nil {
			return caps, mode, fmt.Errorf("stream %s: density capability failed to load", cfg.ID)
		}
	case pipeline.ModeHybrid:
		switch {
		case caps.Detector == nil && caps.Density == nil:
			return caps, mode, fmt.Errorf("stream %s: no counting capability loaded", cfg.ID)
		case caps.Detector == nil:
			log.Warn("Worker", "stream %s: detector unavailable, degrading hybrid to density", cfg.ID)
			mode = pipeline.ModeDensity
		case caps.Density == nil:
			log.Warn("Worker", "stream %s: density unavailable, degrading hybrid to detector", cfg.ID)
			mode = pipeline.ModeDetector
		}
	default:
		return caps, mode, fmt.Errorf("stream %s: unknown inference mode %q", cfg.ID, mode)
	}
	return caps, mode, nil
}

// Start opens the source and launches the processing loop. A source that
// cannot be opened fails startup and leaves the stream in the error status.
func (w *StreamWorker) Start(ctx context.Context) error {
	w.setStatus(ctx, state.StatusStarting)

	if err := w.source.Open(ctx); err != nil {
		w.setStatus(ctx, state.StatusError)
		close(w.done) // never ran; a later Stop must not block
		return fmt.Errorf("stream %s: %w", w.cfg.ID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.mets.TotalStreams.Add(1)
	w.mets.ActiveStreams.Add(1)
	w.setStatus(runCtx, state.StatusRunning)
	w.log.Info("Worker", "stream %s started (%s source)", w.cfg.ID, w.cfg.Source.Kind)

	go w.run(runCtx)
	return nil
}

// run is the per-stream processing loop. It exits on context cancellation,
// source exhaustion, or after MaxFrameErrors consecutive failures.
func (w *StreamWorker) run(ctx context.Context) {
	defer close(w.done)
	defer w.mets.ActiveStreams.Add(^uint64(0))

	consecutiveErrors := 0
	frameNo := 0
	var lastPublish time.Time

	for {
		frame, err := w.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.log.Info("Worker", "stream %s: source exhausted", w.cfg.ID)
				w.finish(state.StatusStopped)
				return
			}
			if ctx.Err() != nil {
				w.finish(state.StatusStopped)
				return
			}
			w.mets.SourceErrors.Add(1)
			consecutiveErrors++
			if w.abortIfFailing(consecutiveErrors, err) {
				return
			}
			continue
		}
		w.mets.FramesIngested.Add(1)

		result, err := w.pipe.ProcessFrame(frame)
		if err != nil {
			w.mets.InferenceErrors.Add(1)
			consecutiveErrors++
			w.log.Warn("Worker", "stream %s: frame %d failed: %v", w.cfg.ID, frame.Seq, err)
			if w.abortIfFailing(consecutiveErrors, err) {
				return
			}
			continue
		}
		consecutiveErrors = 0
		frameNo++

		w.recordMetrics(result)
		w.publish(ctx, frame, result, frameNo)
		w.pace(ctx, &lastPublish)
	}
}

// pace bounds the update rate to one publish per frame interval. File and
// device sources already emit at that rate; a network source delivers as
// fast as the peer sends, and without this wait the loop would publish at
// the peer's rate instead of the configured one.
func (w *StreamWorker) pace(ctx context.Context, last *time.Time) {
	if w.srv.FrameInterval <= 0 {
		return
	}
	if !last.IsZero() {
		if wait := w.srv.FrameInterval - time.Since(*last); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}
	*last = time.Now()
}

// abortIfFailing transitions the worker to the error status once the
// consecutive error count reaches the limit.
func (w *StreamWorker) abortIfFailing(consecutive int, lastErr error) bool {
	if consecutive < w.srv.MaxFrameErrors {
		return false
	}
	w.mets.WorkerFailures.Add(1)
	w.log.Error("Worker", "stream %s aborting after %d consecutive errors: %v", w.cfg.ID, consecutive, lastErr)
	w.mu.Lock()
	w.lastErr = fmt.Errorf("%w: %v", ErrTooManyFailures, lastErr)
	w.mu.Unlock()
	w.finish(state.StatusError)
	return true
}

func (w *StreamWorker) recordMetrics(result *pipeline.Result) {
	w.mets.FramesProcessed.Add(1)
	w.mets.UpdateInferenceLatency(time.Duration(result.LatencyMS * float64(time.Millisecond)))
	switch result.Model {
	case pipeline.ModeDetector:
		w.mets.DetectorFrames.Add(1)
	case pipeline.ModeDensity:
		w.mets.DensityFrames.Add(1)
	}
	if w.prevModel != "" && result.Model != w.prevModel {
		w.mets.ModelSwitches.Add(1)
	}
	w.prevModel = result.Model

	// buffered sources track frames they evicted under consumer pressure
	if dr, ok := w.source.(interface{ Dropped() uint64 }); ok {
		if d := dr.Dropped(); d > w.droppedSeen {
			w.mets.FramesDropped.Add(d - w.droppedSeen)
			w.droppedSeen = d
		}
	}
}

// publish pushes one frame's results: cached snapshot, live message, and
// zone alert transitions. Store failures are logged and skipped; the
// counting loop never stalls on the state backend.
func (w *StreamWorker) publish(ctx context.Context, frame *vision.Frame, result *pipeline.Result, frameNo int) {
	now := time.Now()

	snap := &state.Snapshot{
		StreamID:  w.cfg.ID,
		Count:     result.Count,
		Smoothed:  result.Smoothed,
		FPS:       w.pipe.FPS(),
		LatencyMS: result.LatencyMS,
		Zones:     result.Zones,
		Model:     string(result.Model),
		UpdatedAt: now,
	}
	if err := w.store.UpdateStats(ctx, w.cfg.ID, snap); err != nil {
		w.log.Warn("Worker", "stream %s: stats update failed: %v", w.cfg.ID, err)
	}

	msg := &state.LiveMessage{
		Type:      "frame_stats",
		Timestamp: float64(now.UnixNano()) / 1e9,
		Count:     result.Count,
		Zones:     result.Zones,
		FPS:       w.pipe.FPS(),
		Model:     string(result.Model),
	}
	if w.cfg.Output.Heatmap && result.Density != nil {
		if url, err := heatmap.Render(result.Density); err == nil {
			msg.Heatmap = url
		}
	}
	if w.cfg.Output.Preview && w.previewDue(frameNo) {
		width := w.cfg.Output.PreviewWidth
		if width <= 0 {
			width = 320
		}
		if url, err := heatmap.Preview(frame, width); err == nil {
			msg.Frame = url
		}
	}
	if err := w.store.Publish(ctx, w.cfg.ID, msg); err != nil {
		w.log.Warn("Worker", "stream %s: publish failed: %v", w.cfg.ID, err)
	}

	for _, z := range result.Zones {
		if z.Alert {
			w.mets.ZoneAlertsRaised.Add(1)
		}
		w.track.Observe(z.ID, z.Count, z.Alert)
	}
}

func (w *StreamWorker) previewDue(frameNo int) bool {
	every := w.cfg.Output.PreviewEvery
	if every <= 0 {
		every = w.srv.PreviewEvery
	}
	if every <= 0 {
		every = 2
	}
	return frameNo%every == 0
}

// finish records the terminal status. The publish context is detached from
// the (possibly canceled) run context so the final status still lands.
func (w *StreamWorker) finish(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.setStatus(ctx, status)
}

func (w *StreamWorker) setStatus(ctx context.Context, status string) {
	w.mu.Lock()
	// error is terminal; a late stop must not mask it
	if w.status == state.StatusError && status == state.StatusStopped {
		w.mu.Unlock()
		return
	}
	w.status = status
	w.mu.Unlock()

	if err := w.store.SetStatus(ctx, w.cfg.ID, status); err != nil {
		w.log.Warn("Worker", "stream %s: status update failed: %v", w.cfg.ID, err)
	}
}

// Status returns the worker's current lifecycle status.
func (w *StreamWorker) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err returns the terminal error for a worker in the error status, nil
// otherwise.
func (w *StreamWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Config returns the stream definition.
func (w *StreamWorker) Config() StreamConfig {
	return w.cfg
}

// Stop cancels the processing loop, waits for it to drain, and releases the
// source. Safe to call more than once and on workers that already failed.
func (w *StreamWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := w.source.Close(); err != nil {
		w.log.Warn("Worker", "stream %s: source close: %v", w.cfg.ID, err)
	}
	// rewrite the stored status on every stop so a repeated stop refreshes
	// an expired entry; setStatus keeps a terminal error from being masked
	w.setStatus(ctx, state.StatusStopped)
	w.log.Info("Worker", "stream %s stopped", w.cfg.ID)
	return nil
}
