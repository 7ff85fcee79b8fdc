package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/or-samples/tracking-web/internal/framequeue"
	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/metrics"
	"github.com/or-samples/tracking-web/internal/recognition"
	"github.com/or-samples/tracking-web/internal/session"
	"github.com/or-samples/tracking-web/pkg/types"
)

// WorkerConfig wires the recognition worker
type WorkerConfig struct {
	Queue   *framequeue.Queue
	State   *session.State
	Engine  recognition.Engine
	Sinks   []ResultSink // published in order
	History ResultHistory
	Metrics *metrics.Metrics

	// MaxConsecutiveFailures is how many failed frames in a row stop
	// recognition. Values below 1 mean 1.
	MaxConsecutiveFailures int
}

// Worker drains the frame queue through the recognition engine
type Worker struct {
	cfg      WorkerConfig
	seeds    []types.Localization
	failures int
}

// NewWorker creates a worker
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Worker{cfg: cfg}
}

// Run processes leases until the queue is closed and empty or ctx is done.
// Frame failures stop the worker and leave the session display-only; Run
// then returns nil. A failed tracking commit returns *ModeCommitError.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Worker", "Recognition worker started (session %s)", w.cfg.State.ID())

	for {
		lease, ok := w.cfg.Queue.Pop(ctx)
		if !ok {
			logger.Info("Worker", "Recognition worker stopped")
			return nil
		}

		stop, err := w.handle(ctx, lease)
		w.cfg.State.EndProcessing()
		if err != nil || stop {
			return err
		}
	}
}

// handle runs one frame. The in-flight flag is cleared by the caller.
func (w *Worker) handle(ctx context.Context, lease *types.Lease) (stop bool, err error) {
	pair := lease.Pair()

	start := time.Now()
	perr := w.cfg.Engine.Process(ctx, pair)
	lease.Release()

	if perr != nil && ctx.Err() != nil {
		logger.Debug("Worker", "Frame %d abandoned on shutdown", pair.Number)
		return true, nil
	}
	w.cfg.Metrics.ObserveProcessLatency(time.Since(start))

	if perr != nil {
		return w.fail(pair.Number, fmt.Errorf("process frame %d: %w", pair.Number, perr)), nil
	}
	w.cfg.Metrics.FramesProcessed.Add(1)

	if w.cfg.State.Mode() == types.ModeTracking {
		return w.track(pair)
	}
	return w.localize(pair)
}

func (w *Worker) localize(pair *types.FramePair) (bool, error) {
	locs, err := w.cfg.Engine.LocalizationResults()
	if err != nil {
		return w.fail(pair.Number, fmt.Errorf("query localization for frame %d: %w", pair.Number, err)), nil
	}
	w.failures = 0
	if len(locs) == 0 {
		return false, nil
	}

	w.cfg.Metrics.Localizations.Add(uint64(len(locs)))
	w.publish(types.Results{
		Mode:          types.ModeLocalizing,
		FrameNumber:   pair.Number,
		Timestamp:     pair.Timestamp,
		Localizations: locs,
	})

	rois := make([]types.Rect, len(locs))
	for i, l := range locs {
		rois[i] = l.Rect
	}
	if err := w.cfg.Engine.SetTrackingSeed(rois); err != nil {
		cerr := &ModeCommitError{Regions: len(rois), Err: err}
		logger.Error("Worker", "%v", cerr)
		w.cfg.State.Halt(cerr)
		w.cfg.Metrics.SetHalted(true)
		return true, cerr
	}

	w.seeds = locs
	if w.cfg.State.CommitTracking() {
		w.cfg.Metrics.SetMode(true)
		logger.Info("Worker", "Localized %d objects in frame %d, switching to tracking", len(locs), pair.Number)
	}
	return false, nil
}

func (w *Worker) track(pair *types.FramePair) (bool, error) {
	tracks, err := w.cfg.Engine.TrackingResults()
	if err != nil {
		return w.fail(pair.Number, fmt.Errorf("query tracking for frame %d: %w", pair.Number, err)), nil
	}
	w.failures = 0
	if len(tracks) == 0 {
		return false, nil
	}

	w.cfg.Metrics.TrackingUpdates.Add(uint64(len(tracks)))
	w.publish(types.Results{
		Mode:        types.ModeTracking,
		FrameNumber: pair.Number,
		Timestamp:   pair.Timestamp,
		Trackings:   tracks,
		Seeds:       w.seeds,
	})
	return false, nil
}

func (w *Worker) publish(results types.Results) {
	results.Session = w.cfg.State.ID()
	for _, sink := range w.cfg.Sinks {
		sink.PublishResults(results)
	}
	w.cfg.Metrics.ResultsPublished.Add(1)

	if w.cfg.History != nil {
		if err := w.cfg.History.Insert(results); err != nil {
			w.cfg.Metrics.StoreErrors.Add(1)
			logger.Warn("Worker", "Failed to store results for frame %d: %v", results.FrameNumber, err)
		}
	}
}

// fail counts a frame failure and reports whether the worker must stop.
// Stopping halts the session before the in-flight flag is cleared so the
// capture loop never queues another pair.
func (w *Worker) fail(frame uint64, err error) bool {
	w.cfg.Metrics.ProcessErrors.Add(1)
	w.failures++

	if w.failures < w.cfg.MaxConsecutiveFailures {
		logger.Warn("Worker", "%v (failure %d/%d)", err, w.failures, w.cfg.MaxConsecutiveFailures)
		return false
	}

	var se *recognition.StatusError
	if errors.As(err, &se) {
		logger.Error("Worker", "Recognition stopped at frame %d with status %d: %v", frame, int(se.Code), err)
	} else {
		logger.Error("Worker", "Recognition stopped at frame %d: %v", frame, err)
	}
	w.cfg.State.Halt(err)
	w.cfg.Metrics.SetHalted(true)
	return true
}
