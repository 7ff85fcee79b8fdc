package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/or-samples/tracking-web/internal/camera"
	"github.com/or-samples/tracking-web/internal/framequeue"
	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/metrics"
	"github.com/or-samples/tracking-web/internal/session"
)

// LoopConfig wires the capture loop
type LoopConfig struct {
	Source    camera.Source
	Queue     *framequeue.Queue
	State     *session.State
	FrameSink FrameSink
	Recorder  FrameRecorder
	Metrics   *metrics.Metrics

	// PlaceholderTimestamp is sent with every published frame
	PlaceholderTimestamp int64
}

// Loop acquires frames, gates them into the queue and forwards them for display
type Loop struct {
	cfg LoopConfig
}

// NewLoop creates a capture loop
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Loop{cfg: cfg}
}

// Run iterates until exit is requested, ctx is done or the source ends
func (l *Loop) Run(ctx context.Context) error {
	for {
		more, err := l.step(ctx)
		if err != nil || !more {
			return err
		}
	}
}

// step runs one capture iteration and reports whether to continue
func (l *Loop) step(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	if l.cfg.State.ExitRequested() || l.cfg.Source.ExitRequested() {
		l.cfg.State.RequestExit()
		logger.Info("Loop", "Exit requested")
		return false, nil
	}

	pair, err := l.cfg.Source.Acquire(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil, errors.Is(err, camera.ErrStopped):
		return false, nil
	case errors.Is(err, camera.ErrEndOfStream):
		logger.Info("Loop", "Frame source ended")
		l.cfg.State.RequestExit()
		return false, nil
	default:
		l.cfg.Metrics.CaptureErrors.Add(1)
		return false, fmt.Errorf("acquire frame pair: %w", err)
	}
	l.cfg.Metrics.FramesCaptured.Add(1)

	if l.cfg.State.TryBeginProcessing() {
		lease := pair.Lease()
		if l.cfg.Queue.Push(lease) {
			l.cfg.Metrics.FramesEnqueued.Add(1)
		} else {
			lease.Release()
			l.cfg.State.EndProcessing()
		}
	} else {
		l.cfg.Metrics.FramesSkipped.Add(1)
	}

	if l.cfg.Recorder != nil {
		if l.cfg.Recorder.SendFrame(pair) {
			l.cfg.Metrics.RecorderFramesSent.Add(1)
		}
	}

	if l.cfg.FrameSink != nil && pair.Color != nil {
		info := pair.Color.Info()
		l.cfg.FrameSink.PublishFrame(l.cfg.PlaceholderTimestamp, info.Width, info.Height, pair.Color.Data())
		l.cfg.Metrics.FramesDisplayed.Add(1)
	}
	return true, nil
}
