package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/or-samples/tracking-web/internal/camera"
	"github.com/or-samples/tracking-web/internal/framequeue"
	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/metrics"
	"github.com/or-samples/tracking-web/internal/recognition"
	"github.com/or-samples/tracking-web/internal/session"
)

// Config holds pipeline tunables
type Config struct {
	MaxConsecutiveFailures int
	PlaceholderTimestamp   int64
}

// DefaultConfig stops recognition on the first failure and stamps frames with 10
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 1,
		PlaceholderTimestamp:   10,
	}
}

// SessionConfig wires a full session
type SessionConfig struct {
	Config

	Source    camera.Source
	Engine    recognition.Engine
	State     *session.State
	Sinks     []ResultSink
	FrameSink FrameSink
	Recorder  FrameRecorder
	History   ResultHistory
	Metrics   *metrics.Metrics
}

// Session runs the capture loop and the recognition worker together
type Session struct {
	queue  *framequeue.Queue
	state  *session.State
	loop   *Loop
	worker *Worker
}

// NewSession builds the loop and worker around a fresh queue
func NewSession(cfg SessionConfig) *Session {
	if cfg.State == nil {
		cfg.State = session.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	queue := framequeue.New()

	return &Session{
		queue: queue,
		state: cfg.State,
		loop: NewLoop(LoopConfig{
			Source:               cfg.Source,
			Queue:                queue,
			State:                cfg.State,
			FrameSink:            cfg.FrameSink,
			Recorder:             cfg.Recorder,
			Metrics:              cfg.Metrics,
			PlaceholderTimestamp: cfg.PlaceholderTimestamp,
		}),
		worker: NewWorker(WorkerConfig{
			Queue:                  queue,
			State:                  cfg.State,
			Engine:                 cfg.Engine,
			Sinks:                  cfg.Sinks,
			History:                cfg.History,
			Metrics:                cfg.Metrics,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		}),
	}
}

// State returns the shared session state
func (s *Session) State() *session.State {
	return s.state
}

// Run blocks until the loop stops and the worker has drained. The queue is
// closed when the loop returns, so a pair already queued is still processed
// unless ctx was cancelled. Leases left in the queue are released before Run
// returns.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.worker.Run(gctx)
	})
	g.Go(func() error {
		defer s.queue.Close()
		return s.loop.Run(gctx)
	})

	err := g.Wait()

	if left := s.queue.Drain(); len(left) > 0 {
		logger.Debug("Session", "Releasing %d unprocessed frame pairs", len(left))
		for _, l := range left {
			l.Release()
		}
		s.state.EndProcessing()
	}
	return err
}
