package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/or-samples/tracking-web/internal/framequeue"
	"github.com/or-samples/tracking-web/internal/metrics"
	"github.com/or-samples/tracking-web/internal/session"
	"github.com/or-samples/tracking-web/pkg/types"
)

type queuedFrame struct {
	pair         *types.FramePair
	color, depth *countingImage
}

// fillQueue leases n fresh pairs onto q
func fillQueue(q *framequeue.Queue, n int) []queuedFrame {
	frames := make([]queuedFrame, 0, n)
	for i := 1; i <= n; i++ {
		pair, color, depth := newPair(uint64(i))
		q.Push(pair.Lease())
		frames = append(frames, queuedFrame{pair, color, depth})
	}
	return frames
}

// assertBalanced checks that every lease reference was given back once
func assertBalanced(t *testing.T, frames []queuedFrame) {
	t.Helper()
	for _, f := range frames {
		for _, img := range []*countingImage{f.color, f.depth} {
			assert.Equal(t, int32(1), img.adds.Load(), "frame %d adds", f.pair.Number)
			assert.Equal(t, int32(1), img.releases.Load(), "frame %d releases", f.pair.Number)
			assert.Equal(t, int32(1), img.refs.Load(), "frame %d source reference", f.pair.Number)
			assert.False(t, img.underflow.Load())
		}
	}
}

func newTestWorker(q *framequeue.Queue, st *session.State, eng *stubEngine, sinks ...ResultSink) *Worker {
	return NewWorker(WorkerConfig{Queue: q, State: st, Engine: eng, Sinks: sinks, Metrics: metrics.New()})
}

func TestWorkerProcessesInFIFOOrder(t *testing.T) {
	q := framequeue.New()
	frames := fillQueue(q, 5)
	q.Close()

	eng := &stubEngine{}
	require.NoError(t, newTestWorker(q, session.New(), eng).Run(context.Background()))

	if diff := cmp.Diff([]uint64{1, 2, 3, 4, 5}, eng.processedFrames()); diff != "" {
		t.Fatalf("processing order (-want +got):\n%s", diff)
	}
	assertBalanced(t, frames)
}

func TestWorkerSwitchesToTrackingOnce(t *testing.T) {
	q := framequeue.New()
	frames := fillQueue(q, 5)
	q.Close()

	eng := &stubEngine{locFor: func(n uint64) []types.Localization {
		if n >= 3 {
			return oneRegion(n)
		}
		return nil
	}}
	st := session.New()
	console := &recordingSink{}
	web := &recordingSink{}

	require.NoError(t, newTestWorker(q, st, eng, console, web).Run(context.Background()))

	assert.Equal(t, types.ModeTracking, st.Mode())
	assert.Equal(t, 1, eng.seedCount())
	assert.Equal(t, 3, eng.locQuery, "localization is not queried after tracking starts")

	got := console.all()
	require.Len(t, got, 3)
	assert.Equal(t, types.ModeLocalizing, got[0].Mode)
	assert.Equal(t, uint64(3), got[0].FrameNumber)
	assert.Equal(t, st.ID(), got[0].Session)
	for _, r := range got[1:] {
		assert.Equal(t, types.ModeTracking, r.Mode)
		assert.Len(t, r.Trackings, 1)
		assert.Len(t, r.Seeds, 1)
	}
	assert.Equal(t, got, web.all(), "both sinks see the same results")
	assertBalanced(t, frames)
}

func TestWorkerEmptyLocalizationPublishesNothing(t *testing.T) {
	q := framequeue.New()
	frames := fillQueue(q, 3)
	q.Close()

	eng := &stubEngine{}
	sink := &recordingSink{}
	st := session.New()
	require.NoError(t, newTestWorker(q, st, eng, sink).Run(context.Background()))

	assert.Empty(t, sink.all())
	assert.Equal(t, types.ModeLocalizing, st.Mode())
	assert.Zero(t, eng.seedCount())
	assertBalanced(t, frames)
}

func TestWorkerPublishesConsoleBeforeWeb(t *testing.T) {
	q := framequeue.New()
	frames := fillQueue(q, 2)
	q.Close()

	order := &orderLog{}
	eng := &stubEngine{locFor: oneRegion}
	w := newTestWorker(q, session.New(), eng,
		&recordingSink{name: "console", order: order},
		&recordingSink{name: "web", order: order})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{"console", "web", "console", "web"}, order.names)
	assertBalanced(t, frames)
}

func TestWorkerStopsAfterFailingCall(t *testing.T) {
	// Each localizing frame makes two engine calls: process and query.
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("fail_on_call_%d", n), func(t *testing.T) {
			q := framequeue.New()
			frames := fillQueue(q, 10)
			q.Close()

			eng := &stubEngine{failCall: func(c int) bool { return c >= n }}
			st := session.New()
			require.NoError(t, newTestWorker(q, st, eng).Run(context.Background()))

			dequeued := len(eng.processedFrames())
			assert.LessOrEqual(t, dequeued, n)
			assert.Equal(t, 10-dequeued, q.Len(), "no pops after the failure")

			halted, reason := st.Halted()
			assert.True(t, halted)
			assert.Error(t, reason)
			assert.False(t, st.InFlight())
			assert.False(t, st.TryBeginProcessing(), "halted session takes no more frames")

			for i, f := range frames {
				want := int32(0)
				if i < dequeued {
					want = 1
				}
				assert.Equal(t, want, f.color.releases.Load(), "frame %d", i+1)
			}
			for _, l := range q.Drain() {
				l.Release()
			}
			assertBalanced(t, frames)
		})
	}
}

func TestWorkerStopsAfterFailingTrackingCall(t *testing.T) {
	// Frame 1 localizes and seeds tracking with calls 1 and 2. Frame 2 is
	// tracked: call 3 processes and call 4 queries.
	for _, tc := range []struct {
		name string
		call int
	}{
		{"process", 3},
		{"tracking_query", 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			q := framequeue.New()
			frames := fillQueue(q, 4)
			q.Close()

			eng := &stubEngine{locFor: oneRegion, failCall: func(c int) bool { return c == tc.call }}
			st := session.New()
			sink := &recordingSink{}
			require.NoError(t, newTestWorker(q, st, eng, sink).Run(context.Background()))

			assert.Equal(t, []uint64{1, 2}, eng.processedFrames())
			assert.Equal(t, 2, q.Len(), "no pops after the failure")
			assert.Equal(t, types.ModeTracking, st.Mode())
			assert.Equal(t, 1, eng.seedCount())

			halted, reason := st.Halted()
			assert.True(t, halted)
			assert.Error(t, reason)
			assert.False(t, st.InFlight())
			assert.False(t, st.TryBeginProcessing())

			got := sink.all()
			require.Len(t, got, 1, "only the localization of frame 1 is shown")
			assert.Equal(t, types.ModeLocalizing, got[0].Mode)

			for _, l := range q.Drain() {
				l.Release()
			}
			assertBalanced(t, frames)
		})
	}
}

func TestWorkerRetriesUpToLimit(t *testing.T) {
	t.Run("gives up after consecutive failures", func(t *testing.T) {
		q := framequeue.New()
		frames := fillQueue(q, 6)
		q.Close()

		eng := &stubEngine{failCall: func(int) bool { return true }}
		st := session.New()
		w := NewWorker(WorkerConfig{Queue: q, State: st, Engine: eng, MaxConsecutiveFailures: 3})
		require.NoError(t, w.Run(context.Background()))

		assert.Len(t, eng.processedFrames(), 3)
		halted, _ := st.Halted()
		assert.True(t, halted)
		for _, l := range q.Drain() {
			l.Release()
		}
		assertBalanced(t, frames)
	})

	t.Run("success resets the count", func(t *testing.T) {
		q := framequeue.New()
		frames := fillQueue(q, 5)
		q.Close()

		// frame 1 fails on process (call 1); frame 3 fails on query (call 5)
		eng := &stubEngine{failCall: func(c int) bool { return c == 1 || c == 5 }}
		st := session.New()
		w := NewWorker(WorkerConfig{Queue: q, State: st, Engine: eng, MaxConsecutiveFailures: 2})
		require.NoError(t, w.Run(context.Background()))

		assert.Len(t, eng.processedFrames(), 5)
		halted, _ := st.Halted()
		assert.False(t, halted)
		assertBalanced(t, frames)
	})
}

func TestWorkerModeCommitFailureIsFatal(t *testing.T) {
	q := framequeue.New()
	frames := fillQueue(q, 3)
	q.Close()

	rejected := errors.New("apply changes rejected")
	eng := &stubEngine{locFor: oneRegion, seedErr: rejected}
	st := session.New()
	sink := &recordingSink{}

	err := newTestWorker(q, st, eng, sink).Run(context.Background())

	var mce *ModeCommitError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, 1, mce.Regions)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, types.ModeLocalizing, st.Mode())
	assert.Len(t, sink.all(), 1, "results are shown before the commit")
	assert.Equal(t, 2, q.Len())

	for _, l := range q.Drain() {
		l.Release()
	}
	assertBalanced(t, frames)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	q := framequeue.New()
	eng := &stubEngine{gate: make(chan struct{})}
	st := session.New()
	frames := fillQueue(q, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestWorker(q, st, eng).Run(ctx) }()

	require.Eventually(t, func() bool { return eng.active.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	halted, _ := st.Halted()
	assert.False(t, halted, "shutdown is not a recognition failure")
	assert.Equal(t, int32(1), frames[0].color.releases.Load())
	assert.Equal(t, 1, q.Len())
	for _, l := range q.Drain() {
		l.Release()
	}
	assertBalanced(t, frames)
}

// F1 seeds tracking; F2..F5 keep it.
func TestScenarioLocalizeThenTrack(t *testing.T) {
	q := framequeue.New()
	st := session.New()
	eng := &stubEngine{
		gate: make(chan struct{}),
		locFor: func(n uint64) []types.Localization {
			if n == 1 {
				return oneRegion(n)
			}
			return nil
		},
	}
	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() { done <- newTestWorker(q, st, eng, sink).Run(context.Background()) }()

	var frames []queuedFrame
	for n := uint64(1); n <= 5; n++ {
		require.True(t, st.TryBeginProcessing(), "frame %d", n)
		pair, color, depth := newPair(n)
		frames = append(frames, queuedFrame{pair, color, depth})
		require.True(t, q.Push(pair.Lease()))

		if n == 1 {
			assert.Equal(t, types.ModeLocalizing, st.Mode(), "F1 queued, not processed")
			require.Eventually(t, func() bool { return eng.active.Load() == 1 }, time.Second, time.Millisecond)
			assert.Equal(t, types.ModeLocalizing, st.Mode(), "F1 in process")
		}

		eng.gate <- struct{}{}
		require.Eventually(t, func() bool { return !st.InFlight() }, time.Second, time.Millisecond)
		assert.Equal(t, types.ModeTracking, st.Mode(), "after frame %d", n)
	}

	q.Close()
	require.NoError(t, <-done)
	assert.Equal(t, 1, eng.seedCount())
	assert.Len(t, sink.all(), 5)
	assertBalanced(t, frames)
}
