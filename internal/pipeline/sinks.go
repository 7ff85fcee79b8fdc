// Package pipeline runs the capture loop and the recognition worker.
//
// The loop acquires every frame pair, forwards its color image to the frame
// sink and, when no pair is in flight, leases the pair onto the queue. The
// worker pops one lease at a time, runs the engine, releases the lease and
// forwards results to the result sinks. The first non-empty localization
// seeds tracking; that switch happens once per session.
package pipeline

import "github.com/or-samples/tracking-web/pkg/types"

// ResultSink receives recognition results in the order the worker produces them
type ResultSink interface {
	PublishResults(results types.Results)
}

// FrameSink receives every captured color image. pixels is only valid for
// the duration of the call.
type FrameSink interface {
	PublishFrame(timestamp int64, width, height int, pixels []byte)
}

// FrameRecorder optionally records frame pairs. SendFrame must copy what it
// keeps and never block.
type FrameRecorder interface {
	SendFrame(pair *types.FramePair) bool
}

// ResultHistory persists published results
type ResultHistory interface {
	Insert(results types.Results) error
}
