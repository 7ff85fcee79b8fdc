// Package camera provides color+depth frame sources. Buffers handed out by a
// source stay owned by it: the source's own reference on a pair is dropped on
// the next Acquire and on Stop, so callers that keep a pair longer must Lease it.
package camera

import (
	"context"
	"errors"
	"sync"

	"github.com/or-samples/tracking-web/pkg/types"
)

// ErrEndOfStream is returned by Acquire when a finite source runs out
var ErrEndOfStream = errors.New("camera: end of stream")

// ErrStopped is returned by Acquire after Stop
var ErrStopped = errors.New("camera: stopped")

// Source produces synchronized color+depth frame pairs
type Source interface {
	// Init prepares the streams and reports their geometry
	Init() (color, depth types.ImageInfo, err error)

	// Acquire blocks until the next frame pair is available
	Acquire(ctx context.Context) (*types.FramePair, error)

	// ExitRequested reports whether the operator asked to stop
	ExitRequested() bool

	// Stop shuts the streams down and drops the source's last frame
	Stop() error
}

// bufferPool recycles buffers of one geometry through their onFree hook
type bufferPool struct {
	info types.ImageInfo
	free chan *types.Buffer
}

func newBufferPool(info types.ImageInfo, size int) *bufferPool {
	return &bufferPool{info: info, free: make(chan *types.Buffer, size)}
}

func (p *bufferPool) get() *types.Buffer {
	select {
	case b := <-p.free:
		b.Reset()
		return b
	default:
		return types.NewBuffer(p.info, p.put)
	}
}

func (p *bufferPool) put(b *types.Buffer) {
	select {
	case p.free <- b:
	default:
		// Pool full, let GC reclaim
	}
}

// holder keeps the source's reference on the most recent pair
type holder struct {
	mu   sync.Mutex
	last *types.FramePair
	exit *ExitSignal
}

func (h *holder) swap(next *types.FramePair) {
	h.mu.Lock()
	prev := h.last
	h.last = next
	h.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
}

func (h *holder) ExitRequested() bool {
	return h.exit != nil && h.exit.Requested()
}
