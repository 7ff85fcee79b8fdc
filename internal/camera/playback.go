package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/recorder"
	"github.com/or-samples/tracking-web/pkg/types"
)

// PlaybackConfig configures replay of a frame-pair recording
type PlaybackConfig struct {
	Path string
	Loop bool
	// FPS paces replay; 0 replays at the recorded timing
	FPS  int
	Exit *ExitSignal
}

// Playback replays a recording written by the recorder package
type Playback struct {
	holder

	cfg       PlaybackConfig
	colorPool *bufferPool
	depthPool *bufferPool

	mu       sync.Mutex
	reader   *recorder.Reader
	pending  *recorder.Frame
	lastTS   time.Time
	lastEmit time.Time
	number   uint64
	stopped  bool
	stopCh   chan struct{}
}

// NewPlayback creates a playback source
func NewPlayback(cfg PlaybackConfig) *Playback {
	return &Playback{
		holder: holder{exit: cfg.Exit},
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Init opens the recording and reads the first frame for its geometry
func (p *Playback) Init() (types.ImageInfo, types.ImageInfo, error) {
	rd, err := recorder.OpenReader(p.cfg.Path)
	if err != nil {
		return types.ImageInfo{}, types.ImageInfo{}, err
	}
	first, err := rd.Next()
	if err != nil {
		rd.Close()
		if errors.Is(err, io.EOF) {
			return types.ImageInfo{}, types.ImageInfo{}, fmt.Errorf("recording %s is empty", p.cfg.Path)
		}
		return types.ImageInfo{}, types.ImageInfo{}, fmt.Errorf("failed to read recording: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reader = rd
	p.pending = first
	p.colorPool = newBufferPool(first.ColorInfo, poolSize)
	p.depthPool = newBufferPool(first.DepthInfo, poolSize)

	logger.Info("Camera", "Playback of %s (%dx%d color, %dx%d depth, loop=%v)", p.cfg.Path,
		first.ColorInfo.Width, first.ColorInfo.Height, first.DepthInfo.Width, first.DepthInfo.Height, p.cfg.Loop)
	return first.ColorInfo, first.DepthInfo, nil
}

// Acquire implements Source. It returns ErrEndOfStream after the last frame
// unless looping.
func (p *Playback) Acquire(ctx context.Context) (*types.FramePair, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrStopped
	}
	if p.reader == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("playback source not initialized")
	}
	f, err := p.nextLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	wait := p.delayLocked(f)
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.stopCh:
			return nil, ErrStopped
		case <-timer.C:
		}
	}

	if f.ColorInfo != p.colorPool.info || f.DepthInfo != p.depthPool.info {
		return nil, fmt.Errorf("frame %d changes geometry mid-recording", f.Number)
	}
	color := p.colorPool.get()
	depth := p.depthPool.get()
	copy(color.Data(), f.Color)
	copy(depth.Data(), f.Depth)

	p.mu.Lock()
	p.number++
	p.lastEmit = time.Now()
	pair := &types.FramePair{Number: p.number, Timestamp: f.Timestamp, Color: color, Depth: depth}
	p.mu.Unlock()

	p.swap(pair)
	return pair, nil
}

func (p *Playback) nextLocked() (*recorder.Frame, error) {
	if f := p.pending; f != nil {
		p.pending = nil
		return f, nil
	}
	f, err := p.reader.Next()
	if errors.Is(err, io.EOF) && p.cfg.Loop {
		if err := p.reader.Rewind(); err != nil {
			return nil, err
		}
		p.lastTS = time.Time{}
		f, err = p.reader.Next()
	}
	if errors.Is(err, io.EOF) {
		return nil, ErrEndOfStream
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return f, nil
}

// delayLocked returns how long to wait before emitting f
func (p *Playback) delayLocked(f *recorder.Frame) time.Duration {
	defer func() { p.lastTS = f.Timestamp }()
	if p.lastEmit.IsZero() {
		return 0
	}
	interval := time.Duration(0)
	switch {
	case p.cfg.FPS > 0:
		interval = time.Second / time.Duration(p.cfg.FPS)
	case !p.lastTS.IsZero() && f.Timestamp.After(p.lastTS):
		interval = f.Timestamp.Sub(p.lastTS)
	}
	return interval - time.Since(p.lastEmit)
}

// Stop implements Source
func (p *Playback) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	rd := p.reader
	p.reader = nil
	p.mu.Unlock()

	p.swap(nil)
	if rd != nil {
		return rd.Close()
	}
	return nil
}
