package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/or-samples/tracking-web/internal/camera"
	"github.com/or-samples/tracking-web/internal/recognition"
	"github.com/or-samples/tracking-web/pkg/types"
)

// countingImage instruments every reference change
type countingImage struct {
	info      types.ImageInfo
	data      []byte
	refs      atomic.Int32
	adds      atomic.Int32
	releases  atomic.Int32
	underflow atomic.Bool
}

func newCountingImage(info types.ImageInfo) *countingImage {
	img := &countingImage{info: info, data: make([]byte, info.Size())}
	img.refs.Store(1)
	return img
}

func (c *countingImage) Info() types.ImageInfo { return c.info }
func (c *countingImage) Data() []byte          { return c.data }

func (c *countingImage) AddRef() int32 {
	c.adds.Add(1)
	return c.refs.Add(1)
}

func (c *countingImage) Release() int32 {
	c.releases.Add(1)
	n := c.refs.Add(-1)
	if n < 0 {
		c.underflow.Store(true)
	}
	return n
}

// newPair returns a pair whose first color byte is the frame number
func newPair(n uint64) (*types.FramePair, *countingImage, *countingImage) {
	color := newCountingImage(types.ImageInfo{Width: 2, Height: 1, Format: types.FormatRGB8})
	depth := newCountingImage(types.ImageInfo{Width: 2, Height: 1, Format: types.FormatZ16})
	color.data[0] = byte(n)
	return &types.FramePair{Number: n, Color: color, Depth: depth}, color, depth
}

// stubSource hands out counting pairs and keeps one reference on the latest
type stubSource struct {
	mu     sync.Mutex
	limit  uint64
	n      uint64
	last   *types.FramePair
	images []*countingImage
	err    error // returned once limit is reached, default end of stream
	exit   atomic.Bool
}

func (s *stubSource) Init() (types.ImageInfo, types.ImageInfo, error) {
	return types.ImageInfo{Width: 2, Height: 1, Format: types.FormatRGB8},
		types.ImageInfo{Width: 2, Height: 1, Format: types.FormatZ16}, nil
}

func (s *stubSource) Acquire(ctx context.Context) (*types.FramePair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.n >= s.limit {
		s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, camera.ErrEndOfStream
	}
	s.n++
	pair, color, depth := newPair(s.n)
	s.images = append(s.images, color, depth)
	prev := s.last
	s.last = pair
	s.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return pair, nil
}

func (s *stubSource) ExitRequested() bool { return s.exit.Load() }

func (s *stubSource) Stop() error {
	s.mu.Lock()
	prev := s.last
	s.last = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
	return nil
}

func (s *stubSource) allImages() []*countingImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*countingImage(nil), s.images...)
}

// stubEngine localizes by frame number and tracks one region per seed
type stubEngine struct {
	mu        sync.Mutex
	mode      types.Mode
	calls     int
	failCall  func(call int) bool
	locFor    func(frame uint64) []types.Localization
	lastFrame uint64
	processed []uint64
	seedCalls int
	seeds     []types.Rect
	seedErr   error
	locQuery  int

	gate      chan struct{}
	active    atomic.Int32
	maxActive atomic.Int32
	onProcess func(pair *types.FramePair)
}

func (e *stubEngine) call() error {
	e.calls++
	if e.failCall != nil && e.failCall(e.calls) {
		return &recognition.StatusError{Op: "stub", Code: recognition.StatusProcessFailed}
	}
	return nil
}

func (e *stubEngine) Configure(cfg recognition.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = cfg.Mode
	return nil
}

func (e *stubEngine) Process(ctx context.Context, pair *types.FramePair) error {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		m := e.maxActive.Load()
		if n <= m || e.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if e.onProcess != nil {
		e.onProcess(pair)
	}

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return &recognition.StatusError{Op: "stub", Code: recognition.StatusProcessFailed, Detail: ctx.Err().Error()}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed = append(e.processed, pair.Number)
	e.lastFrame = pair.Number
	return e.call()
}

func (e *stubEngine) LocalizationResults() ([]types.Localization, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locQuery++
	if err := e.call(); err != nil {
		return nil, err
	}
	if e.mode != types.ModeLocalizing {
		return nil, &recognition.StatusError{Op: "stub", Code: recognition.StatusWrongMode}
	}
	if e.locFor == nil {
		return nil, nil
	}
	return e.locFor(e.lastFrame), nil
}

func (e *stubEngine) TrackingResults() ([]types.Tracking, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.call(); err != nil {
		return nil, err
	}
	if e.mode != types.ModeTracking {
		return nil, &recognition.StatusError{Op: "stub", Code: recognition.StatusWrongMode}
	}
	out := make([]types.Tracking, len(e.seeds))
	for i, r := range e.seeds {
		out[i] = types.Tracking{Rect: r, Seed: i, Confidence: 0.9}
	}
	return out, nil
}

func (e *stubEngine) SetTrackingSeed(rois []types.Rect) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seedCalls++
	if e.seedErr != nil {
		return e.seedErr
	}
	e.mode = types.ModeTracking
	e.seeds = rois
	return nil
}

func (e *stubEngine) ObjectClassNames() []string { return []string{"box"} }

func (e *stubEngine) processedFrames() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint64(nil), e.processed...)
}

func (e *stubEngine) seedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seedCalls
}

func oneRegion(uint64) []types.Localization {
	return []types.Localization{{Rect: types.Rect{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.9}}
}

// recordingSink collects results and appends its name to a shared order log
type recordingSink struct {
	name  string
	order *orderLog

	mu      sync.Mutex
	results []types.Results
}

type orderLog struct {
	mu    sync.Mutex
	names []string
}

func (o *orderLog) add(name string) {
	o.mu.Lock()
	o.names = append(o.names, name)
	o.mu.Unlock()
}

func (s *recordingSink) PublishResults(r types.Results) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	if s.order != nil {
		s.order.add(s.name)
	}
}

func (s *recordingSink) all() []types.Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Results(nil), s.results...)
}

// frameLog records the first color byte (the frame number) of each frame
type frameLog struct {
	mu     sync.Mutex
	frames []byte
	ts     []int64
}

func (f *frameLog) PublishFrame(ts int64, width, height int, pixels []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, pixels[0])
	f.ts = append(f.ts, ts)
}

func (f *frameLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}
