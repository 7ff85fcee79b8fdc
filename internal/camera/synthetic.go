package camera

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/pkg/types"
)

const (
	backgroundDepth = 3000 // mm
	poolSize        = 8
)

// SyntheticConfig configures the synthetic scene
type SyntheticConfig struct {
	Width   int
	Height  int
	FPS     int // 0 disables pacing
	Objects int
	Exit    *ExitSignal
}

// DefaultSyntheticConfig returns a VGA scene at 30 fps with three objects
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Width:   640,
		Height:  480,
		FPS:     30,
		Objects: 3,
	}
}

type sceneObject struct {
	rect   types.Rect
	dx, dy int
	rgb    [3]byte
	depth  uint16
}

// Synthetic renders moving boxes with matching depth. Objects are closer
// than the background so depth-based recognition finds them.
type Synthetic struct {
	holder

	cfg       SyntheticConfig
	colorPool *bufferPool
	depthPool *bufferPool

	mu      sync.Mutex
	objects []sceneObject
	number  uint64
	ticker  *time.Ticker
	stopped bool
	stopCh  chan struct{}
}

// NewSynthetic creates a synthetic source
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	return &Synthetic{
		holder: holder{exit: cfg.Exit},
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Init implements Source
func (s *Synthetic) Init() (types.ImageInfo, types.ImageInfo, error) {
	if s.cfg.Width < 16 || s.cfg.Height < 16 {
		return types.ImageInfo{}, types.ImageInfo{}, fmt.Errorf("synthetic resolution too small: %dx%d", s.cfg.Width, s.cfg.Height)
	}

	color := types.ImageInfo{Width: s.cfg.Width, Height: s.cfg.Height, Format: types.FormatRGB8}
	depth := types.ImageInfo{Width: s.cfg.Width, Height: s.cfg.Height, Format: types.FormatZ16}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.colorPool = newBufferPool(color, poolSize)
	s.depthPool = newBufferPool(depth, poolSize)
	s.objects = newScene(s.cfg)
	if s.cfg.FPS > 0 {
		s.ticker = time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	}

	logger.Info("Camera", "Synthetic source %dx%d @ %d fps, %d objects", s.cfg.Width, s.cfg.Height, s.cfg.FPS, len(s.objects))
	return color, depth, nil
}

func newScene(cfg SyntheticConfig) []sceneObject {
	palette := [][3]byte{{220, 60, 60}, {60, 200, 80}, {70, 90, 230}, {230, 200, 40}, {200, 80, 220}}
	n := max(cfg.Objects, 0)
	objects := make([]sceneObject, 0, n)
	for i := 0; i < n; i++ {
		w := cfg.Width / (5 + i%3)
		h := cfg.Height / (4 + (i+1)%3)
		objects = append(objects, sceneObject{
			rect:  types.Rect{X: (i * cfg.Width / max(n, 1)) % (cfg.Width - w), Y: (i * 37) % (cfg.Height - h), Width: w, Height: h},
			dx:    2 + i,
			dy:    1 + i%2,
			rgb:   palette[i%len(palette)],
			depth: uint16(700 + 150*i),
		})
	}
	return objects
}

// Acquire implements Source
func (s *Synthetic) Acquire(ctx context.Context) (*types.FramePair, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if s.colorPool == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("synthetic source not initialized")
	}
	ticker := s.ticker
	s.mu.Unlock()

	if ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.stopCh:
			return nil, ErrStopped
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	color := s.colorPool.get()
	depth := s.depthPool.get()
	s.render(color.Data(), depth.Data())
	s.step()
	s.number++
	pair := &types.FramePair{
		Number:    s.number,
		Timestamp: time.Now(),
		Color:     color,
		Depth:     depth,
	}
	s.mu.Unlock()

	s.swap(pair)
	return pair, nil
}

func (s *Synthetic) render(rgb, depth []byte) {
	w, h := s.cfg.Width, s.cfg.Height
	for y := 0; y < h; y++ {
		shade := byte(40 + 40*y/h)
		row := rgb[y*w*3 : (y+1)*w*3]
		for i := 0; i < len(row); i += 3 {
			row[i], row[i+1], row[i+2] = shade, shade, shade
		}
		drow := depth[y*w*2 : (y+1)*w*2]
		for i := 0; i < len(drow); i += 2 {
			binary.LittleEndian.PutUint16(drow[i:], backgroundDepth)
		}
	}

	// Later objects are drawn over earlier ones in both planes.
	for _, o := range s.objects {
		for y := o.rect.Y; y < o.rect.Y+o.rect.Height; y++ {
			for x := o.rect.X; x < o.rect.X+o.rect.Width; x++ {
				off := (y*w + x) * 3
				rgb[off], rgb[off+1], rgb[off+2] = o.rgb[0], o.rgb[1], o.rgb[2]
				binary.LittleEndian.PutUint16(depth[(y*w+x)*2:], o.depth)
			}
		}
	}
}

// step bounces every object off the frame edges
func (s *Synthetic) step() {
	for i := range s.objects {
		o := &s.objects[i]
		o.rect.X += o.dx
		o.rect.Y += o.dy
		if o.rect.X < 0 || o.rect.X+o.rect.Width > s.cfg.Width {
			o.dx = -o.dx
			o.rect.X = min(max(o.rect.X, 0), s.cfg.Width-o.rect.Width)
		}
		if o.rect.Y < 0 || o.rect.Y+o.rect.Height > s.cfg.Height {
			o.dy = -o.dy
			o.rect.Y = min(max(o.rect.Y, 0), s.cfg.Height-o.rect.Height)
		}
	}
}

// Objects returns the current object rectangles
func (s *Synthetic) Objects() []types.Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Rect, len(s.objects))
	for i, o := range s.objects {
		out[i] = o.rect
	}
	return out
}

// Stop implements Source
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	n := s.number
	s.mu.Unlock()

	s.swap(nil)
	logger.Info("Camera", "Synthetic source stopped after %d frames", n)
	return nil
}
