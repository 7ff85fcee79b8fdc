package recognition

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/pkg/types"
)

// DefaultClassNames is the vocabulary of the simulated engine
var DefaultClassNames = []string{"box", "bottle", "ball", "book", "cup"}

const (
	classBox = iota
	classBottle
	classBall
	classBook
	classCup
)

// SimulatorConfig tunes the simulated engine
type SimulatorConfig struct {
	// Latency is added to every Process call
	Latency time.Duration
	// NearThreshold is the depth in millimeters below which a pixel belongs to an object
	NearThreshold uint16
	// Cell is the sampling step in depth pixels
	Cell int
	// MinCells drops blobs smaller than this many sampled cells
	MinCells int
	// ClassNames overrides DefaultClassNames
	ClassNames []string
}

// DefaultSimulatorConfig returns settings matched to the synthetic camera
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Latency:       0,
		NearThreshold: 1500,
		Cell:          4,
		MinCells:      12,
		ClassNames:    DefaultClassNames,
	}
}

// Simulator stands in for the recognition middleware. It localizes near
// blobs in the depth frame and tracks seeds by overlap with those blobs.
type Simulator struct {
	cfg SimulatorConfig

	mu         sync.Mutex
	conf       Config
	configured bool
	seeds      []types.Rect
	locs       []types.Localization
	tracks     []types.Tracking
	lastMode   types.Mode
	processed  uint64
}

// NewSimulator creates an unconfigured simulated engine
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.NearThreshold == 0 {
		cfg.NearThreshold = def.NearThreshold
	}
	if cfg.Cell <= 0 {
		cfg.Cell = def.Cell
	}
	if cfg.MinCells <= 0 {
		cfg.MinCells = def.MinCells
	}
	if len(cfg.ClassNames) == 0 {
		cfg.ClassNames = def.ClassNames
	}
	return &Simulator{cfg: cfg}
}

// Configure implements Engine
func (s *Simulator) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conf = cfg
	s.configured = true
	if cfg.Mode == types.ModeLocalizing {
		s.seeds = nil
	}
	logger.Debug("Simulator", "configured mode=%s mechanism=%s confidence=%.2f",
		cfg.Mode, cfg.Mechanism, cfg.ConfidenceThreshold)
	return nil
}

// Process implements Engine
func (s *Simulator) Process(ctx context.Context, pair *types.FramePair) error {
	if pair == nil || pair.Depth == nil || pair.Color == nil {
		return &StatusError{Op: "process", Code: StatusInvalidArgument, Detail: "incomplete frame pair"}
	}

	s.mu.Lock()
	configured := s.configured
	s.mu.Unlock()
	if !configured {
		return &StatusError{Op: "process", Code: StatusNotConfigured}
	}

	if s.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return &StatusError{Op: "process", Code: StatusProcessFailed, Detail: ctx.Err().Error()}
		case <-time.After(s.cfg.Latency):
		}
	}

	depthInfo := pair.Depth.Info()
	if depthInfo.Format != types.FormatZ16 || len(pair.Depth.Data()) < depthInfo.Size() {
		return &StatusError{Op: "process", Code: StatusInvalidArgument, Detail: "depth stream is not z16"}
	}
	blobs := findBlobs(pair.Depth.Data(), depthInfo, s.cfg)
	scaleBlobs(blobs, depthInfo, pair.Color.Info())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	s.lastMode = s.conf.Mode
	if s.conf.Mode == types.ModeLocalizing {
		s.locs = s.localize(blobs)
		s.tracks = nil
		return nil
	}
	s.tracks = s.track(blobs)
	s.locs = nil
	return nil
}

func (s *Simulator) localize(blobs []blob) []types.Localization {
	out := make([]types.Localization, 0, len(blobs))
	for _, b := range blobs {
		conf := 0.55 + 0.45*b.fill
		if s.conf.Mechanism == types.MechanismSegmentation {
			conf = b.fill
		}
		if conf < s.conf.ConfidenceThreshold {
			continue
		}
		out = append(out, types.Localization{
			Rect:       b.rect,
			Confidence: conf,
			ClassID:    classify(b, len(s.cfg.ClassNames)),
		})
	}
	return out
}

func (s *Simulator) track(blobs []blob) []types.Tracking {
	out := make([]types.Tracking, 0, len(s.seeds))
	for i, seed := range s.seeds {
		best, bestIoU := -1, 0.0
		for j, b := range blobs {
			if iou := seed.IoU(b.rect); iou > bestIoU {
				best, bestIoU = j, iou
			}
		}
		if best < 0 {
			// Lost: report the last known position with zero confidence.
			out = append(out, types.Tracking{Rect: seed, Seed: i})
			continue
		}
		s.seeds[i] = blobs[best].rect
		out = append(out, types.Tracking{Rect: blobs[best].rect, Seed: i, Confidence: bestIoU})
	}
	return out
}

// LocalizationResults implements Engine
func (s *Simulator) LocalizationResults() ([]types.Localization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processed == 0 {
		return nil, &StatusError{Op: "query_localization_result", Code: StatusNoResults}
	}
	if s.lastMode != types.ModeLocalizing {
		return nil, &StatusError{Op: "query_localization_result", Code: StatusWrongMode}
	}
	return append([]types.Localization(nil), s.locs...), nil
}

// TrackingResults implements Engine
func (s *Simulator) TrackingResults() ([]types.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processed == 0 {
		return nil, &StatusError{Op: "query_tracking_result", Code: StatusNoResults}
	}
	if s.lastMode != types.ModeTracking {
		return nil, &StatusError{Op: "query_tracking_result", Code: StatusWrongMode}
	}
	return append([]types.Tracking(nil), s.tracks...), nil
}

// SetTrackingSeed implements Engine
func (s *Simulator) SetTrackingSeed(rois []types.Rect) error {
	if len(rois) == 0 {
		return &StatusError{Op: "set_tracking_rois", Code: StatusInvalidArgument, Detail: "no regions"}
	}
	for _, r := range rois {
		if r.Area() == 0 {
			return &StatusError{Op: "set_tracking_rois", Code: StatusInvalidArgument, Detail: "empty region"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return &StatusError{Op: "apply_changes", Code: StatusNotConfigured}
	}
	s.conf.Mode = types.ModeTracking
	s.seeds = append([]types.Rect(nil), rois...)
	logger.Debug("Simulator", "tracking %d regions", len(rois))
	return nil
}

// ObjectClassNames implements Engine
func (s *Simulator) ObjectClassNames() []string {
	return append([]string(nil), s.cfg.ClassNames...)
}

type blob struct {
	rect  types.Rect
	cells int
	fill  float64
}

// findBlobs samples the depth frame on a grid and groups near cells into
// 4-connected components.
func findBlobs(depth []byte, info types.ImageInfo, cfg SimulatorConfig) []blob {
	step := cfg.Cell
	gw := info.Width / step
	gh := info.Height / step
	if gw == 0 || gh == 0 {
		return nil
	}

	near := make([]bool, gw*gh)
	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			x := gx*step + step/2
			y := gy*step + step/2
			off := (y*info.Width + x) * 2
			d := binary.LittleEndian.Uint16(depth[off : off+2])
			near[gy*gw+gx] = d > 0 && d < cfg.NearThreshold
		}
	}

	seen := make([]bool, len(near))
	var blobs []blob
	stack := make([]int, 0, 64)
	for start := range near {
		if !near[start] || seen[start] {
			continue
		}

		minX, minY, maxX, maxY := gw, gh, -1, -1
		cells := 0
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cx, cy := idx%gw, idx/gw
			cells++
			minX, maxX = min(minX, cx), max(maxX, cx)
			minY, maxY = min(minY, cy), max(maxY, cy)

			for _, n := range [4][2]int{{cx - 1, cy}, {cx + 1, cy}, {cx, cy - 1}, {cx, cy + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= gw || ny >= gh {
					continue
				}
				ni := ny*gw + nx
				if near[ni] && !seen[ni] {
					seen[ni] = true
					stack = append(stack, ni)
				}
			}
		}

		if cells < cfg.MinCells {
			continue
		}
		bw, bh := maxX-minX+1, maxY-minY+1
		blobs = append(blobs, blob{
			rect:  types.Rect{X: minX * step, Y: minY * step, Width: bw * step, Height: bh * step},
			cells: cells,
			fill:  float64(cells) / float64(bw*bh),
		})
	}
	return blobs
}

// scaleBlobs maps depth coordinates onto the color image
func scaleBlobs(blobs []blob, depth, color types.ImageInfo) {
	if depth.Width == color.Width && depth.Height == color.Height {
		return
	}
	for i := range blobs {
		r := blobs[i].rect
		blobs[i].rect = types.Rect{
			X:      r.X * color.Width / depth.Width,
			Y:      r.Y * color.Height / depth.Height,
			Width:  r.Width * color.Width / depth.Width,
			Height: r.Height * color.Height / depth.Height,
		}
	}
}

// classify guesses a class from blob shape
func classify(b blob, numClasses int) int {
	aspect := float64(b.rect.Width) / float64(b.rect.Height)
	class := classBox
	switch {
	case aspect > 1.4:
		class = classBook
	case aspect < 0.6:
		class = classBottle
	case aspect < 0.8:
		class = classCup
	case b.fill < 0.85:
		class = classBall
	}
	if class >= numClasses {
		return 0
	}
	return class
}
