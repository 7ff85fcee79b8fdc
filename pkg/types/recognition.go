package types

import (
	"fmt"
	"time"
)

// Mode is the recognition mode of a session
type Mode int32

const (
	ModeLocalizing Mode = iota
	ModeTracking
)

// String returns the lower-case mode name
func (m Mode) String() string {
	switch m {
	case ModeLocalizing:
		return "localizing"
	case ModeTracking:
		return "tracking"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "localizing":
		*m = ModeLocalizing
	case "tracking":
		*m = ModeTracking
	default:
		return fmt.Errorf("invalid mode: %s", text)
	}
	return nil
}

// Mechanism selects how the engine localizes objects
type Mechanism int

const (
	MechanismCNN Mechanism = iota
	MechanismSegmentation
)

// String returns the lower-case mechanism name
func (m Mechanism) String() string {
	switch m {
	case MechanismCNN:
		return "cnn"
	case MechanismSegmentation:
		return "segmentation"
	default:
		return fmt.Sprintf("mechanism(%d)", int(m))
	}
}

// ParseMechanism parses a mechanism name
func ParseMechanism(s string) (Mechanism, error) {
	switch s {
	case "cnn", "CNN":
		return MechanismCNN, nil
	case "segmentation", "SEGMENTATION", "seg":
		return MechanismSegmentation, nil
	default:
		return MechanismCNN, fmt.Errorf("invalid localization mechanism: %s", s)
	}
}

// Rect is an axis-aligned region in color image pixels
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the rectangle area, zero for degenerate rectangles
func (r Rect) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Intersect returns the overlap of two rectangles
func (r Rect) Intersect(o Rect) Rect {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.Width, o.X+o.Width)
	y1 := min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// IoU returns the intersection-over-union of two rectangles
func (r Rect) IoU(o Rect) float64 {
	inter := r.Intersect(o).Area()
	if inter == 0 {
		return 0
	}
	union := r.Area() + o.Area() - inter
	return float64(inter) / float64(union)
}

// Localization is one detected object region
type Localization struct {
	Rect       Rect    `json:"rect"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// Tracking is the updated position of a previously localized object.
// Seed indexes the localization that started the track.
type Tracking struct {
	Rect       Rect    `json:"rect"`
	Seed       int     `json:"seed"`
	Confidence float64 `json:"confidence"`
}

// Results is what the worker forwards to the display sinks
type Results struct {
	Session       string         `json:"session"`
	Mode          Mode           `json:"mode"`
	FrameNumber   uint64         `json:"frame_number"`
	Timestamp     time.Time      `json:"timestamp"`
	Localizations []Localization `json:"localizations,omitempty"`
	Trackings     []Tracking     `json:"trackings,omitempty"`
	Seeds         []Localization `json:"seeds,omitempty"`
}

// Len returns the number of regions for the current mode
func (r Results) Len() int {
	if r.Mode == ModeTracking {
		return len(r.Trackings)
	}
	return len(r.Localizations)
}

// ClassName resolves a class id against a name list
func ClassName(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Labeled is a region flattened for presentation
type Labeled struct {
	Rect       Rect
	ClassName  string
	Confidence float64
	Seed       int // -1 for localizations
}

// Labeled flattens the results into presentation regions for either mode
func (r Results) Labeled(names []string) []Labeled {
	if r.Mode == ModeTracking {
		out := make([]Labeled, 0, len(r.Trackings))
		for _, t := range r.Trackings {
			name := fmt.Sprintf("object_%d", t.Seed)
			if t.Seed >= 0 && t.Seed < len(r.Seeds) {
				name = ClassName(names, r.Seeds[t.Seed].ClassID)
			}
			out = append(out, Labeled{Rect: t.Rect, ClassName: name, Confidence: t.Confidence, Seed: t.Seed})
		}
		return out
	}

	out := make([]Labeled, 0, len(r.Localizations))
	for _, l := range r.Localizations {
		out = append(out, Labeled{
			Rect:       l.Rect,
			ClassName:  ClassName(names, l.ClassID),
			Confidence: l.Confidence,
			Seed:       -1,
		})
	}
	return out
}
