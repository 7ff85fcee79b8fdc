package webdisplay

import (
	"time"

	"github.com/or-samples/tracking-web/pkg/types"
)

// BoundingBox is the JSON shape of a region rectangle.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Region is one labeled region as sent to browsers.
type Region struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Seed       int         `json:"seed"` // -1 while localizing
}

// ResultEvent is the payload for /api/results/stream and the data channel.
type ResultEvent struct {
	Session     string   `json:"session"`
	Mode        string   `json:"mode"`
	FrameNumber uint64   `json:"frame_number"`
	Timestamp   float64  `json:"timestamp"`
	NumRegions  int      `json:"num_regions"`
	Version     int      `json:"version"`
	Regions     []Region `json:"regions"`
}

// MonitorStats describes the published frame stream.
type MonitorStats struct {
	FramesPublished uint64  `json:"frames_published"`
	CurrentFPS      float64 `json:"current_fps"`
	RegionCount     int     `json:"region_count"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	LastTimestamp   int64   `json:"last_timestamp"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

func newResultEvent(results types.Results, classNames []string) ResultEvent {
	labeled := results.Labeled(classNames)
	regions := make([]Region, 0, len(labeled))
	for _, l := range labeled {
		regions = append(regions, Region{
			ClassName:  l.ClassName,
			Confidence: l.Confidence,
			BBox:       BoundingBox{X: l.Rect.X, Y: l.Rect.Y, W: l.Rect.Width, H: l.Rect.Height},
			Seed:       l.Seed,
		})
	}

	ts := results.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ResultEvent{
		Session:     results.Session,
		Mode:        results.Mode.String(),
		FrameNumber: results.FrameNumber,
		Timestamp:   float64(ts.UnixNano()) / 1e9,
		NumRegions:  len(regions),
		Regions:     regions,
	}
}
