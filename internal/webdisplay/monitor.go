package webdisplay

import (
	"sync"
	"time"
)

// monitor keeps the latest frame statistics and results for the status routes.
type monitor struct {
	startTime   time.Time
	historySize int

	mu          sync.Mutex
	frames      uint64
	width       int
	height      int
	lastTS      int64
	lastFrameAt time.Time
	fps         float64
	classes     []string
	version     int
	latest      *ResultEvent
	history     []ResultEvent
}

func newMonitor(historySize int) *monitor {
	return &monitor{
		startTime:   time.Now(),
		historySize: historySize,
	}
}

// recordFrame updates counters and a smoothed frame rate
func (m *monitor) recordFrame(ts int64, width, height int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	m.width, m.height, m.lastTS = width, height, ts
	if !m.lastFrameAt.IsZero() {
		if dt := now.Sub(m.lastFrameAt).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps = 0.9*m.fps + 0.1*inst
			}
		}
	}
	m.lastFrameAt = now
}

// updateResults stores ev as the latest result and returns it versioned
func (m *monitor) updateResults(ev ResultEvent) ResultEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.version++
	ev.Version = m.version
	m.latest = &ev
	if ev.NumRegions > 0 {
		m.history = append([]ResultEvent{ev}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
	return ev
}

func (m *monitor) setClasses(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = append([]string(nil), names...)
}

func (m *monitor) classNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.classes...)
}

// latestRegions returns the regions to draw over the next frame
func (m *monitor) latestRegions() (string, []Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return "", nil
	}
	return m.latest.Mode, append([]Region(nil), m.latest.Regions...)
}

func (m *monitor) snapshot() (MonitorStats, *ResultEvent, []ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesPublished: m.frames,
		CurrentFPS:      m.fps,
		Width:           m.width,
		Height:          m.height,
		LastTimestamp:   m.lastTS,
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
	}

	var latest *ResultEvent
	if m.latest != nil {
		cp := *m.latest
		latest = &cp
		stats.RegionCount = cp.NumRegions
	}

	history := make([]ResultEvent, len(m.history))
	copy(history, m.history)
	return stats, latest, history
}
