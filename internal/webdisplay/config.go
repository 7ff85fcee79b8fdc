package webdisplay

import (
	"time"

	"github.com/or-samples/tracking-web/internal/metrics"
	"github.com/or-samples/tracking-web/internal/session"
)

// Config defines the runtime configuration for the web display server.
type Config struct {
	Port              int
	StatusInterval    time.Duration
	KeepaliveInterval time.Duration
	JPEGQuality       int
	HistorySize       int // recent non-empty results kept for /api/status
	HistoryLimit      int // default row count for /api/history

	// Optional collaborators. Routes backed by a nil collaborator answer 503.
	State    *session.State
	Metrics  *metrics.Metrics
	Recorder RecordingControl
	History  HistoryReader
	WebRTC   ResultChannel
}

// DefaultConfig returns the settings used by the demo program.
func DefaultConfig() Config {
	return Config{
		Port:              8000,
		StatusInterval:    2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		JPEGQuality:       75,
		HistorySize:       8,
		HistoryLimit:      50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	return c
}
