// Package recognition defines the object recognition engine contract and a
// simulated engine for running without the vendor middleware.
package recognition

import (
	"context"
	"fmt"

	"github.com/or-samples/tracking-web/pkg/types"
)

// Engine is a stateful recognition module with a localization mode and a
// tracking mode. Calls other than ObjectClassNames may fail with a
// *StatusError.
type Engine interface {
	// Configure applies mode, mechanism and confidence threshold
	Configure(cfg Config) error

	// Process runs the current mode on one frame pair
	Process(ctx context.Context, pair *types.FramePair) error

	// LocalizationResults returns the regions found by the last localizing Process
	LocalizationResults() ([]types.Localization, error)

	// TrackingResults returns the updated regions from the last tracking Process
	TrackingResults() ([]types.Tracking, error)

	// SetTrackingSeed switches to tracking mode with the given regions as
	// targets and applies the change
	SetTrackingSeed(rois []types.Rect) error

	// ObjectClassNames lists the class names indexed by ClassID
	ObjectClassNames() []string
}

// Config is the engine configuration applied by Configure
type Config struct {
	Mode                types.Mode
	Mechanism           types.Mechanism
	ConfidenceThreshold float64
}

// DefaultConfig returns localization with the CNN mechanism, ignoring
// objects under 0.7 confidence.
func DefaultConfig() Config {
	return Config{
		Mode:                types.ModeLocalizing,
		Mechanism:           types.MechanismCNN,
		ConfidenceThreshold: 0.7,
	}
}

// Validate checks that every field has a supported value
func (c Config) Validate() error {
	if c.Mode != types.ModeLocalizing && c.Mode != types.ModeTracking {
		return &StatusError{Op: "configure", Code: StatusInvalidArgument, Detail: fmt.Sprintf("mode %s", c.Mode)}
	}
	if c.Mechanism != types.MechanismCNN && c.Mechanism != types.MechanismSegmentation {
		return &StatusError{Op: "configure", Code: StatusInvalidArgument, Detail: fmt.Sprintf("mechanism %s", c.Mechanism)}
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return &StatusError{Op: "configure", Code: StatusInvalidArgument, Detail: fmt.Sprintf("confidence %.2f", c.ConfidenceThreshold)}
	}
	return nil
}
