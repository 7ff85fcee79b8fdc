// Package session holds the mutable state shared by the capture loop and the
// recognition worker.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/or-samples/tracking-web/pkg/types"
)

// State is shared between the capture loop and the recognition worker.
// All fields are safe for concurrent use.
type State struct {
	id string

	mode     atomic.Int32
	inFlight atomic.Bool
	exit     atomic.Bool

	haltMu    sync.Mutex
	halted    bool
	haltError error
}

// New creates a session in LOCALIZING mode with a fresh id
func New() *State {
	s := &State{id: uuid.NewString()}
	s.mode.Store(int32(types.ModeLocalizing))
	return s
}

// ID returns the session identifier
func (s *State) ID() string {
	return s.id
}

// Mode returns the current recognition mode
func (s *State) Mode() types.Mode {
	return types.Mode(s.mode.Load())
}

// CommitTracking switches LOCALIZING to TRACKING. Only the first call
// succeeds; the mode never goes back.
func (s *State) CommitTracking() bool {
	return s.mode.CompareAndSwap(int32(types.ModeLocalizing), int32(types.ModeTracking))
}

// TryBeginProcessing sets the in-flight flag if it was clear. It fails while
// a frame pair is already owned by the worker or after the worker halted.
func (s *State) TryBeginProcessing() bool {
	if halted, _ := s.Halted(); halted {
		return false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	// The worker halts before clearing the flag, so a halt that raced the
	// check above is visible here.
	if halted, _ := s.Halted(); halted {
		s.inFlight.Store(false)
		return false
	}
	return true
}

// EndProcessing clears the in-flight flag
func (s *State) EndProcessing() {
	s.inFlight.Store(false)
}

// InFlight reports whether the worker currently owns a frame pair
func (s *State) InFlight() bool {
	return s.inFlight.Load()
}

// RequestExit latches the exit request
func (s *State) RequestExit() {
	s.exit.Store(true)
}

// ExitRequested reports whether exit has been requested
func (s *State) ExitRequested() bool {
	return s.exit.Load()
}

// Halt records that the worker stopped consuming frames. The first reason wins.
func (s *State) Halt(reason error) {
	s.haltMu.Lock()
	defer s.haltMu.Unlock()

	if s.halted {
		return
	}
	s.halted = true
	s.haltError = reason
}

// Halted reports whether recognition stopped and why
func (s *State) Halted() (bool, error) {
	s.haltMu.Lock()
	defer s.haltMu.Unlock()
	return s.halted, s.haltError
}

// Status is a point-in-time view for status endpoints
type Status struct {
	Session     string `json:"session"`
	Mode        string `json:"mode"`
	InFlight    bool   `json:"in_flight"`
	Recognition string `json:"recognition"`
	HaltReason  string `json:"halt_reason,omitempty"`
}

// Snapshot returns the current state for display
func (s *State) Snapshot() Status {
	st := Status{
		Session:     s.id,
		Mode:        s.Mode().String(),
		InFlight:    s.InFlight(),
		Recognition: "running",
	}
	if halted, reason := s.Halted(); halted {
		st.Recognition = "halted"
		if reason != nil {
			st.HaltReason = reason.Error()
		}
	}
	return st
}
