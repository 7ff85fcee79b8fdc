package camera

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/term"

	"github.com/or-samples/tracking-web/internal/logger"
)

const keyEsc = 0x1b

// ExitSignal latches an operator exit request from process signals or the
// Esc / q keys on an input stream.
type ExitSignal struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewExitSignal creates an unset latch
func NewExitSignal() *ExitSignal {
	return &ExitSignal{done: make(chan struct{})}
}

// Request sets the latch
func (e *ExitSignal) Request() {
	e.once.Do(func() {
		e.requested.Store(true)
		close(e.done)
	})
}

// Requested reports whether exit was requested
func (e *ExitSignal) Requested() bool {
	return e.requested.Load()
}

// Done is closed once exit is requested
func (e *ExitSignal) Done() <-chan struct{} {
	return e.done
}

// WatchSignals sets the latch on SIGINT or SIGTERM until ctx ends
func (e *ExitSignal) WatchSignals(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Camera", "Received signal %v", sig)
			e.Request()
		case <-ctx.Done():
		case <-e.done:
		}
	}()
}

// WatchKeys sets the latch when Esc or q is read from r. It returns when r
// is exhausted or exit was requested.
func (e *ExitSignal) WatchKeys(r io.Reader) {
	go func() {
		br := bufio.NewReader(r)
		for !e.Requested() {
			b, err := br.ReadByte()
			if err != nil {
				return
			}
			if b == keyEsc || b == 'q' || b == 'Q' {
				logger.Info("Camera", "Exit key pressed")
				e.Request()
				return
			}
		}
	}()
}

// WatchTerminal watches f for exit keys. When f is a terminal it is switched
// to single-key input with echo off; signal keys such as Ctrl-C keep working.
// keyMode reports whether that switch happened; otherwise keys are only seen
// after Enter. restore puts the terminal back and is always non-nil.
func (e *ExitSignal) WatchTerminal(f *os.File) (keyMode bool, restore func()) {
	restore = func() {}
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		undo, err := enableKeyMode(fd)
		if err != nil {
			logger.Debug("Camera", "Single-key input unavailable: %v", err)
		} else {
			keyMode = true
			restore = func() {
				if err := undo(); err != nil {
					logger.Warn("Camera", "Failed to restore terminal: %v", err)
				}
			}
		}
	}
	e.WatchKeys(f)
	return keyMode, restore
}
