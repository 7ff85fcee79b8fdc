package recorder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/pkg/types"
)

// Recorder records frame pairs to a zstd-compressed file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	buf          *bufio.Writer
	enc          *zstd.Encoder
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	dropped      atomic.Uint64
	bytesWritten uint64
	startTime    time.Time
	frameChan    chan *Frame
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewRecorder creates a new recorder writing under basePath
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath: basePath,
	}
}

// Start starts recording to a new file
func (r *Recorder) Start() error {
	return r.StartFile("")
}

// StartFile starts recording to the given file name inside the base path.
// An empty name picks a timestamped one.
func (r *Recorder) StartFile(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	if name == "" {
		name = fmt.Sprintf("recording_%s%s", time.Now().Format("20060102_150405"), FileExt)
	}
	name = filepath.Base(name)

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}
	file, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	buf := bufio.NewWriterSize(file, 1<<20)
	enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		file.Close()
		return fmt.Errorf("could not create encoder: %w", err)
	}

	r.file = file
	r.buf = buf
	r.enc = enc
	r.filename = name
	r.recording = true
	r.frameCount = 0
	r.dropped.Store(0)
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.frameChan = make(chan *Frame, 30)
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.stopChan)

	logger.Info("Recorder", "Recording to %s", name)
	return nil
}

// Stop stops recording and flushes the file
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := r.buf.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	r.file, r.buf, r.enc = nil, nil, nil

	logger.Info("Recorder", "Stopped %s: %d frames, %d dropped", r.filename, r.frameCount, r.dropped.Load())
	return nil
}

// SendFrame copies the pair and queues it for writing (non-blocking).
// The caller keeps ownership of the pair's buffers.
func (r *Recorder) SendFrame(pair *types.FramePair) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	// Skip the copy when the writer is behind. Concurrent senders can still
	// lose the race for the last slot and drop after copying.
	if len(r.frameChan) == cap(r.frameChan) {
		r.dropped.Add(1)
		return false
	}

	f := copyFrame(pair)
	select {
	case r.frameChan <- f:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeFrames(frames <-chan *Frame, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case f := <-frames:
			r.writeFrame(f)
		case <-stop:
			for {
				select {
				case f := <-frames:
					r.writeFrame(f)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(f *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enc == nil {
		return
	}

	n, err := writeFrame(r.enc, f)
	if err != nil {
		logger.Error("Recorder", "Write frame %d failed: %v", f.Number, err)
		return
	}

	r.bytesWritten += uint64(n)
	r.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Path returns the full path of the current or last recording
func (r *Recorder) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.filename == "" {
		return ""
	}
	return filepath.Join(r.basePath, r.filename)
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		Dropped:      r.dropped.Load(),
		BytesWritten: r.bytesWritten,
		Duration:     duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops any active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status.
// BytesWritten counts uncompressed record bytes.
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	Dropped      uint64    `json:"dropped"`
	BytesWritten uint64    `json:"bytes_written"`
	Duration     int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
