package camera

import (
	"context"
	"encoding/binary"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/or-samples/tracking-web/internal/recorder"
	"github.com/or-samples/tracking-web/pkg/types"
)

func refs(img types.Image) int32 {
	return img.(*types.Buffer).Refs()
}

func newTestSynthetic(t *testing.T) *Synthetic {
	t.Helper()
	s := NewSynthetic(SyntheticConfig{Width: 64, Height: 48, FPS: 0, Objects: 2})
	color, depth, err := s.Init()
	require.NoError(t, err)
	assert.Equal(t, types.ImageInfo{Width: 64, Height: 48, Format: types.FormatRGB8}, color)
	assert.Equal(t, types.ImageInfo{Width: 64, Height: 48, Format: types.FormatZ16}, depth)
	return s
}

func TestSyntheticRendersNearObjects(t *testing.T) {
	s := newTestSynthetic(t)
	defer s.Stop()

	objects := s.Objects()
	pair, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pair.Number)

	o := objects[0]
	cx, cy := o.X+o.Width/2, o.Y+o.Height/2
	d := binary.LittleEndian.Uint16(pair.Depth.Data()[(cy*64+cx)*2:])
	assert.Less(t, d, uint16(backgroundDepth))

	corner := binary.LittleEndian.Uint16(pair.Depth.Data()[(47*64+63)*2:])
	inAny := false
	for _, r := range objects {
		if 63 >= r.X && 63 < r.X+r.Width && 47 >= r.Y && 47 < r.Y+r.Height {
			inAny = true
		}
	}
	if !inAny {
		assert.Equal(t, uint16(backgroundDepth), corner)
	}
}

func TestSyntheticObjectsStayInFrame(t *testing.T) {
	s := newTestSynthetic(t)
	defer s.Stop()

	for i := 0; i < 200; i++ {
		_, err := s.Acquire(context.Background())
		require.NoError(t, err)
	}
	for _, r := range s.Objects() {
		assert.GreaterOrEqual(t, r.X, 0)
		assert.GreaterOrEqual(t, r.Y, 0)
		assert.LessOrEqual(t, r.X+r.Width, 64)
		assert.LessOrEqual(t, r.Y+r.Height, 48)
	}
}

func TestSourceReleasesPreviousPair(t *testing.T) {
	s := newTestSynthetic(t)

	p1, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), refs(p1.Color))

	lease := p1.Lease()
	assert.Equal(t, int32(2), refs(p1.Color))

	p2, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), refs(p1.Color), "source dropped its reference, lease still holds one")
	assert.Equal(t, int32(1), refs(p2.Depth))

	require.True(t, lease.Release())
	assert.Equal(t, int32(0), refs(p1.Color))

	p3, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, p1.Color, p3.Color, "released buffer is recycled")
	assert.Equal(t, int32(1), refs(p3.Color))

	require.NoError(t, s.Stop())
	assert.Equal(t, int32(0), refs(p3.Color))
	assert.Equal(t, int32(0), refs(p3.Depth))

	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, s.Stop())
}

func TestSyntheticPacingHonorsContext(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Width: 32, Height: 32, FPS: 1, Objects: 1})
	_, _, err := s.Init()
	require.NoError(t, err)
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSyntheticRejectsTinyResolution(t *testing.T) {
	_, _, err := NewSynthetic(SyntheticConfig{Width: 4, Height: 4}).Init()
	assert.Error(t, err)
}

func TestExitSignalKeys(t *testing.T) {
	e := NewExitSignal()
	e.WatchKeys(strings.NewReader("abc\x1b"))

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("Esc did not request exit")
	}
	assert.True(t, e.Requested())

	other := NewExitSignal()
	other.WatchKeys(strings.NewReader("hello"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, other.Requested())
	other.Request()
	other.Request()
	assert.True(t, other.Requested())
}

func TestExitSignalWatchTerminalOnPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	e := NewExitSignal()
	keyMode, restore := e.WatchTerminal(r)
	require.NotNil(t, restore)
	defer restore()
	assert.False(t, keyMode, "a pipe is not a terminal")

	_, err = w.Write([]byte("xq"))
	require.NoError(t, err)

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("q did not request exit")
	}
}

func TestSourceReportsExitRequest(t *testing.T) {
	e := NewExitSignal()
	s := NewSynthetic(SyntheticConfig{Width: 32, Height: 32, Exit: e})
	assert.False(t, s.ExitRequested())
	e.Request()
	assert.True(t, s.ExitRequested())
}

func recordFrames(t *testing.T, n int) string {
	t.Helper()
	src := newTestSynthetic(t)
	defer src.Stop()

	rec := recorder.NewRecorder(t.TempDir())
	require.NoError(t, rec.Start())
	for i := 0; i < n; i++ {
		pair, err := src.Acquire(context.Background())
		require.NoError(t, err)
		require.True(t, rec.SendFrame(pair))
	}
	require.NoError(t, rec.Stop())
	return rec.Path()
}

func TestPlaybackReplaysRecording(t *testing.T) {
	path := recordFrames(t, 3)

	p := NewPlayback(PlaybackConfig{Path: path, FPS: 1000})
	color, depth, err := p.Init()
	require.NoError(t, err)
	assert.Equal(t, 64, color.Width)
	assert.Equal(t, types.FormatZ16, depth.Format)

	var numbers []uint64
	for {
		pair, err := p.Acquire(context.Background())
		if err == ErrEndOfStream {
			break
		}
		require.NoError(t, err)
		numbers = append(numbers, pair.Number)
	}
	assert.Equal(t, []uint64{1, 2, 3}, numbers)
	require.NoError(t, p.Stop())
}

func TestPlaybackLoops(t *testing.T) {
	path := recordFrames(t, 2)

	p := NewPlayback(PlaybackConfig{Path: path, Loop: true, FPS: 1000})
	_, _, err := p.Init()
	require.NoError(t, err)
	defer p.Stop()

	for i := 0; i < 5; i++ {
		_, err := p.Acquire(context.Background())
		require.NoError(t, err, "frame %d", i)
	}
}

func TestPlaybackMissingFile(t *testing.T) {
	_, _, err := NewPlayback(PlaybackConfig{Path: t.TempDir() + "/missing" + recorder.FileExt}).Init()
	assert.Error(t, err)
}
