package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/or-samples/tracking-web/internal/resultstore"
	"github.com/or-samples/tracking-web/pkg/types"
)

func TestReportSummarizesSessions(t *testing.T) {
	store, err := resultstore.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	seeds := []types.Localization{
		{Rect: types.Rect{X: 1, Y: 1, Width: 10, Height: 10}, Confidence: 0.9, ClassID: 0},
		{Rect: types.Rect{X: 20, Y: 1, Width: 30, Height: 10}, Confidence: 0.8, ClassID: 3},
	}
	require.NoError(t, store.SetSessionClasses("s-1", []string{"box", "bottle", "ball", "book"}))
	require.NoError(t, store.Insert(types.Results{
		Session: "s-1", Mode: types.ModeLocalizing, FrameNumber: 4,
		Timestamp: time.Now(), Localizations: seeds,
	}))
	require.NoError(t, store.Insert(types.Results{
		Session: "s-1", Mode: types.ModeTracking, FrameNumber: 5, Timestamp: time.Now(),
		Trackings: []types.Tracking{{Rect: seeds[0].Rect, Seed: 0, Confidence: 1}}, Seeds: seeds,
	}))

	r, err := buildReport(store, 1)
	require.NoError(t, err)
	require.Len(t, r.Sessions, 1)
	assert.Equal(t, map[string]int{"box": 1, "book": 1}, r.Sessions[0].Classes)
	assert.True(t, r.Sessions[0].Tracking)
	require.Len(t, r.Recent, 1)
	assert.Equal(t, uint64(5), r.Recent[0].Results.FrameNumber)

	var out bytes.Buffer
	require.NoError(t, r.print(&out))
	assert.Contains(t, out.String(), "s-1")
	assert.Contains(t, out.String(), "book=1 box=1")
	assert.Contains(t, out.String(), "tracking")
}

func TestReportWithoutStoredClasses(t *testing.T) {
	store, err := resultstore.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(types.Results{
		Session: "old", Mode: types.ModeLocalizing, FrameNumber: 1, Timestamp: time.Now(),
		Localizations: []types.Localization{{Rect: types.Rect{Width: 2, Height: 2}, ClassID: 2}},
	}))

	r, err := buildReport(store, 5)
	require.NoError(t, err)
	require.Len(t, r.Sessions, 1)
	assert.Equal(t, map[string]int{"class_2": 1}, r.Sessions[0].Classes)
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	assert.Equal(t, 1, run(filepath.Join(dir, "missing.db"), 5, false, &out))

	path := filepath.Join(dir, "history.db")
	store, err := resultstore.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SetSessionClasses("s-1", []string{"mug"}))
	require.NoError(t, store.Insert(types.Results{
		Session: "s-1", Mode: types.ModeLocalizing, FrameNumber: 3, Timestamp: time.Now(),
		Localizations: []types.Localization{{Rect: types.Rect{Width: 2, Height: 2}, ClassID: 0}},
	}))
	require.NoError(t, store.Close())

	out.Reset()
	assert.Equal(t, 0, run(path, 5, true, &out))
	assert.Contains(t, out.String(), `"mug": 1`)
}

func TestFormatClassesIsSorted(t *testing.T) {
	assert.Equal(t, "a=2 b=1", formatClasses(map[string]int{"b": 1, "a": 2}))
	assert.Equal(t, "", formatClasses(nil))
}
