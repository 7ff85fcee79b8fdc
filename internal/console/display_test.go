package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/or-samples/tracking-web/pkg/types"
)

func TestRenderLocalization(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, []string{"box", "bottle"})

	d.PublishResults(types.Results{
		Mode:        types.ModeLocalizing,
		FrameNumber: 7,
		Localizations: []types.Localization{
			{Rect: types.Rect{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.912, ClassID: 1},
			{Rect: types.Rect{X: 5, Y: 6, Width: 7, Height: 8}, Confidence: 0.7, ClassID: 9},
		},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[localizing] frame 7: 2 object(s)", lines[0])
	assert.Contains(t, lines[1], "bottle")
	assert.Contains(t, lines[1], "0.91")
	assert.Contains(t, lines[1], "x=1 y=2 w=3 h=4")
	assert.Contains(t, lines[2], "class_9")
}

func TestRenderTrackingUsesSeedClass(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, nil)

	d.Render(types.Results{
		Mode:        types.ModeTracking,
		FrameNumber: 9,
		Seeds:       []types.Localization{{ClassID: 0}},
		Trackings:   []types.Tracking{{Rect: types.Rect{X: 10, Width: 2, Height: 2}, Seed: 0, Confidence: 0.5}},
	}, []string{"cup"})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[tracking] frame 9: 1 object(s)\n"), out)
	assert.Contains(t, out, "cup")
	assert.Contains(t, out, "x=10 y=0 w=2 h=2")
}
