package resultstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/or-samples/tracking-web/pkg/types"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func localized(session string, frame uint64, classes ...int) types.Results {
	r := types.Results{
		Session:     session,
		Mode:        types.ModeLocalizing,
		FrameNumber: frame,
		Timestamp:   time.Unix(1700000000, int64(frame)),
	}
	for i, c := range classes {
		r.Localizations = append(r.Localizations, types.Localization{
			Rect:       types.Rect{X: i * 10, Y: 5, Width: 8, Height: 8},
			Confidence: 0.8,
			ClassID:    c,
		})
	}
	return r
}

func tracked(session string, frame uint64, seeds []types.Localization) types.Results {
	r := types.Results{
		Session:     session,
		Mode:        types.ModeTracking,
		FrameNumber: frame,
		Timestamp:   time.Unix(1700000000, int64(frame)),
		Seeds:       seeds,
	}
	for i, s := range seeds {
		r.Trackings = append(r.Trackings, types.Tracking{Rect: s.Rect, Seed: i, Confidence: 0.6})
	}
	return r
}

func TestInsertAndRecent(t *testing.T) {
	s, _ := openTestStore(t)

	first := localized("s1", 3, 0, 2)
	second := tracked("s1", 4, first.Localizations)
	require.NoError(t, s.Insert(first))
	require.NoError(t, s.Insert(second))

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	opts := cmpopts.EquateApproxTime(0)
	if diff := cmp.Diff(second, recs[0].Results, opts); diff != "" {
		t.Errorf("newest record (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, recs[1].Results, opts); diff != "" {
		t.Errorf("oldest record (-want +got):\n%s", diff)
	}
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	assert.False(t, recs[0].StoredAt.IsZero())

	one, err := s.Recent(1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSessionsSummaries(t *testing.T) {
	s, _ := openTestStore(t)

	loc := localized("a", 2, 1)
	require.NoError(t, s.Insert(loc))
	require.NoError(t, s.Insert(tracked("a", 5, loc.Localizations)))
	require.NoError(t, s.Insert(tracked("a", 9, loc.Localizations)))
	require.NoError(t, s.Insert(localized("b", 1, 0, 0, 3)))

	sums, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sums, 2)

	bySession := map[string]SessionSummary{}
	for _, sum := range sums {
		bySession[sum.Session] = sum
	}
	a := bySession["a"]
	assert.Equal(t, 3, a.Results)
	assert.Equal(t, 3, a.Regions)
	assert.Equal(t, uint64(2), a.FirstFrame)
	assert.Equal(t, uint64(9), a.LastFrame)
	assert.True(t, a.Tracking)

	b := bySession["b"]
	assert.Equal(t, 1, b.Results)
	assert.Equal(t, 3, b.Regions)
	assert.False(t, b.Tracking)

	counts, err := s.ClassCounts("b")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 2, 3: 1}, counts)
}

func TestReopenKeepsHistory(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Insert(localized("x", 1, 0)))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	recs, err := again.Recent(0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEmptyStore(t *testing.T) {
	s, _ := openTestStore(t)

	recs, err := s.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, recs)

	sums, err := s.Sessions()
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestSessionClasses(t *testing.T) {
	s, _ := openTestStore(t)

	names, err := s.SessionClasses("s-1")
	require.NoError(t, err)
	assert.Nil(t, names)

	require.NoError(t, s.SetSessionClasses("s-1", []string{"mug", "plate"}))
	require.NoError(t, s.SetSessionClasses("s-2", []string{"car"}))
	require.NoError(t, s.SetSessionClasses("s-1", []string{"mug", "plate", "fork"}))

	names, err = s.SessionClasses("s-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mug", "plate", "fork"}, names)

	names, err = s.SessionClasses("s-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"car"}, names)
}
