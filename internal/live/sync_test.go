package live_test

import (
	"hlsrecd/internal/live"
	"hlsrecd/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func specOf(parts ...[]models.MediaSegment) *models.StreamSpec {
	m := models.NewManifest("https://cdn.example.com/x.m3u8")
	for _, p := range parts {
		m.Parts = append(m.Parts, models.MediaPart{Segments: p})
	}
	return &models.StreamSpec{Manifest: m}
}

func TestSyncStreams_ByDate(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := specOf(dated(start, 10, 19))
	b := specOf(dated(start.Add(4*time.Second), 50, 59))
	c := specOf(dated(start.Add(2*time.Second), 7, 16))

	live.SyncStreams([]*models.StreamSpec{a, b, c}, 0)

	for _, s := range []*models.StreamSpec{a, b, c} {
		first := s.Manifest.FirstPart()
		assert.Equal(t, start.Add(4*time.Second).Unix(), first[0].DateTime.Unix())
	}
	assert.Equal(t, int64(12), a.Manifest.FirstPart()[0].Index)
	assert.Equal(t, int64(50), b.Manifest.FirstPart()[0].Index)
	assert.Equal(t, int64(8), c.Manifest.FirstPart()[0].Index)
}

func TestSyncStreams_ByDateTruncatesToSeconds(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := specOf(dated(start, 10, 19))
	// b begins at T+2.5s, which compares as T+2s.
	b := specOf(dated(start.Add(2500*time.Millisecond), 50, 59))

	live.SyncStreams([]*models.StreamSpec{a, b}, 0)

	assert.Equal(t, int64(11), a.Manifest.FirstPart()[0].Index)
	assert.Equal(t, start.Add(2*time.Second), *a.Manifest.FirstPart()[0].DateTime)
	assert.Equal(t, int64(50), b.Manifest.FirstPart()[0].Index)
	assert.Len(t, b.Manifest.FirstPart(), 10)
}

func TestSyncStreams_ByIndex(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	undated := indexed(5, 9)
	a := specOf(dated(start, 3, 9))
	b := specOf(undated)

	live.SyncStreams([]*models.StreamSpec{a, b}, 0)
	assert.Equal(t, []int64{5, 6, 7, 8, 9}, indices(a.Manifest.FirstPart()))
	assert.Equal(t, []int64{5, 6, 7, 8, 9}, indices(b.Manifest.FirstPart()))
}

func TestSyncStreams_Window(t *testing.T) {
	a := specOf(indexed(0, 19))
	b := specOf(indexed(0, 19), indexed(100, 101))
	original := a.Manifest.Parts[0].Segments

	live.SyncStreams([]*models.StreamSpec{a, b}, 5)

	assert.Equal(t, []int64{15, 16, 17, 18, 19}, indices(a.Manifest.FirstPart()))
	assert.Equal(t, []int64{15, 16, 17, 18, 19}, indices(b.Manifest.FirstPart()))
	assert.Len(t, b.Manifest.Parts[1].Segments, 2, "later parts are left alone")
	assert.Len(t, original, 20, "slices are replaced, not modified")
	assert.Equal(t, int64(0), original[0].Index)
}

func TestSyncStreams_WindowUsesShortestRendition(t *testing.T) {
	a := specOf(indexed(0, 9))
	b := specOf(indexed(0, 5))

	live.SyncStreams([]*models.StreamSpec{a, b}, 4)

	assert.Equal(t, []int64{2, 3, 4, 5, 6, 7, 8, 9}, indices(a.Manifest.FirstPart()))
	assert.Equal(t, []int64{2, 3, 4, 5}, indices(b.Manifest.FirstPart()))
}

func TestSyncStreams_IgnoresEmpty(t *testing.T) {
	a := specOf(indexed(3, 6))
	live.SyncStreams([]*models.StreamSpec{a, {}, specOf()}, 0)
	assert.Equal(t, []int64{3, 4, 5, 6}, indices(a.Manifest.FirstPart()))
}
