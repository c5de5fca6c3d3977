package live

import (
	"hlsrecd/internal/models"
	"math"
)

// SyncStreams trims the first part of every rendition to a common start and
// to at most window trailing segments. Renditions are aligned by wall-clock
// time when every segment of every first part has a timestamp, otherwise by
// sequence index. Segment slices are replaced, never modified in place.
// A window of zero or less disables the trailing trim.
func SyncStreams(specs []*models.StreamSpec, window int) {
	var parts []*models.MediaPart
	for _, s := range specs {
		if s == nil || s.Manifest == nil || len(s.Manifest.Parts) == 0 {
			continue
		}
		parts = append(parts, &s.Manifest.Parts[0])
	}
	if len(parts) == 0 {
		return
	}

	byDate := true
	for _, p := range parts {
		if !AllHaveDateTime(p.Segments) {
			byDate = false
			break
		}
	}

	key := func(s models.MediaSegment) int64 { return s.Index }
	if byDate {
		key = func(s models.MediaSegment) int64 { return s.DateTime.Unix() }
	}

	start := int64(math.MinInt64)
	for _, p := range parts {
		if len(p.Segments) == 0 {
			continue
		}
		earliest := key(p.Segments[0])
		for _, s := range p.Segments[1:] {
			earliest = min(earliest, key(s))
		}
		start = max(start, earliest)
	}

	minCount := math.MaxInt
	over := false
	for _, p := range parts {
		kept := make([]models.MediaSegment, 0, len(p.Segments))
		for _, s := range p.Segments {
			if key(s) >= start {
				kept = append(kept, s)
			}
		}
		p.Segments = kept
		minCount = min(minCount, len(kept))
		over = over || (window > 0 && len(kept) > window)
	}

	if !over {
		return
	}
	skip := max(0, minCount-window)
	for _, p := range parts {
		n := min(skip, len(p.Segments))
		p.Segments = append([]models.MediaSegment(nil), p.Segments[n:]...)
	}
}
