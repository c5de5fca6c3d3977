package models

import "time"

// DefaultRefreshInterval is used until a live manifest suggests its own.
const DefaultRefreshInterval = 15 * time.Second

// Manifest is one rendition's timeline. Concatenating the segments of all
// parts, in order, gives the playback timeline.
type Manifest struct {
	URL    string
	IsLive bool
	// TargetDuration is the nominal maximum segment duration in seconds.
	TargetDuration *float64
	// RefreshInterval is the suggested delay between live reloads.
	RefreshInterval time.Duration
	// MediaInit is the optional initialization segment (EXT-X-MAP).
	MediaInit *MediaSegment
	Parts     []MediaPart
}

// NewManifest returns an empty manifest with the default refresh interval.
func NewManifest(url string) *Manifest {
	return &Manifest{URL: url, RefreshInterval: DefaultRefreshInterval}
}

// TotalDuration is the sum of all segment durations in seconds.
func (m *Manifest) TotalDuration() float64 {
	var total float64
	for _, p := range m.Parts {
		total += p.Duration()
	}
	return total
}

// Segments returns every segment across all parts, in timeline order.
func (m *Manifest) Segments() []MediaSegment {
	var all []MediaSegment
	for _, p := range m.Parts {
		all = append(all, p.Segments...)
	}
	return all
}

// SegmentsCount returns the number of segments across all parts.
func (m *Manifest) SegmentsCount() int {
	n := 0
	for _, p := range m.Parts {
		n += len(p.Segments)
	}
	return n
}

// FirstPart returns the segments of the first part, or nil.
func (m *Manifest) FirstPart() []MediaSegment {
	if m == nil || len(m.Parts) == 0 {
		return nil
	}
	return m.Parts[0].Segments
}

// Methods returns the distinct non-none encryption methods in timeline order.
func (m *Manifest) Methods() []EncryptMethod {
	seen := make(map[EncryptMethod]struct{})
	var out []EncryptMethod
	for _, p := range m.Parts {
		for _, s := range p.Segments {
			if !s.IsEncrypted() {
				continue
			}
			if _, ok := seen[s.EncryptInfo.Method]; ok {
				continue
			}
			seen[s.EncryptInfo.Method] = struct{}{}
			out = append(out, s.EncryptInfo.Method)
		}
	}
	return out
}
