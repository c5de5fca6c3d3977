package models

import (
	"fmt"
	"strings"
)

// MediaType classifies a rendition.
type MediaType int

const (
	MediaTypeNone MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeSubtitles
	MediaTypeClosedCaptions
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "VIDEO"
	case MediaTypeAudio:
		return "AUDIO"
	case MediaTypeSubtitles:
		return "SUBTITLES"
	case MediaTypeClosedCaptions:
		return "CLOSED-CAPTIONS"
	default:
		return "NONE"
	}
}

// MarshalText renders the media type as its manifest spelling.
func (t MediaType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *MediaType) UnmarshalText(b []byte) error {
	*t = ParseMediaType(string(b))
	return nil
}

// ParseMediaType maps an EXT-X-MEDIA TYPE attribute to a MediaType.
func ParseMediaType(s string) MediaType {
	switch strings.ToUpper(strings.ReplaceAll(s, "_", "-")) {
	case "VIDEO":
		return MediaTypeVideo
	case "AUDIO":
		return MediaTypeAudio
	case "SUBTITLES":
		return MediaTypeSubtitles
	case "CLOSED-CAPTIONS":
		return MediaTypeClosedCaptions
	default:
		return MediaTypeNone
	}
}

// StreamSpec describes one selectable rendition.
type StreamSpec struct {
	MediaType       MediaType
	GroupID         string
	Language        string
	Name            string
	Default         bool
	Bandwidth       int
	Codecs          string
	Resolution      string
	FrameRate       float64
	Channels        string
	VideoRange      string
	Role            string
	Characteristics string

	// Group references from EXT-X-STREAM-INF.
	AudioID    string
	VideoID    string
	SubtitleID string

	// URL may change on redirect or when refreshed from a master manifest.
	URL         string
	OriginalURL string
	Extension   string

	Manifest *Manifest
}

// SegmentsCount returns the number of segments in the owned manifest.
func (s *StreamSpec) SegmentsCount() int {
	if s.Manifest == nil {
		return 0
	}
	return s.Manifest.SegmentsCount()
}

// ShortString identifies the rendition by its descriptive attributes only.
// It is stable across master manifest reloads, where URLs may rotate.
func (s *StreamSpec) ShortString() string {
	var fields []string
	switch s.MediaType {
	case MediaTypeAudio:
		fields = []string{"Aud", s.GroupID, kbps(s.Bandwidth), s.Name, s.Codecs, s.Language, channels(s.Channels), s.Role}
	case MediaTypeSubtitles:
		fields = []string{"Sub", s.GroupID, s.Language, s.Name, s.Codecs, s.Role}
	default:
		fields = []string{"Vid", s.Resolution, kbps(s.Bandwidth), s.GroupID, frameRate(s.FrameRate), s.Codecs, s.VideoRange, s.Role}
	}
	return joinNonEmpty(fields)
}

func (s *StreamSpec) String() string {
	out := s.ShortString()
	if s.Manifest == nil {
		return out
	}
	parts := []string{out}
	if methods := s.Manifest.Methods(); len(methods) > 0 {
		names := make([]string, len(methods))
		for i, m := range methods {
			names[i] = m.String()
		}
		parts = append(parts, "*"+strings.Join(names, ","))
	}
	if n := s.Manifest.SegmentsCount(); n == 1 {
		parts = append(parts, "1 Segment")
	} else if n > 1 {
		parts = append(parts, fmt.Sprintf("%d Segments", n))
	}
	parts = append(parts, fmt.Sprintf("~%.0fs", s.Manifest.TotalDuration()))
	return strings.Join(parts, " | ")
}

func kbps(bw int) string {
	if bw <= 0 {
		return ""
	}
	return fmt.Sprintf("%d Kbps", bw/1000)
}

func channels(c string) string {
	if c == "" {
		return ""
	}
	return c + "CH"
}

func frameRate(f float64) string {
	if f <= 0 {
		return ""
	}
	return fmt.Sprintf("%g", f)
}

func joinNonEmpty(fields []string) string {
	kept := fields[:1:1]
	for _, f := range fields[1:] {
		if f != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return kept[0] + " " + strings.Join(kept[1:], " | ")
}
