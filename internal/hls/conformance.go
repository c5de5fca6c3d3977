package hls

import (
	"fmt"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// Conformance is the outcome of a strict RFC 8216 check.
type Conformance struct {
	// Kind is "media", "multivariant" or "" when the text did not parse.
	Kind     string `json:"kind" yaml:"kind"`
	Segments int    `json:"segments,omitempty" yaml:"segments,omitempty"`
	Variants int    `json:"variants,omitempty" yaml:"variants,omitempty"`
	// Encrypted and FMP4 are only meaningful for media playlists.
	Encrypted bool  `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	FMP4      bool  `json:"fmp4,omitempty" yaml:"fmp4,omitempty"`
	Err       error `json:"-" yaml:"-"`
}

// OK reports whether the strict parser accepted the playlist.
func (c Conformance) OK() bool {
	return c.Err == nil
}

// CheckConformance runs the strict gohlslib parser over data. The lenient
// parsers in this package accept far more than this does, so a failure here
// is informational.
func CheckConformance(data []byte) Conformance {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return Conformance{Err: fmt.Errorf("failed to unmarshal playlist: %w", err)}
	}

	switch p := pl.(type) {
	case *playlist.Multivariant:
		return Conformance{Kind: "multivariant", Variants: len(p.Variants)}
	case *playlist.Media:
		c := Conformance{Kind: "media", Segments: len(p.Segments), FMP4: p.Map != nil}
		for _, seg := range p.Segments {
			if seg != nil && seg.Key != nil {
				c.Encrypted = true
				break
			}
		}
		return c
	default:
		return Conformance{Err: fmt.Errorf("unexpected playlist type %T", pl)}
	}
}
