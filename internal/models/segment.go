package models

import "time"

// MediaSegment represents one fetchable unit of a rendition's timeline.
// Segments are passed around by value; EncryptInfo owns its byte slices.
type MediaSegment struct {
	// Index is the sequence number. It normally increases by one per segment,
	// but the live reconciler may shift it to survive server-side resets.
	Index int64
	// URL is the fully-qualified URL to fetch the segment from.
	URL string
	// Duration is the segment duration in seconds.
	Duration float64
	// DateTime is the wall-clock timestamp from EXT-X-PROGRAM-DATE-TIME, if any.
	DateTime *time.Time
	// StartRange and ExpectLength describe an optional byte range.
	StartRange   *int64
	ExpectLength *int64
	// EncryptInfo is a snapshot of the encryption context at parse time.
	EncryptInfo EncryptInfo
}

// IsEncrypted reports whether the segment carries a non-none encryption method.
func (s MediaSegment) IsEncrypted() bool {
	return s.EncryptInfo.Method != EncryptNone
}

// HasRange reports whether the segment is restricted to a byte range.
func (s MediaSegment) HasRange() bool {
	return s.StartRange != nil && s.ExpectLength != nil
}

// RangeEnd returns the offset just past the byte range (start + length).
func (s MediaSegment) RangeEnd() int64 {
	if !s.HasRange() {
		return 0
	}
	return *s.StartRange + *s.ExpectLength
}

// StopRange returns the inclusive last byte offset of the range, or -1.
func (s MediaSegment) StopRange() int64 {
	if !s.HasRange() {
		return -1
	}
	return s.RangeEnd() - 1
}

// Clone returns a copy that shares no pointers with s.
func (s MediaSegment) Clone() MediaSegment {
	c := s
	if s.DateTime != nil {
		t := *s.DateTime
		c.DateTime = &t
	}
	if s.StartRange != nil {
		v := *s.StartRange
		c.StartRange = &v
	}
	if s.ExpectLength != nil {
		v := *s.ExpectLength
		c.ExpectLength = &v
	}
	c.EncryptInfo = s.EncryptInfo.Clone()
	return c
}

// MediaPart is a contiguous run of segments sharing one discontinuity domain.
type MediaPart struct {
	Segments []MediaSegment
}

// Duration returns the summed duration of the part in seconds.
func (p MediaPart) Duration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
