// Package live keeps live renditions current across manifest reloads.
package live

import (
	"hlsrecd/internal/models"
	"strconv"
	"time"
)

// Cursor is what one rendition remembers between polls. It is owned by a
// single poll loop and is left untouched by failed polls.
type Cursor struct {
	// LastName is the derived name of the last emitted segment.
	LastName string
	// LastDateTime is the timestamp of the last emitted segment, if it had one.
	LastDateTime *time.Time
	// MaxIndex is the highest sequence index emitted so far.
	MaxIndex int64
	// RefreshedDuration is the whole-second sum of emitted durations.
	RefreshedDuration int
	// Offset is the index shift applied on the last poll. Polls following a
	// reset keep shifting by the same amount.
	Offset int64
	// Resets counts distinct sequence resets.
	Resets int
}

// NewCursor starts a cursor whose MaxIndex is the last index of segs.
func NewCursor(segs []models.MediaSegment) Cursor {
	var c Cursor
	if len(segs) > 0 {
		c.MaxIndex = segs[len(segs)-1].Index
	}
	return c
}

// IsEmpty reports whether nothing has been emitted yet.
func (c *Cursor) IsEmpty() bool {
	return c.LastName == "" && c.LastDateTime == nil
}

// AllHaveDateTime reports whether every segment carries a timestamp.
func AllHaveDateTime(segs []models.MediaSegment) bool {
	for _, s := range segs {
		if s.DateTime == nil {
			return false
		}
	}
	return true
}

// SegmentName is the identity used to find a segment again after a reload:
// its Unix timestamp when all segments have one, else its sequence index.
func SegmentName(seg models.MediaSegment, allHaveDateTime bool) string {
	if allHaveDateTime && seg.DateTime != nil {
		return strconv.FormatInt(seg.DateTime.Unix(), 10)
	}
	return strconv.FormatInt(seg.Index, 10)
}

// Reconcile returns the segments of a freshly parsed list that come after
// the last emitted one and advances the cursor past them. The input is not
// modified; returned segments are copies.
//
// When the last emitted segment cannot be found, the whole list is new.
// When the new indices start below MaxIndex the server reset its sequence,
// and all new indices are shifted so they keep increasing.
func (c *Cursor) Reconcile(segs []models.MediaSegment) []models.MediaSegment {
	allDT := AllHaveDateTime(segs)
	fresh := c.filter(segs, allDT)

	if len(fresh) > 0 {
		// fresh is a suffix of segs. The name comes from the unshifted
		// segment so the next reload, which still carries the server's own
		// numbering, can find it.
		last := segs[len(segs)-1]
		c.LastName = SegmentName(last, allDT)
		c.LastDateTime = nil
		if last.DateTime != nil {
			t := *last.DateTime
			c.LastDateTime = &t
		}
	}
	var total float64
	for _, s := range fresh {
		total += s.Duration
	}
	c.RefreshedDuration += int(total)
	return fresh
}

func (c *Cursor) filter(segs []models.MediaSegment, allDT bool) []models.MediaSegment {
	if c.IsEmpty() {
		for _, s := range segs {
			c.MaxIndex = max(c.MaxIndex, s.Index)
		}
		return cloneAll(segs)
	}

	pos := -1
	if c.LastDateTime != nil && allDT {
		want := c.LastDateTime.Unix()
		for i, s := range segs {
			if s.DateTime.Unix() == want {
				pos = i
				break
			}
		}
	} else {
		for i, s := range segs {
			if SegmentName(s, allDT) == c.LastName {
				pos = i
				break
			}
		}
	}

	fresh := cloneAll(segs[pos+1:])
	if len(fresh) == 0 {
		return fresh
	}

	newMin, newMax := fresh[0].Index, fresh[0].Index
	for _, s := range fresh[1:] {
		newMin = min(newMin, s.Index)
		newMax = max(newMax, s.Index)
	}
	if newMin < c.MaxIndex {
		offset := c.MaxIndex - newMin + 1
		for i := range fresh {
			fresh[i].Index += offset
		}
		newMax += offset
		if offset != c.Offset {
			c.Resets++
			c.Offset = offset
		}
	} else {
		c.Offset = 0
	}
	c.MaxIndex = newMax
	return fresh
}

func cloneAll(segs []models.MediaSegment) []models.MediaSegment {
	out := make([]models.MediaSegment, len(segs))
	for i, s := range segs {
		out[i] = s.Clone()
	}
	return out
}
