package hls

import (
	"bufio"
	"hlsrecd/internal/models"
	"strings"
	"time"
)

// defaultTargetDuration is assumed for live refresh when the manifest does
// not declare EXT-X-TARGETDURATION.
const defaultTargetDuration = 5.0

// AdFilter reports whether a parsed segment is an advertisement to drop.
type AdFilter func(seg models.MediaSegment) bool

// NoAdFilter keeps every segment.
func NoAdFilter(models.MediaSegment) bool { return false }

// isAdSegment matches Youku-style inserted ad segments by URL signature.
func isAdSegment(seg models.MediaSegment) bool {
	u := seg.URL
	if strings.Contains(u, "ccode=") && strings.Contains(u, "/ad/") && strings.Contains(u, "duration=") {
		return true
	}
	// 4K variant of the same ad insertion.
	return strings.Contains(u, "ccode=0902") && strings.Contains(u, "duration=")
}

// mediaState is everything the media parser carries from one line to the next.
type mediaState struct {
	cfg  *ParserConfig
	base string
	text string

	manifest *models.Manifest
	parts    []models.MediaPart
	run      []models.MediaSegment

	pending         models.MediaSegment
	pendingAdvanced bool
	expectSegment   bool

	index    int64
	enc      EncryptContext
	finished bool

	// inAd is set between Uplynk ",ad" and ",segment" markers.
	inAd bool
	// adDropped records that the latest segment line was discarded as an ad,
	// so a discontinuity right after it restores the pre-ad run. Any kept
	// segment clears it.
	adDropped bool

	allowMultiMap bool
	adFilter      AdFilter
}

// ParseMedia parses a single rendition's media manifest.
func ParseMedia(text string, cfg *ParserConfig) (*models.Manifest, error) {
	text, err := Preprocess(text, cfg)
	if err != nil {
		return nil, err
	}

	st := &mediaState{
		cfg:      cfg,
		base:     cfg.baseURL(),
		text:     text,
		manifest: models.NewManifest(cfg.URL),
		enc:      newEncryptContext(cfg),
		adFilter: cfg.AdFilter,
	}
	if st.adFilter == nil {
		st.adFilter = isAdSegment
	}
	if v, ok := cfg.Arg(ArgAllowMultiExtMap); ok && v == "true" {
		st.allowMultiMap = true
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		stop, err := st.line(strings.TrimSpace(sc.Text()))
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &FormatError{Err: err}
	}

	return st.finish(), nil
}

// Preprocess trims the text, checks the header and runs the content
// processor chain.
func Preprocess(text string, cfg *ParserConfig) (string, error) {
	text = strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	if !hasTag(text, tagHeader) {
		return "", ErrBadManifest
	}
	return cfg.processContent(ExtractorHLS, text), nil
}

// line applies one manifest line. It reports true when parsing must stop.
func (st *mediaState) line(line string) (bool, error) {
	if line == "" {
		return false, nil
	}

	if hasTag(line, tagUplynkSegment) {
		if strings.Contains(line, ",ad") {
			st.inAd = true
		} else if strings.Contains(line, ",segment") {
			st.inAd = false
		}
		return false, nil
	}
	switch {
	case hasTag(line, tagByteRange):
		return false, st.onByteRange(line)
	case hasTag(line, tagPlaylistType):
		st.finished = strings.HasSuffix(strings.ToUpper(line), "VOD")
		return false, nil
	}
	if st.inAd {
		// Only the segment bookkeeping runs inside an ad block so the
		// dropped segments leave no index gap.
		switch {
		case hasTag(line, tagInf):
			return false, st.onInf(line)
		case !strings.HasPrefix(line, "#") && st.expectSegment:
			st.onURL(line)
		}
		return false, nil
	}

	switch {
	case hasTag(line, tagTargetDuration):
		d, err := parseFloat(line, TagValue(line))
		if err != nil {
			return false, err
		}
		st.manifest.TargetDuration = &d

	case hasTag(line, tagMediaSequence):
		n, err := parseInt(line, TagValue(line))
		if err != nil {
			return false, err
		}
		st.index = n

	case hasTag(line, tagProgramDateTime):
		t, err := parseDateTime(TagValue(line))
		if err != nil {
			return false, &FormatError{Line: line, Err: err}
		}
		st.pending.DateTime = &t

	case hasTag(line, tagDiscontinuitySequence):
		// Informational only.

	case hasTag(line, tagDiscontinuity):
		st.onDiscontinuity()

	case hasTag(line, tagKey):
		enc, err := applyKeyDirective(st.enc, line, func(l string) (models.EncryptInfo, error) {
			return st.cfg.resolveKey(ExtractorHLS, l, st.cfg.URL, st.text)
		})
		if err != nil {
			return false, err
		}
		st.enc = enc

	case hasTag(line, tagInf):
		return false, st.onInf(line)

	case hasTag(line, tagEndList):
		st.seal()
		st.finished = true

	case hasTag(line, tagMap):
		return st.onMap(line)

	case strings.HasPrefix(line, "#"):
		// Unhandled directive or comment.

	case st.expectSegment:
		st.onURL(line)
	}
	return false, nil
}

func (st *mediaState) onByteRange(line string) error {
	n, o, err := ParseByteRange(TagValue(line))
	if err != nil {
		return &FormatError{Line: line, Err: err}
	}
	st.pending.ExpectLength = models.Int64(n)
	if o != nil {
		st.pending.StartRange = o
	} else if len(st.run) > 0 {
		st.pending.StartRange = models.Int64(st.run[len(st.run)-1].RangeEnd())
	} else {
		st.pending.StartRange = models.Int64(0)
	}
	st.expectSegment = true
	return nil
}

func (st *mediaState) onInf(line string) error {
	first, _, _ := strings.Cut(TagValue(line), ",")
	d, err := parseFloat(line, first)
	if err != nil {
		return err
	}
	st.pending.Duration = d
	st.pending.Index = st.index
	st.pending.EncryptInfo = st.enc.snapshot(st.index)
	st.pendingAdvanced = true
	st.expectSegment = true
	st.index++
	return nil
}

func (st *mediaState) onDiscontinuity() {
	if st.adDropped {
		st.adDropped = false
		if len(st.parts) > 0 {
			// Undo the boundary the ad introduced: keep appending to the
			// run that preceded it.
			last := st.parts[len(st.parts)-1]
			st.parts = st.parts[:len(st.parts)-1]
			st.run = append(last.Segments, st.run...)
		}
		return
	}
	if len(st.run) == 0 {
		return
	}
	st.seal()
}

// onMap handles EXT-X-MAP. A second map is treated as a stream boundary;
// this is a provider heuristic (the rest is typically non-video) rather than
// an HLS rule, and AllowHlsMultiExtMap keeps parsing past it.
func (st *mediaState) onMap(line string) (bool, error) {
	if st.manifest.MediaInit == nil || st.adDropped {
		init := &models.MediaSegment{
			Index: -1,
			URL:   st.cfg.processURL(ExtractorHLS, CombineURL(st.base, Attribute(line, "URI"))),
		}
		if br := Attribute(line, "BYTERANGE"); br != "" {
			n, o, err := ParseByteRange(br)
			if err != nil {
				return false, &FormatError{Line: line, Err: err}
			}
			init.ExpectLength = models.Int64(n)
			if o == nil {
				o = models.Int64(0)
			}
			init.StartRange = o
		}
		init.EncryptInfo = st.enc.snapshot(st.index)
		st.manifest.MediaInit = init
		return false, nil
	}

	st.seal()
	if !st.allowMultiMap {
		st.finished = true
		return true, nil
	}
	return false, nil
}

func (st *mediaState) onURL(line string) {
	st.pending.URL = st.cfg.processURL(ExtractorHLS, CombineURL(st.base, line))
	seg := st.pending
	advanced := st.pendingAdvanced
	st.pending = models.MediaSegment{}
	st.pendingAdvanced = false
	st.expectSegment = false

	if st.inAd || st.adFilter(seg) {
		if advanced {
			st.index--
		}
		st.adDropped = true
		return
	}
	st.adDropped = false
	st.run = append(st.run, seg)
}

// seal closes the current run into a part if it holds any segment.
func (st *mediaState) seal() {
	if len(st.run) == 0 {
		return
	}
	st.parts = append(st.parts, models.MediaPart{Segments: st.run})
	st.run = nil
}

func (st *mediaState) finish() *models.Manifest {
	switch {
	case !st.finished:
		// Live: the trailing run is kept even when empty.
		st.parts = append(st.parts, models.MediaPart{Segments: st.run})
		st.run = nil
	default:
		st.seal()
	}

	m := st.manifest
	m.Parts = st.parts
	m.IsLive = !st.finished
	if m.IsLive {
		target := defaultTargetDuration
		if m.TargetDuration != nil {
			target = *m.TargetDuration
		}
		m.RefreshInterval = time.Duration(target * 2 * float64(time.Second))
	}
	return m
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
