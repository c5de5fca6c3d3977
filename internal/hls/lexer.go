package hls

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrBadManifest is returned when text does not start with #EXTM3U.
var ErrBadManifest = errors.New("bad m3u8: missing #EXTM3U header")

// FormatError reports a line whose syntax could not be parsed.
type FormatError struct {
	Line string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed manifest line %q: %v", e.Line, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// TagValue returns everything after the first ':' of a trimmed tag line.
// A line without ':' is returned whole.
func TagValue(line string) string {
	line = strings.TrimSpace(line)
	return line[strings.IndexByte(line, ':')+1:]
}

// Attribute extracts a named attribute from a tag line such as
// #EXT-X-STREAM-INF:BANDWIDTH=2149280,CODECS="mp4a.40.2,avc1.64001f".
// Quoted values are returned without quotes and may contain commas.
// The key only matches at an attribute boundary, so BANDWIDTH never
// matches inside AVERAGE-BANDWIDTH. A missing attribute yields "".
func Attribute(line, key string) string {
	line = strings.TrimSpace(line)
	needle := key + "="
	from := 0
	for {
		i := strings.Index(line[from:], needle)
		if i < 0 {
			return ""
		}
		i += from
		if i == 0 || isAttrBoundary(line[i-1]) {
			rest := line[i+len(needle):]
			if strings.HasPrefix(rest, `"`) {
				rest = rest[1:]
				if end := strings.IndexByte(rest, '"'); end >= 0 {
					return rest[:end]
				}
				return rest
			}
			if end := strings.IndexByte(rest, ','); end >= 0 {
				return rest[:end]
			}
			return rest
		}
		from = i + len(needle)
	}
}

func isAttrBoundary(c byte) bool {
	return c == ':' || c == ',' || c == ' ' || c == '\t'
}

// ParseByteRange parses the HLS "length[@offset]" form. The offset is nil
// when omitted.
func ParseByteRange(s string) (int64, *int64, error) {
	s = strings.TrimSpace(s)
	lengthPart, offsetPart, hasOffset := strings.Cut(s, "@")
	n, err := strconv.ParseInt(strings.TrimSpace(lengthPart), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid byte-range length: %w", err)
	}
	if !hasOffset {
		return n, nil, nil
	}
	o, err := strconv.ParseInt(strings.TrimSpace(offsetPart), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid byte-range offset: %w", err)
	}
	return n, &o, nil
}

// ParseRange parses an inclusive "start-end" range and returns the start
// offset and the expected length.
func ParseRange(s string) (int64, int64, error) {
	startPart, endPart, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q: missing '-'", s)
	}
	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %w", err)
	}
	end, err := strconv.ParseInt(endPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end: %w", err)
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid range %q: end before start", s)
	}
	return start, end - start + 1, nil
}

// CombineURL resolves ref against base. An empty or unparsable base leaves
// ref unchanged.
func CombineURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func parseFloat(line, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &FormatError{Line: line, Err: err}
	}
	return v, nil
}

func parseInt(line, s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &FormatError{Line: line, Err: err}
	}
	return v, nil
}

func hasTag(line, tag string) bool {
	return len(line) >= len(tag) && strings.EqualFold(line[:len(tag)], tag)
}
