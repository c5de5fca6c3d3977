package hls

import (
	"bufio"
	"hlsrecd/internal/models"
	"strconv"
	"strings"
)

// ParseMaster parses a multivariant manifest into one StreamSpec per variant
// or rendition, deduplicated by resolved URL with the first occurrence kept.
func ParseMaster(text string, cfg *ParserConfig) ([]*models.StreamSpec, error) {
	text, err := Preprocess(text, cfg)
	if err != nil {
		return nil, err
	}
	base := cfg.baseURL()

	var (
		streams        []*models.StreamSpec
		pending        *models.StreamSpec
		expectPlaylist bool
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue

		case hasTag(line, tagStreamInf):
			spec, err := parseStreamInf(line)
			if err != nil {
				return nil, err
			}
			spec.OriginalURL = cfg.OriginalURL
			pending = spec
			expectPlaylist = true

		case hasTag(line, tagMedia):
			if spec := parseMediaRendition(line, base, cfg); spec != nil {
				streams = append(streams, spec)
			}

		case strings.HasPrefix(line, "#"):
			continue

		case expectPlaylist:
			pending.URL = cfg.processURL(ExtractorHLS, CombineURL(base, line))
			streams = append(streams, pending)
			pending = nil
			expectPlaylist = false
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &FormatError{Line: "", Err: err}
	}

	return dedupByURL(streams), nil
}

func parseStreamInf(line string) (*models.StreamSpec, error) {
	spec := &models.StreamSpec{MediaType: models.MediaTypeVideo}

	bw := Attribute(line, "AVERAGE-BANDWIDTH")
	if bw == "" {
		bw = Attribute(line, "BANDWIDTH")
	}
	if bw != "" {
		n, err := strconv.Atoi(bw)
		if err != nil {
			return nil, &FormatError{Line: line, Err: err}
		}
		spec.Bandwidth = n
	}

	spec.Codecs = Attribute(line, "CODECS")
	spec.Resolution = Attribute(line, "RESOLUTION")
	if fr := Attribute(line, "FRAME-RATE"); fr != "" {
		f, err := parseFloat(line, fr)
		if err != nil {
			return nil, err
		}
		spec.FrameRate = f
	}
	spec.AudioID = Attribute(line, "AUDIO")
	spec.VideoID = Attribute(line, "VIDEO")
	spec.SubtitleID = Attribute(line, "SUBTITLES")
	spec.VideoRange = Attribute(line, "VIDEO-RANGE")

	// dvh1.05.06,ec-3 => dvh1.05.06 when audio comes from a separate group.
	if spec.Codecs != "" && spec.AudioID != "" {
		spec.Codecs, _, _ = strings.Cut(spec.Codecs, ",")
	}
	return spec, nil
}

// parseMediaRendition maps an EXT-X-MEDIA line. Closed captions and
// renditions muxed into their variant (no URI) yield nil.
func parseMediaRendition(line, base string, cfg *ParserConfig) *models.StreamSpec {
	mediaType := models.ParseMediaType(Attribute(line, "TYPE"))
	if mediaType == models.MediaTypeClosedCaptions {
		return nil
	}
	uri := Attribute(line, "URI")
	if uri == "" {
		return nil
	}

	spec := &models.StreamSpec{
		MediaType:   mediaType,
		URL:         cfg.processURL(ExtractorHLS, CombineURL(base, uri)),
		OriginalURL: cfg.OriginalURL,
		GroupID:     Attribute(line, "GROUP-ID"),
		Language:    Attribute(line, "LANGUAGE"),
		Name:        Attribute(line, "NAME"),
		Default:     strings.EqualFold(Attribute(line, "DEFAULT"), "YES"),
		Channels:    Attribute(line, "CHANNELS"),
	}
	if ch := Attribute(line, "CHARACTERISTICS"); ch != "" {
		parts := strings.Split(ch, ",")
		last := parts[len(parts)-1]
		spec.Characteristics = last[strings.LastIndexByte(last, '.')+1:]
	}
	return spec
}

func dedupByURL(streams []*models.StreamSpec) []*models.StreamSpec {
	seen := make(map[string]struct{}, len(streams))
	out := make([]*models.StreamSpec, 0, len(streams))
	for _, s := range streams {
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	return out
}
