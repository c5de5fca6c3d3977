package hls

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hlsrecd/internal/models"
	"math"
	"strings"
	"time"
)

const playlistVersion = 7

// WriteMaster renders a multivariant playlist for the given streams.
// Renditions become EXT-X-MEDIA lines; video streams become variants.
func WriteMaster(streams []*models.StreamSpec) string {
	var sb strings.Builder
	sb.WriteString(tagHeader + "\n")
	sb.WriteString(fmt.Sprintf("%s:%d\n", tagVersion, playlistVersion))

	for _, s := range streams {
		if s.MediaType == models.MediaTypeAudio || s.MediaType == models.MediaTypeSubtitles {
			sb.WriteString(fmt.Sprintf("%sTYPE=%s,GROUP-ID=\"%s\"", tagMedia, mediaTypeAttr(s.MediaType), s.GroupID))
			if s.Language != "" {
				sb.WriteString(fmt.Sprintf(",LANGUAGE=\"%s\"", s.Language))
			}
			if s.Name != "" {
				sb.WriteString(fmt.Sprintf(",NAME=\"%s\"", s.Name))
			}
			if s.Default {
				sb.WriteString(",DEFAULT=YES")
			}
			if s.Channels != "" {
				sb.WriteString(fmt.Sprintf(",CHANNELS=\"%s\"", s.Channels))
			}
			sb.WriteString(fmt.Sprintf(",URI=\"%s\"\n", s.URL))
		}
	}

	for _, s := range streams {
		if s.MediaType == models.MediaTypeAudio || s.MediaType == models.MediaTypeSubtitles {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s:BANDWIDTH=%d", tagStreamInf, s.Bandwidth))
		if s.Codecs != "" {
			sb.WriteString(fmt.Sprintf(",CODECS=\"%s\"", s.Codecs))
		}
		if s.Resolution != "" {
			sb.WriteString(",RESOLUTION=" + s.Resolution)
		}
		if s.FrameRate > 0 {
			sb.WriteString(fmt.Sprintf(",FRAME-RATE=%.3f", s.FrameRate))
		}
		if s.VideoRange != "" {
			sb.WriteString(",VIDEO-RANGE=" + s.VideoRange)
		}
		if s.AudioID != "" {
			sb.WriteString(fmt.Sprintf(",AUDIO=\"%s\"", s.AudioID))
		}
		if s.SubtitleID != "" {
			sb.WriteString(fmt.Sprintf(",SUBTITLES=\"%s\"", s.SubtitleID))
		}
		sb.WriteString("\n")
		sb.WriteString(s.URL + "\n")
	}
	return sb.String()
}

func mediaTypeAttr(t models.MediaType) string {
	switch t {
	case models.MediaTypeAudio:
		return "AUDIO"
	case models.MediaTypeSubtitles:
		return "SUBTITLES"
	case models.MediaTypeClosedCaptions:
		return "CLOSED-CAPTIONS"
	default:
		return "VIDEO"
	}
}

// WriteMedia renders a manifest as a media playlist. Keys are written inline
// as base64 URIs so the output parses back without a key fetcher. IVs equal
// to the segment's sequence IV are left implicit.
func WriteMedia(m *models.Manifest) string {
	var sb strings.Builder
	sb.WriteString(tagHeader + "\n")
	sb.WriteString(fmt.Sprintf("%s:%d\n", tagVersion, playlistVersion))
	sb.WriteString(fmt.Sprintf("%s:%d\n", tagTargetDuration, targetDuration(m)))

	segments := m.Segments()
	if len(segments) > 0 {
		sb.WriteString(fmt.Sprintf("%s:%d\n", tagMediaSequence, segments[0].Index))
	}
	if !m.IsLive {
		sb.WriteString(tagPlaylistType + ":VOD\n")
	}

	if init := m.MediaInit; init != nil {
		if init.IsEncrypted() {
			sb.WriteString(keyLine(init.EncryptInfo, nil))
		}
		sb.WriteString(fmt.Sprintf("%s:URI=\"%s\"", tagMap, init.URL))
		if init.HasRange() {
			sb.WriteString(fmt.Sprintf(",BYTERANGE=\"%d@%d\"", *init.ExpectLength, *init.StartRange))
		}
		sb.WriteString("\n")
	}

	var (
		last    models.EncryptInfo
		written bool
	)
	if init := m.MediaInit; init != nil && init.IsEncrypted() {
		last, written = declared(init.EncryptInfo, init.Index), true
	}

	for i, part := range m.Parts {
		if i > 0 && len(part.Segments) > 0 {
			sb.WriteString(tagDiscontinuity + "\n")
		}
		for _, seg := range part.Segments {
			cur := declared(seg.EncryptInfo, seg.Index)
			if !written && seg.IsEncrypted() || written && !cur.Equal(last) {
				sb.WriteString(keyLine(seg.EncryptInfo, cur.IV))
				last, written = cur, true
			}
			if seg.DateTime != nil {
				sb.WriteString(fmt.Sprintf("%s:%s\n", tagProgramDateTime, seg.DateTime.UTC().Format(time.RFC3339Nano)))
			}
			if seg.HasRange() {
				sb.WriteString(fmt.Sprintf("%s:%d@%d\n", tagByteRange, *seg.ExpectLength, *seg.StartRange))
			}
			sb.WriteString(fmt.Sprintf("%s:%s,\n", tagInf, formatDuration(seg.Duration)))
			sb.WriteString(seg.URL + "\n")
		}
	}

	if !m.IsLive {
		sb.WriteString(tagEndList + "\n")
	}
	return sb.String()
}

// declared strips an IV that the parser would derive from the index anyway.
func declared(info models.EncryptInfo, index int64) models.EncryptInfo {
	if info.Method == models.EncryptNone {
		return models.EncryptInfo{}
	}
	out := models.EncryptInfo{Method: info.Method, Key: info.Key, IV: info.IV}
	if bytes.Equal(info.IV, sequenceIV(index)) {
		out.IV = nil
	}
	return out
}

func keyLine(info models.EncryptInfo, iv []byte) string {
	if info.Method == models.EncryptNone {
		return tagKey + ":METHOD=NONE\n"
	}
	line := fmt.Sprintf("%s:METHOD=%s,URI=\"base64:%s\"", tagKey, info.Method, base64.StdEncoding.EncodeToString(info.Key))
	if len(iv) > 0 {
		line += ",IV=0x" + strings.ToUpper(hex.EncodeToString(iv))
	}
	return line + "\n"
}

func targetDuration(m *models.Manifest) int {
	if m.TargetDuration != nil {
		return int(math.Ceil(*m.TargetDuration))
	}
	var longest float64
	for _, s := range m.Segments() {
		longest = math.Max(longest, s.Duration)
	}
	return int(math.Ceil(longest))
}

func formatDuration(d float64) string {
	s := fmt.Sprintf("%.6f", d)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
