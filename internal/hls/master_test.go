package hls_test

import (
	"hlsrecd/internal/hls"
	"hlsrecd/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterText = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",LANGUAGE="en",NAME="English",DEFAULT=YES,CHANNELS="2",URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",LANGUAGE="fr",NAME="French",URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="muxed",NAME="Main"
#EXT-X-MEDIA:TYPE=CLOSED-CAPTIONS,GROUP-ID="cc",INSTREAM-ID="CC1",NAME="CC",URI="cc.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="en",NAME="English",CHARACTERISTICS="public.accessibility.transcribes-spoken-dialog,public.accessibility.describes-music-and-sound",URI="subs/en.m3u8"

#EXT-X-STREAM-INF:BANDWIDTH=2000000,AVERAGE-BANDWIDTH=1800000,CODECS="avc1.64001f,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=29.970,AUDIO="aac",SUBTITLES="subs"
video/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS="avc1.4d401e,mp4a.40.2",RESOLUTION=640x360
video/360.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS="avc1.4d401e,mp4a.40.2",RESOLUTION=640x360
video/360.m3u8
`

func TestParseMaster(t *testing.T) {
	cfg := hls.NewParserConfig("https://example.com/hls/master.m3u8")
	streams, err := hls.ParseMaster(masterText, cfg)
	require.NoError(t, err)
	require.Len(t, streams, 4)

	audio := streams[0]
	assert.Equal(t, models.MediaTypeAudio, audio.MediaType)
	assert.Equal(t, "https://example.com/hls/audio/en.m3u8", audio.URL)
	assert.Equal(t, "aac", audio.GroupID)
	assert.Equal(t, "en", audio.Language)
	assert.Equal(t, "English", audio.Name)
	assert.Equal(t, "2", audio.Channels)
	assert.True(t, audio.Default)

	subs := streams[1]
	assert.Equal(t, models.MediaTypeSubtitles, subs.MediaType)
	assert.Equal(t, "describes-music-and-sound", subs.Characteristics)

	hd := streams[2]
	assert.Equal(t, models.MediaTypeVideo, hd.MediaType)
	assert.Equal(t, "https://example.com/hls/video/720.m3u8", hd.URL)
	assert.Equal(t, 1800000, hd.Bandwidth)
	assert.Equal(t, "avc1.64001f", hd.Codecs)
	assert.Equal(t, "1280x720", hd.Resolution)
	assert.InDelta(t, 29.97, hd.FrameRate, 0.0001)
	assert.Equal(t, "aac", hd.AudioID)
	assert.Equal(t, "subs", hd.SubtitleID)
	assert.Equal(t, "https://example.com/hls/master.m3u8", hd.OriginalURL)

	sd := streams[3]
	assert.Equal(t, 800000, sd.Bandwidth)
	assert.Equal(t, "avc1.4d401e,mp4a.40.2", sd.Codecs)
}

func TestParseMaster_BadHeader(t *testing.T) {
	_, err := hls.ParseMaster("#EXT-X-STREAM-INF:BANDWIDTH=1\nv.m3u8", hls.NewParserConfig(""))
	assert.ErrorIs(t, err, hls.ErrBadManifest)
}

func TestParseMaster_ShortString(t *testing.T) {
	streams, err := hls.ParseMaster(masterText, hls.NewParserConfig("https://example.com/hls/master.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, "Vid 1280x720 | 1800 Kbps | 29.97 | avc1.64001f", streams[2].ShortString())
	assert.Equal(t, "Aud aac | English | en | 2CH", streams[0].ShortString())
}

type suffixURLProcessor struct{}

func (suffixURLProcessor) CanProcess(_ hls.ExtractorType, u string, _ *hls.ParserConfig) bool {
	return true
}

func (suffixURLProcessor) Process(u string, _ *hls.ParserConfig) string {
	return u + "#rewritten"
}

func TestParseMaster_URLProcessors(t *testing.T) {
	cfg := hls.NewParserConfig("https://example.com/hls/master.m3u8")
	cfg.URLProcessors = append(cfg.URLProcessors, suffixURLProcessor{})

	streams, err := hls.ParseMaster(masterText, cfg)
	require.NoError(t, err)
	for _, s := range streams {
		assert.Contains(t, s.URL, "#rewritten")
	}
}
