package hls_test

import (
	"hlsrecd/internal/hls"
	"hlsrecd/internal/models"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMedia_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "plain",
			text: lines(
				"#EXTM3U",
				"#EXT-X-TARGETDURATION:6",
				"#EXT-X-MEDIA-SEQUENCE:7",
				"#EXTINF:6,", "a.ts",
				"#EXTINF:5.5,", "b.ts",
				"#EXT-X-ENDLIST",
			),
		},
		{
			name: "fmp4 byte ranges and discontinuity",
			text: lines(
				"#EXTM3U",
				"#EXT-X-TARGETDURATION:4",
				`#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"`,
				"#EXT-X-PROGRAM-DATE-TIME:2024-03-01T10:00:00Z",
				"#EXTINF:4,", "#EXT-X-BYTERANGE:1000@720", "media.mp4",
				"#EXTINF:4,", "#EXT-X-BYTERANGE:500", "media.mp4",
				"#EXT-X-DISCONTINUITY",
				"#EXTINF:4,", "#EXT-X-BYTERANGE:300@0", "other.mp4",
				"#EXT-X-ENDLIST",
			),
		},
		{
			name: "encrypted with sequence iv",
			text: lines(
				"#EXTM3U",
				"#EXT-X-TARGETDURATION:4",
				"#EXTINF:4,", "clear.ts",
				`#EXT-X-KEY:METHOD=AES-128,URI="base64:AAECAwQFBgcICQoLDA0ODw=="`,
				"#EXTINF:4,", "a.ts",
				"#EXTINF:4,", "b.ts",
				"#EXT-X-KEY:METHOD=NONE",
				"#EXTINF:4,", "c.ts",
				"#EXT-X-ENDLIST",
			),
		},
		{
			name: "encrypted with explicit iv",
			text: lines(
				"#EXTM3U",
				"#EXT-X-TARGETDURATION:4",
				`#EXT-X-KEY:METHOD=AES-128,URI="base64:AAECAwQFBgcICQoLDA0ODw==",IV=0x0000000000000000000000000000ABCD`,
				"#EXTINF:4,", "a.ts",
				"#EXTINF:4,", "b.ts",
				"#EXT-X-ENDLIST",
			),
		},
		{
			name: "live",
			text: lines(
				"#EXTM3U",
				"#EXT-X-TARGETDURATION:2",
				"#EXT-X-MEDIA-SEQUENCE:1000",
				"#EXTINF:2,", "a.ts",
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := parseMedia(t, tt.text)
			out := hls.WriteMedia(want)
			got := parseMedia(t, out)

			assert.Equal(t, want.IsLive, got.IsLive)
			if diff := cmp.Diff(want.Segments(), got.Segments()); diff != "" {
				t.Errorf("segments mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, len(want.Parts), len(got.Parts))
			assert.Equal(t, want.MediaInit, got.MediaInit)
		})
	}
}

func TestWriteMedia_Directives(t *testing.T) {
	m := parseMedia(t, lines(
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:4",
		"#EXT-X-MEDIA-SEQUENCE:3",
		"#EXTINF:3.2,", "a.ts",
		"#EXTINF:3.9,", "b.ts",
		"#EXT-X-ENDLIST",
	))
	out := hls.WriteMedia(m)

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n#EXT-X-VERSION:7\n"))
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:4\n")
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:3\n")
	assert.Contains(t, out, "#EXT-X-PLAYLIST-TYPE:VOD\n")
	assert.Contains(t, out, "#EXTINF:3.2,\nhttps://cdn.example.com/live/a.ts\n")
	assert.True(t, strings.HasSuffix(out, "#EXT-X-ENDLIST\n"))
	assert.NotContains(t, out, "#EXT-X-KEY")

	// Without a declared target the longest segment is rounded up.
	m.TargetDuration = nil
	assert.Contains(t, hls.WriteMedia(m), "#EXT-X-TARGETDURATION:4\n")
}

func TestWriteMaster_RoundTrip(t *testing.T) {
	cfg := hls.NewParserConfig("https://example.com/hls/master.m3u8")
	want, err := hls.ParseMaster(masterText, cfg)
	require.NoError(t, err)

	got, err := hls.ParseMaster(hls.WriteMaster(want), cfg)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	byURL := make(map[string]*models.StreamSpec, len(got))
	for _, s := range got {
		byURL[s.URL] = s
	}
	for _, w := range want {
		g, ok := byURL[w.URL]
		require.True(t, ok, w.URL)
		assert.Equal(t, w.ShortString(), g.ShortString())
	}
}
