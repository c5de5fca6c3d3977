package cmd

import (
	"bytes"
	"encoding/json"
	"hlsrecd/internal/models"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const vodPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:3
#EXTINF:4.000,
seg3.ts
#EXTINF:4.000,
seg4.ts
#EXT-X-ENDLIST
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hlsrecd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0o600))

	parseOutput, parseStrict, parseM3U8, parsePlaylists, parseSegments = "json", false, false, false, false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--config", cfgPath))
	err := rootCmd.Execute()
	return out.String(), err
}

func writePlaylistFile(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.m3u8")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestParseCommand_JSON(t *testing.T) {
	path := writePlaylistFile(t, vodPlaylist)
	out, err := runCLI(t, "parse", path, "--segments", "--strict")
	require.NoError(t, err)

	var result parseResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Master)
	require.Len(t, result.Streams, 1)
	s := result.Streams[0]
	assert.Equal(t, 2, s.Segments)
	assert.False(t, s.Live)
	assert.InDelta(t, 8.0, s.Duration, 1e-9)
	require.Len(t, s.List, 2)
	assert.Equal(t, int64(3), s.List[0].Index)
	assert.True(t, strings.HasSuffix(s.List[1].URL, "seg4.ts"))
	require.NotNil(t, result.Conformance)
	assert.Equal(t, "media", result.Conformance.Kind)
	assert.Empty(t, result.StrictError)
}

func TestParseCommand_YAML(t *testing.T) {
	path := writePlaylistFile(t, vodPlaylist)
	out, err := runCLI(t, "parse", path, "-o", "yaml")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &result))
	assert.Equal(t, false, result["master"])
	assert.Len(t, result["streams"], 1)
}

func TestParseCommand_M3U8(t *testing.T) {
	path := writePlaylistFile(t, vodPlaylist)
	out, err := runCLI(t, "parse", path, "--m3u8")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:3")
	assert.Contains(t, out, "#EXT-X-ENDLIST")
}

func TestParseCommand_BadManifest(t *testing.T) {
	path := writePlaylistFile(t, "not a playlist\n")
	_, err := runCLI(t, "parse", path)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hlsrecd dev")
}

func TestSelectStreams(t *testing.T) {
	specs := []*models.StreamSpec{{URL: "a"}, {URL: "b"}, {URL: "c"}}

	all, err := selectStreams(specs, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	picked, err := selectStreams(specs, "2, 0")
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "c", picked[0].URL)
	assert.Equal(t, "a", picked[1].URL)

	_, err = selectStreams(specs, "3")
	assert.Error(t, err)
	_, err = selectStreams(specs, "x")
	assert.Error(t, err)
}

func TestEncode_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, encode(&buf, "xml", parseResult{}))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream_0.m3u8")
	require.NoError(t, writeFileAtomic(path, "#EXTM3U\n"))
	require.NoError(t, writeFileAtomic(path, "#EXTM3U\n#EXT-X-ENDLIST\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n#EXT-X-ENDLIST\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
