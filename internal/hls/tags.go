package hls

// Directives recognized by the parsers. Matching is case-insensitive on the
// prefix.
const (
	tagHeader                = "#EXTM3U"
	tagStreamInf             = "#EXT-X-STREAM-INF"
	tagMedia                 = "#EXT-X-MEDIA:"
	tagByteRange             = "#EXT-X-BYTERANGE"
	tagPlaylistType          = "#EXT-X-PLAYLIST-TYPE"
	tagTargetDuration        = "#EXT-X-TARGETDURATION"
	tagMediaSequence         = "#EXT-X-MEDIA-SEQUENCE"
	tagProgramDateTime       = "#EXT-X-PROGRAM-DATE-TIME"
	tagDiscontinuitySequence = "#EXT-X-DISCONTINUITY-SEQUENCE"
	tagDiscontinuity         = "#EXT-X-DISCONTINUITY"
	tagKey                   = "#EXT-X-KEY"
	tagInf                   = "#EXTINF"
	tagEndList               = "#EXT-X-ENDLIST"
	tagMap                   = "#EXT-X-MAP"
	tagVersion               = "#EXT-X-VERSION"

	// Uplynk brackets ads with #UPLYNK-SEGMENT:<id>,<offset>,ad|segment.
	tagUplynkSegment = "#UPLYNK-SEGMENT"
)

// ArgAllowMultiExtMap is the custom parser argument that keeps parsing past a
// second EXT-X-MAP directive.
const ArgAllowMultiExtMap = "AllowHlsMultiExtMap"
