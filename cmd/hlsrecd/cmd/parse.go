package cmd

import (
	"encoding/json"
	"fmt"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/models"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	parseOutput    string
	parseStrict    bool
	parseM3U8      bool
	parsePlaylists bool
	parseSegments  bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <url|file>",
	Short: "Parse a manifest and print the normalized model",
	Long: `Fetch a multivariant or media playlist and print the streams it
describes. With --playlists the media playlist of every variant of a
multivariant playlist is loaded too.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "json", "output format (json, yaml)")
	parseCmd.Flags().BoolVar(&parseStrict, "strict", false, "also validate the source with a strict RFC 8216 parser")
	parseCmd.Flags().BoolVar(&parseM3U8, "m3u8", false, "render the parsed model back to a playlist")
	parseCmd.Flags().BoolVar(&parsePlaylists, "playlists", false, "load the media playlists of a multivariant source")
	parseCmd.Flags().BoolVar(&parseSegments, "segments", false, "include segments in the output")
	rootCmd.AddCommand(parseCmd)
}

type segmentView struct {
	Index    int64   `json:"index" yaml:"index"`
	URL      string  `json:"url" yaml:"url"`
	Duration float64 `json:"duration" yaml:"duration"`
	Method   string  `json:"method,omitempty" yaml:"method,omitempty"`
	Range    string  `json:"range,omitempty" yaml:"range,omitempty"`
	Time     string  `json:"time,omitempty" yaml:"time,omitempty"`
}

type streamView struct {
	Summary   string           `json:"summary" yaml:"summary"`
	Type      models.MediaType `json:"type" yaml:"type"`
	GroupID   string           `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	Language  string           `json:"language,omitempty" yaml:"language,omitempty"`
	Bandwidth int              `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	URL       string           `json:"url" yaml:"url"`
	Extension string           `json:"extension,omitempty" yaml:"extension,omitempty"`
	Live      bool             `json:"live" yaml:"live"`
	Parts     int              `json:"parts" yaml:"parts"`
	Segments  int              `json:"segments" yaml:"segments"`
	Duration  float64          `json:"duration" yaml:"duration"`
	Init      string           `json:"init,omitempty" yaml:"init,omitempty"`
	List      []segmentView    `json:"list,omitempty" yaml:"list,omitempty"`
}

type parseResult struct {
	Source      string           `json:"source" yaml:"source"`
	Master      bool             `json:"master" yaml:"master"`
	Streams     []streamView     `json:"streams" yaml:"streams"`
	Conformance *hls.Conformance `json:"conformance,omitempty" yaml:"conformance,omitempty"`
	// StrictError is the strict parser's complaint, if any.
	StrictError string `json:"strict_error,omitempty" yaml:"strict_error,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source := args[0]

	ext, text, err := openSource(ctx, source)
	if err != nil {
		return err
	}

	specs, err := ext.ExtractStreams(ctx, text)
	if err != nil {
		return err
	}
	if parsePlaylists && ext.IsMaster() {
		if err := ext.FetchPlaylists(ctx, specs); err != nil {
			return err
		}
	}

	result := parseResult{Source: source, Master: ext.IsMaster()}
	if parseStrict {
		c := hls.CheckConformance([]byte(text))
		result.Conformance = &c
		if !c.OK() {
			result.StrictError = c.Err.Error()
			log.Warnf("strict validation failed: %v", c.Err)
		}
	}

	out := cmd.OutOrStdout()
	if parseM3U8 {
		if ext.IsMaster() {
			_, err = io.WriteString(out, hls.WriteMaster(specs))
		} else {
			_, err = io.WriteString(out, hls.WriteMedia(specs[0].Manifest))
		}
		return err
	}

	for _, s := range specs {
		result.Streams = append(result.Streams, viewOf(s, parseSegments))
	}
	if err := encode(out, parseOutput, result); err != nil {
		return err
	}
	if result.Conformance != nil && !result.Conformance.OK() {
		return fmt.Errorf("strict validation failed: %w", result.Conformance.Err)
	}
	return nil
}

func viewOf(s *models.StreamSpec, withSegments bool) streamView {
	view := streamView{
		Summary:   s.String(),
		Type:      s.MediaType,
		GroupID:   s.GroupID,
		Language:  s.Language,
		Bandwidth: s.Bandwidth,
		URL:       s.URL,
		Extension: s.Extension,
	}
	m := s.Manifest
	if m == nil {
		return view
	}
	view.Live = m.IsLive
	view.Parts = len(m.Parts)
	view.Segments = m.SegmentsCount()
	view.Duration = m.TotalDuration()
	if m.MediaInit != nil {
		view.Init = m.MediaInit.URL
	}
	if !withSegments {
		return view
	}
	for _, seg := range m.Segments() {
		sv := segmentView{Index: seg.Index, URL: seg.URL, Duration: seg.Duration}
		if seg.IsEncrypted() {
			sv.Method = seg.EncryptInfo.Method.String()
		}
		if seg.HasRange() {
			sv.Range = fmt.Sprintf("%d-%d", *seg.StartRange, seg.StopRange())
		}
		if seg.DateTime != nil {
			sv.Time = seg.DateTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
		}
		view.List = append(view.List, sv)
	}
	return view
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
