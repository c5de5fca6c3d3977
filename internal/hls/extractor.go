package hls

import (
	"context"
	"errors"
	"fmt"
	"hlsrecd/internal/cache"
	"hlsrecd/internal/logger"
	"hlsrecd/internal/models"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fetcher loads manifest text. finalURL is the location after redirects.
type Fetcher interface {
	FetchText(ctx context.Context, url string, headers map[string]string) (body, finalURL string, err error)
}

// maxConcurrentFetches bounds FetchPlaylists fan-out.
const maxConcurrentFetches = 4

// IsParseError reports whether err came from parsing rather than fetching.
// Parse errors do not go away by retrying the same manifest.
func IsParseError(err error) bool {
	var fe *FormatError
	return errors.Is(err, ErrBadManifest) || errors.Is(err, ErrNoKeyProcessor) || errors.As(err, &fe)
}

// Extractor turns a source manifest into stream specs and keeps their media
// playlists current.
type Extractor struct {
	cfg     *ParserConfig
	fetcher Fetcher
	log     logger.Logger
	cache   *cache.ManifestCache

	// mu serializes refreshes.
	mu       sync.Mutex
	isMaster bool
}

// NewExtractor creates an extractor for the source described by cfg.
func NewExtractor(cfg *ParserConfig, fetcher Fetcher, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{cfg: cfg, fetcher: fetcher, log: log.With("component", "extractor")}
}

// WithCache makes refreshes skip parsing when a playlist's text has not
// changed since the previous fetch.
func (e *Extractor) WithCache(c *cache.ManifestCache) *Extractor {
	e.cache = c
	return e
}

// IsMaster reports whether the last extracted source was a multivariant
// playlist.
func (e *Extractor) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isMaster
}

// ExtractStreams parses the source manifest text. A multivariant playlist
// yields one spec per variant or rendition without media playlists loaded;
// a media playlist yields a single spec with its manifest attached.
func (e *Extractor) ExtractStreams(_ context.Context, text string) ([]*models.StreamSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.Contains(text, tagStreamInf) {
		e.isMaster = true
		e.log.Debugf("master playlist detected: %s", e.cfg.URL)
		streams, err := ParseMaster(text, e.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse master playlist: %w", err)
		}
		return streams, nil
	}

	e.isMaster = false
	m, err := ParseMedia(text, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse media playlist: %w", err)
	}
	ext := "ts"
	if m.MediaInit != nil {
		ext = "mp4"
	}
	return []*models.StreamSpec{{
		URL:         e.cfg.URL,
		OriginalURL: e.cfg.OriginalURL,
		Extension:   ext,
		Manifest:    m,
	}}, nil
}

// FetchPlaylists loads and parses the media playlist of every spec. A spec
// that already has an init segment keeps it; everything else comes from the
// fresh parse. Each spec is written by exactly one goroutine.
func (e *Extractor) FetchPlaylists(ctx context.Context, specs []*models.StreamSpec) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, spec := range specs {
		g.Go(func() error {
			return e.fetchPlaylist(ctx, spec)
		})
	}
	return g.Wait()
}

// RefreshPlaylists is FetchPlaylists for live polling; concurrent calls are
// serialized.
func (e *Extractor) RefreshPlaylists(ctx context.Context, specs []*models.StreamSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.FetchPlaylists(ctx, specs)
}

func (e *Extractor) fetchPlaylist(ctx context.Context, spec *models.StreamSpec) error {
	text, finalURL, err := e.fetcher.FetchText(ctx, spec.URL, e.cfg.Headers)
	if err != nil {
		if !e.isMaster || ctx.Err() != nil {
			return fmt.Errorf("failed to fetch playlist %s: %w", spec.URL, err)
		}
		e.log.Warnf("can not load %s, refreshing url from master: %v", spec.URL, err)
		newURL, rerr := e.urlFromMaster(ctx, spec)
		if rerr != nil {
			return fmt.Errorf("failed to fetch playlist %s: %w", spec.URL, errors.Join(err, rerr))
		}
		e.log.Debugf("%s => %s", spec.URL, newURL)
		spec.URL = newURL
		text, finalURL, err = e.fetcher.FetchText(ctx, spec.URL, e.cfg.Headers)
		if err != nil {
			return fmt.Errorf("failed to fetch playlist %s: %w", spec.URL, err)
		}
	}

	if e.cache != nil && e.cache.Unchanged(spec.URL, text) && spec.Manifest != nil {
		e.log.Debugf("playlist unchanged: %s", spec.URL)
		return nil
	}

	m, err := ParseMedia(text, e.configFor(finalURL))
	if err != nil {
		return fmt.Errorf("failed to parse playlist %s: %w", spec.URL, err)
	}

	if spec.Manifest != nil && spec.Manifest.MediaInit != nil {
		m.MediaInit = spec.Manifest.MediaInit
	}
	spec.Manifest = m
	spec.Extension = extensionFor(spec)
	if e.cache != nil {
		e.cache.Set(spec.URL, text)
	}
	return nil
}

// urlFromMaster re-fetches the master playlist and returns the current URL
// of the variant matching spec's identity.
func (e *Extractor) urlFromMaster(ctx context.Context, spec *models.StreamSpec) (string, error) {
	text, finalURL, err := e.fetcher.FetchText(ctx, e.cfg.URL, e.cfg.Headers)
	if err != nil {
		return "", fmt.Errorf("failed to reload master playlist: %w", err)
	}
	streams, err := ParseMaster(text, e.configFor(finalURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse master playlist: %w", err)
	}
	want := spec.ShortString()
	for _, s := range streams {
		if s.ShortString() == want {
			return s.URL, nil
		}
	}
	return "", fmt.Errorf("no stream matching %q in master playlist", want)
}

// configFor returns a copy of the extractor config for a manifest fetched
// from u. A configured BaseURL still wins for relative resolution.
func (e *Extractor) configFor(u string) *ParserConfig {
	c := *e.cfg
	if u != "" {
		c.URL = u
	}
	return &c
}

func extensionFor(spec *models.StreamSpec) string {
	m := spec.Manifest
	if spec.MediaType != models.MediaTypeSubtitles {
		if m.MediaInit != nil {
			return "m4s"
		}
		return "ts"
	}

	ext := spec.Extension
	var ttml, vtt bool
	for _, seg := range m.Segments() {
		ttml = ttml || strings.Contains(seg.URL, ".ttml")
		vtt = vtt || strings.Contains(seg.URL, ".vtt") || strings.Contains(seg.URL, ".webvtt")
	}
	if ttml {
		ext = "ttml"
	}
	if vtt {
		ext = "vtt"
	}
	return ext
}
