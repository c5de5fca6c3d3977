package hls

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hlsrecd/internal/models"
	"net/url"
	"strings"
	"time"
)

// ErrNoKeyProcessor is returned when no key processor accepts a key directive.
var ErrNoKeyProcessor = errors.New("no key processor matched the key directive")

// ExtractorType names the manifest family a processor is invoked for.
type ExtractorType int

const (
	ExtractorHLS ExtractorType = iota
	ExtractorDASH
	ExtractorMSS
)

func (t ExtractorType) String() string {
	switch t {
	case ExtractorHLS:
		return "HLS"
	case ExtractorDASH:
		return "DASH"
	case ExtractorMSS:
		return "MSS"
	default:
		return "UNKNOWN"
	}
}

// ContentProcessor rewrites the whole manifest text before parsing.
type ContentProcessor interface {
	CanProcess(kind ExtractorType, text string, cfg *ParserConfig) bool
	Process(text string, cfg *ParserConfig) string
}

// URLProcessor rewrites a resolved playlist or segment URL.
type URLProcessor interface {
	CanProcess(kind ExtractorType, u string, cfg *ParserConfig) bool
	Process(u string, cfg *ParserConfig) string
}

// KeyProcessor resolves a key directive into method, key and IV.
type KeyProcessor interface {
	CanProcess(kind ExtractorType, keyLine, manifestURL, text string, cfg *ParserConfig) bool
	Process(keyLine, manifestURL, text string, cfg *ParserConfig) (models.EncryptInfo, error)
}

// ParserConfig carries everything a parse call needs besides the text.
type ParserConfig struct {
	// URL is the manifest location after redirects; OriginalURL is what the
	// caller asked for. BaseURL overrides URL for relative resolution.
	URL         string
	OriginalURL string
	BaseURL     string

	CustomParserArgs map[string]string
	// Headers are opaque to the parser and passed through to processors.
	Headers map[string]string

	// Chains run in slice order.
	ContentProcessors []ContentProcessor
	URLProcessors     []URLProcessor
	KeyProcessors     []KeyProcessor

	// Overrides that take precedence over in-manifest declarations.
	CustomMethod *models.EncryptMethod
	CustomKey    []byte
	CustomIV     []byte

	// AppendURLParams copies the manifest URL's query onto segment URLs.
	AppendURLParams  bool
	URLProcessorArgs string
	KeyRetryCount    int

	// AdFilter drops matching segments. Nil uses the built-in URL
	// signatures; NoAdFilter disables filtering.
	AdFilter AdFilter
}

// NewParserConfig returns a config with the default processor chains.
func NewParserConfig(u string) *ParserConfig {
	return &ParserConfig{
		URL:               u,
		OriginalURL:       u,
		CustomParserArgs:  map[string]string{},
		Headers:           map[string]string{},
		ContentProcessors: []ContentProcessor{DefaultContentProcessor{}},
		URLProcessors:     []URLProcessor{DefaultURLProcessor{}},
		KeyProcessors:     []KeyProcessor{&DefaultKeyProcessor{}},
		KeyRetryCount:     3,
	}
}

// baseURL is the URL relative references resolve against.
func (c *ParserConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.URL
}

// Arg returns a custom parser argument.
func (c *ParserConfig) Arg(name string) (string, bool) {
	if c.CustomParserArgs == nil {
		return "", false
	}
	v, ok := c.CustomParserArgs[name]
	return v, ok
}

func (c *ParserConfig) processContent(kind ExtractorType, text string) string {
	for _, p := range c.ContentProcessors {
		if p.CanProcess(kind, text, c) {
			text = p.Process(text, c)
		}
	}
	return text
}

func (c *ParserConfig) processURL(kind ExtractorType, u string) string {
	for _, p := range c.URLProcessors {
		if p.CanProcess(kind, u, c) {
			u = p.Process(u, c)
		}
	}
	return u
}

func (c *ParserConfig) resolveKey(kind ExtractorType, line, manifestURL, text string) (models.EncryptInfo, error) {
	for _, p := range c.KeyProcessors {
		if p.CanProcess(kind, line, manifestURL, text, c) {
			return p.Process(line, manifestURL, text, c)
		}
	}
	return models.EncryptInfo{}, fmt.Errorf("%w: %s", ErrNoKeyProcessor, line)
}

// DefaultContentProcessor normalizes line endings.
type DefaultContentProcessor struct{}

func (DefaultContentProcessor) CanProcess(kind ExtractorType, text string, _ *ParserConfig) bool {
	return kind == ExtractorHLS && strings.Contains(text, "\r")
}

func (DefaultContentProcessor) Process(text string, _ *ParserConfig) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// DefaultURLProcessor appends the manifest URL's query parameters to
// playlist and segment URLs when AppendURLParams is set. Parameters already
// present on the target URL are kept.
type DefaultURLProcessor struct{}

func (DefaultURLProcessor) CanProcess(_ ExtractorType, u string, cfg *ParserConfig) bool {
	return cfg.AppendURLParams && strings.HasPrefix(u, "http")
}

func (DefaultURLProcessor) Process(u string, cfg *ParserConfig) string {
	src, err := url.Parse(cfg.URL)
	if err != nil || src.RawQuery == "" {
		return u
	}
	dst, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := dst.Query()
	for k, vs := range src.Query() {
		if _, ok := q[k]; ok {
			continue
		}
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	dst.RawQuery = q.Encode()
	return dst.String()
}

// KeyFetcher retrieves raw key bytes from a key URI.
type KeyFetcher interface {
	FetchKey(ctx context.Context, keyURL string, headers map[string]string) ([]byte, error)
}

// DefaultKeyProcessor handles standard EXT-X-KEY directives. Key bytes come
// from the custom key, an inline base64/data URI, or the Fetcher.
type DefaultKeyProcessor struct {
	Fetcher KeyFetcher
	// Timeout bounds each key fetch attempt. Zero means 10s.
	Timeout time.Duration
}

func (p *DefaultKeyProcessor) CanProcess(kind ExtractorType, keyLine, _, _ string, _ *ParserConfig) bool {
	return kind == ExtractorHLS && hasTag(strings.TrimSpace(keyLine), tagKey)
}

func (p *DefaultKeyProcessor) Process(keyLine, manifestURL, _ string, cfg *ParserConfig) (models.EncryptInfo, error) {
	info := models.EncryptInfo{
		Method: models.ParseEncryptMethod(Attribute(keyLine, "METHOD")),
	}
	if ivAttr := Attribute(keyLine, "IV"); ivAttr != "" {
		iv, err := ParseHexIV(ivAttr)
		if err != nil {
			return info, &FormatError{Line: keyLine, Err: err}
		}
		info.IV = iv
	}

	switch {
	case len(cfg.CustomKey) > 0:
		info.Key = cfg.CustomKey
	case info.Method == models.EncryptNone:
	default:
		key, err := p.loadKey(Attribute(keyLine, "URI"), manifestURL, cfg)
		if err != nil {
			return info, err
		}
		info.Key = key
	}

	if cfg.CustomMethod != nil {
		info.Method = *cfg.CustomMethod
	}
	if len(cfg.CustomIV) > 0 {
		info.IV = cfg.CustomIV
	}
	return info, nil
}

func (p *DefaultKeyProcessor) loadKey(uri, manifestURL string, cfg *ParserConfig) ([]byte, error) {
	switch {
	case uri == "":
		return nil, nil
	case strings.HasPrefix(strings.ToLower(uri), "base64:"):
		return decodeBase64(uri[len("base64:"):])
	case strings.HasPrefix(strings.ToLower(uri), "data:"):
		_, payload, ok := strings.Cut(uri, ",")
		if !ok {
			return nil, fmt.Errorf("invalid data URI key %q", uri)
		}
		return decodeBase64(payload)
	case p.Fetcher == nil:
		// Nothing to fetch with; the URI stays the downstream's concern.
		return nil, nil
	}

	keyURL := CombineURL(firstNonEmpty(cfg.BaseURL, manifestURL), uri)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.KeyRetryCount
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		key, err := p.Fetcher.FetchKey(ctx, keyURL, cfg.Headers)
		cancel()
		if err == nil {
			return key, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to fetch key %s after %d attempts: %w", keyURL, attempts, lastErr)
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	return b, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
