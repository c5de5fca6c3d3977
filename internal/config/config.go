// Package config loads hlsrecd settings from a file, HLSRECD_ environment
// variables and defaults.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hlsrecd/internal/fetch"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/models"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultTakeCount         = 15
	defaultKeyRetryCount     = 3
	defaultHTTPTimeout       = 15 * time.Second
	defaultHTTPRetries       = 3
	defaultRetryDelay        = 500 * time.Millisecond
	defaultMaxRedirects      = 10
	defaultListen            = ":8080"
	defaultRequestsPerMinute = 120
	defaultEvictionInterval  = 30 * time.Second
	defaultCacheMaxAge       = 10 * time.Minute
	defaultUserAgent         = "hlsrecd"
)

// Config holds all configuration for the application.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Parser ParserConfig `mapstructure:"parser"`
	Live   LiveConfig   `mapstructure:"live"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Server ServerConfig `mapstructure:"server"`
	Cache  CacheConfig  `mapstructure:"cache"`
	// Keys are raw 'kid:key' hex pairs.
	Keys []string `mapstructure:"keys"`

	// KeyPairs is Keys after decoding.
	KeyPairs []KeyPair `mapstructure:"-"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ParserConfig holds manifest parsing options.
type ParserConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	AppendURLParams  bool   `mapstructure:"append_url_params"`
	URLProcessorArgs string `mapstructure:"url_processor_args"`
	KeyRetryCount    int    `mapstructure:"key_retry_count"`
	AllowMultiExtMap bool   `mapstructure:"allow_multi_ext_map"`
	DisableAdFilter  bool   `mapstructure:"disable_ad_filter"`
	// CustomMethod, CustomKey and CustomIV override in-manifest encryption.
	// Key and IV are hex.
	CustomMethod string `mapstructure:"custom_method"`
	CustomKey    string `mapstructure:"custom_key"`
	CustomIV     string `mapstructure:"custom_iv"`

	customKey []byte
	customIV  []byte
}

// LiveConfig controls live recording.
type LiveConfig struct {
	// WaitTime fixes the poll delay; zero derives it from the playlist.
	WaitTime time.Duration `mapstructure:"wait_time"`
	// RecordLimit stops a rendition once this much media was recorded.
	RecordLimit time.Duration `mapstructure:"record_limit"`
	// TakeCount is the synchronization window in segments.
	TakeCount int    `mapstructure:"take_count"`
	OutputDir string `mapstructure:"output_dir"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	UserAgent    string            `mapstructure:"user_agent"`
	Headers      map[string]string `mapstructure:"headers"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Retries      int               `mapstructure:"retries"`
	RetryDelay   time.Duration     `mapstructure:"retry_delay"`
	MaxRedirects int               `mapstructure:"max_redirects"`
	RateLimit    float64           `mapstructure:"rate_limit"`
	Burst        int               `mapstructure:"burst"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	// RequestsPerMinute limits API requests per client IP. 0 disables the limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// CacheConfig configures the manifest cache.
type CacheConfig struct {
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// KeyPair is a decoded static key.
type KeyPair struct {
	KID []byte
	Key []byte
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: HLSRECD_LIVE_TAKE_COUNT=10.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith is Load on a caller-supplied viper instance, so command flags
// bound to it take part in the merge.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hlsrecd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hlsrecd")
		v.AddConfigPath("/etc/hlsrecd")
	}

	v.SetEnvPrefix("HLSRECD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.process(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("parser.base_url", "")
	v.SetDefault("parser.append_url_params", false)
	v.SetDefault("parser.url_processor_args", "")
	v.SetDefault("parser.key_retry_count", defaultKeyRetryCount)
	v.SetDefault("parser.allow_multi_ext_map", false)
	v.SetDefault("parser.disable_ad_filter", false)
	v.SetDefault("parser.custom_method", "")
	v.SetDefault("parser.custom_key", "")
	v.SetDefault("parser.custom_iv", "")

	v.SetDefault("live.wait_time", time.Duration(0))
	v.SetDefault("live.record_limit", time.Duration(0))
	v.SetDefault("live.take_count", defaultTakeCount)
	v.SetDefault("live.output_dir", ".")

	v.SetDefault("http.user_agent", defaultUserAgent)
	v.SetDefault("http.timeout", defaultHTTPTimeout)
	v.SetDefault("http.retries", defaultHTTPRetries)
	v.SetDefault("http.retry_delay", defaultRetryDelay)
	v.SetDefault("http.max_redirects", defaultMaxRedirects)
	v.SetDefault("http.rate_limit", 0.0)
	v.SetDefault("http.burst", 1)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", defaultListen)
	v.SetDefault("server.requests_per_minute", defaultRequestsPerMinute)

	v.SetDefault("cache.eviction_interval", defaultEvictionInterval)
	v.SetDefault("cache.max_age", defaultCacheMaxAge)

	v.SetDefault("keys", []string{})
}

// process decodes the hex fields into their byte forms.
func (c *Config) process() error {
	var err error
	if c.Parser.CustomKey != "" {
		if c.Parser.customKey, err = hex.DecodeString(c.Parser.CustomKey); err != nil {
			return fmt.Errorf("failed to decode parser.custom_key: %w", err)
		}
	}
	if c.Parser.CustomIV != "" {
		if c.Parser.customIV, err = hls.ParseHexIV(c.Parser.CustomIV); err != nil {
			return fmt.Errorf("failed to decode parser.custom_iv: %w", err)
		}
	}

	c.KeyPairs = make([]KeyPair, 0, len(c.Keys))
	for _, raw := range c.Keys {
		if raw == "" {
			continue
		}
		pair, err := ParseKeyPair(raw)
		if err != nil {
			return err
		}
		c.KeyPairs = append(c.KeyPairs, pair)
	}
	return nil
}

// ParseKeyPair decodes a 'kid:key' hex string.
func ParseKeyPair(raw string) (KeyPair, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return KeyPair{}, fmt.Errorf("invalid key format: expected 'kid:key', got '%s'", raw)
	}
	kid, err := hex.DecodeString(parts[0])
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to decode hex kid '%s': %w", parts[0], err)
	}
	key, err := hex.DecodeString(parts[1])
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to decode hex key for kid '%s': %w", parts[0], err)
	}
	return KeyPair{KID: kid, Key: key}, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	if c.Parser.CustomMethod != "" && models.ParseEncryptMethod(c.Parser.CustomMethod) == models.EncryptUnknown {
		return fmt.Errorf("parser.custom_method %q is not a known encryption method", c.Parser.CustomMethod)
	}
	if c.Parser.KeyRetryCount < 0 {
		return fmt.Errorf("parser.key_retry_count must not be negative")
	}

	if c.Live.WaitTime < 0 || c.Live.RecordLimit < 0 {
		return fmt.Errorf("live.wait_time and live.record_limit must not be negative")
	}
	if c.Live.TakeCount < 0 {
		return fmt.Errorf("live.take_count must not be negative")
	}

	if c.HTTP.Retries < 1 {
		return fmt.Errorf("http.retries must be at least 1")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}

	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required when the server is enabled")
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("server.requests_per_minute must not be negative")
	}
	return nil
}

// ToParserConfig builds the parser configuration for a source URL.
func (c *Config) ToParserConfig(u string) *hls.ParserConfig {
	pc := hls.NewParserConfig(u)
	pc.BaseURL = c.Parser.BaseURL
	pc.AppendURLParams = c.Parser.AppendURLParams
	pc.URLProcessorArgs = c.Parser.URLProcessorArgs
	pc.KeyRetryCount = c.Parser.KeyRetryCount
	pc.CustomKey = c.Parser.customKey
	pc.CustomIV = c.Parser.customIV
	if c.Parser.CustomMethod != "" {
		m := models.ParseEncryptMethod(c.Parser.CustomMethod)
		pc.CustomMethod = &m
	}
	if c.Parser.AllowMultiExtMap {
		pc.CustomParserArgs[hls.ArgAllowMultiExtMap] = "true"
	}
	if c.Parser.DisableAdFilter {
		pc.AdFilter = hls.NoAdFilter
	}
	for k, v := range c.HTTP.Headers {
		pc.Headers[k] = v
	}
	return pc
}

// FetchOptions maps the http section onto fetch client options.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:      c.HTTP.Timeout,
		Retries:      c.HTTP.Retries,
		RetryDelay:   c.HTTP.RetryDelay,
		MaxRedirects: c.HTTP.MaxRedirects,
		UserAgent:    c.HTTP.UserAgent,
		Headers:      c.HTTP.Headers,
		RateLimit:    c.HTTP.RateLimit,
		Burst:        c.HTTP.Burst,
	}
}
