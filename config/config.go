// Package config loads settings from defaults, an optional YAML file, .env,
// STICKY_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/whisper-darkly/sticky-fetch/fetch"
	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/units"
)

const EnvPrefix = "STICKY"

type Config struct {
	Driver       string `mapstructure:"driver"`
	InfoEndpoint string `mapstructure:"info_endpoint"`

	Log    LogConfig    `mapstructure:"log"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Server ServerConfig `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // template, see recorder.RenderTemplate
}

type FetchConfig struct {
	MaxRedirects  int    `mapstructure:"max_redirects"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
	RangeMode     string `mapstructure:"range_mode"`
	Quality       string `mapstructure:"quality"`
	Filter        string `mapstructure:"filter"`

	ReconnectDelayRaw  string        `mapstructure:"reconnect_delay"`
	ReconnectJitterRaw string        `mapstructure:"reconnect_jitter"`
	ReconnectDelay     time.Duration `mapstructure:"-"`
	ReconnectJitter    time.Duration `mapstructure:"-"`
}

type HTTPConfig struct {
	UserAgent   string `mapstructure:"user_agent"`
	Cookies     string `mapstructure:"cookies"` // literal or file://path
	CookiesJSON bool   `mapstructure:"cookies_json"`
	Insecure    bool   `mapstructure:"insecure"`

	CookiesRefreshRaw string        `mapstructure:"cookies_refresh"`
	HeaderTimeoutRaw  string        `mapstructure:"header_timeout"`
	CookiesRefresh    time.Duration `mapstructure:"-"`
	HeaderTimeout     time.Duration `mapstructure:"-"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty = in memory

	TTLRaw string        `mapstructure:"ttl"`
	TTL    time.Duration `mapstructure:"-"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"driver":           "driver",
	"info-endpoint":    "info_endpoint",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"log-file":         "log.file",
	"max-redirects":    "fetch.max_redirects",
	"max-reconnects":   "fetch.max_reconnects",
	"reconnect-delay":  "fetch.reconnect_delay",
	"reconnect-jitter": "fetch.reconnect_jitter",
	"range-mode":       "fetch.range_mode",
	"quality":          "fetch.quality",
	"filter":           "fetch.filter",
	"user-agent":       "http.user_agent",
	"cookies":          "http.cookies",
	"cookies-json":     "http.cookies_json",
	"cookies-refresh":  "http.cookies_refresh",
	"insecure":         "http.insecure",
	"header-timeout":   "http.header_timeout",
	"cache":            "cache.enabled",
	"cache-path":       "cache.path",
	"cache-ttl":        "cache.ttl",
	"addr":             "server.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", "direct")
	v.SetDefault("info_endpoint", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "normal")
	v.SetDefault("log.file", "")
	v.SetDefault("fetch.max_redirects", fetch.DefaultMaxRedirects)
	v.SetDefault("fetch.max_reconnects", fetch.DefaultMaxReconnects)
	v.SetDefault("fetch.reconnect_delay", "0s")
	v.SetDefault("fetch.reconnect_jitter", "0s")
	v.SetDefault("fetch.range_mode", "query")
	v.SetDefault("fetch.quality", "highest")
	v.SetDefault("fetch.filter", "")
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.cookies", "")
	v.SetDefault("http.cookies_json", false)
	v.SetDefault("http.cookies_refresh", "0s")
	v.SetDefault("http.insecure", false)
	v.SetDefault("http.header_timeout", "30s")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("server.addr", ":8080")
}

// Load builds a Config. path may be empty; flags may be nil. Only flags the
// user actually set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values and parses the duration fields.
func (c *Config) Validate() error {
	if !logger.ValidLevel(c.Log.Level) {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "normal", "json":
	default:
		return fmt.Errorf("invalid log format %q: want normal or json", c.Log.Format)
	}
	if c.Fetch.MaxRedirects < 1 || c.Fetch.MaxReconnects < 1 {
		return fmt.Errorf("max redirects and max reconnects must be at least 1")
	}
	if _, err := fetch.ParseRangeMode(c.Fetch.RangeMode); err != nil {
		return err
	}
	if _, err := format.ParseQuality(c.Fetch.Quality); err != nil {
		return err
	}
	if c.Fetch.Filter != "" {
		if _, err := format.FilterBy(c.Fetch.Filter); err != nil {
			return err
		}
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"reconnect delay", c.Fetch.ReconnectDelayRaw, &c.Fetch.ReconnectDelay},
		{"reconnect jitter", c.Fetch.ReconnectJitterRaw, &c.Fetch.ReconnectJitter},
		{"cookies refresh", c.HTTP.CookiesRefreshRaw, &c.HTTP.CookiesRefresh},
		{"header timeout", c.HTTP.HeaderTimeoutRaw, &c.HTTP.HeaderTimeout},
		{"cache ttl", c.Cache.TTLRaw, &c.Cache.TTL},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			*d.dst = 0
			continue
		}
		parsed, err := units.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = parsed
	}
	return nil
}

// RangeMode returns the parsed range mode. Valid after Validate.
func (c *Config) RangeMode() fetch.RangeMode {
	m, _ := fetch.ParseRangeMode(c.Fetch.RangeMode)
	return m
}

// Policy returns the rendition selection policy. Valid after Validate.
func (c *Config) Policy() format.Policy {
	var p format.Policy
	p.Quality, _ = format.ParseQuality(c.Fetch.Quality)
	if c.Fetch.Filter != "" {
		p.Filter, _ = format.FilterBy(c.Fetch.Filter)
	}
	return p
}
