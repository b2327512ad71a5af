package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/whisper-darkly/sticky-fetch/fetch"
	"github.com/whisper-darkly/sticky-fetch/format"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != "direct" || cfg.Log.Level != "info" || cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Fetch.MaxRedirects != fetch.DefaultMaxRedirects || cfg.Fetch.MaxReconnects != fetch.DefaultMaxReconnects {
		t.Errorf("budgets = %d/%d", cfg.Fetch.MaxRedirects, cfg.Fetch.MaxReconnects)
	}
	if cfg.HTTP.HeaderTimeout != 30*time.Second || cfg.Cache.TTL != time.Hour {
		t.Errorf("durations = %v / %v", cfg.HTTP.HeaderTimeout, cfg.Cache.TTL)
	}
	if cfg.RangeMode() != fetch.RangeQuery {
		t.Errorf("RangeMode = %v", cfg.RangeMode())
	}
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "sticky.yaml")
	yaml := strings.Join([]string{
		"driver: hls",
		"log:",
		"  level: debug",
		"fetch:",
		"  max_redirects: 7",
		"  reconnect_delay: 2",
		"  quality: lowest",
		"cache:",
		"  ttl: 00:10:00",
	}, "\n")
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("STICKY_HTTP_USER_AGENT=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STICKY_FETCH_MAX_RECONNECTS", "9")
	t.Setenv("STICKY_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("range-mode", "query", "")
	flags.String("filter", "", "")
	if err := flags.Parse([]string{"--range-mode=header", "--filter", "audioonly"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(file, flags)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("STICKY_HTTP_USER_AGENT") })

	if cfg.Driver != "hls" {
		t.Errorf("Driver = %q, want hls from file", cfg.Driver)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want env to beat file and unset flag", cfg.Log.Level)
	}
	if cfg.Fetch.MaxRedirects != 7 || cfg.Fetch.MaxReconnects != 9 {
		t.Errorf("budgets = %d/%d, want 7/9", cfg.Fetch.MaxRedirects, cfg.Fetch.MaxReconnects)
	}
	if cfg.Fetch.ReconnectDelay != 2*time.Second || cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("durations = %v / %v", cfg.Fetch.ReconnectDelay, cfg.Cache.TTL)
	}
	if cfg.HTTP.UserAgent != "from-dotenv" {
		t.Errorf("UserAgent = %q, want value from .env", cfg.HTTP.UserAgent)
	}
	if cfg.RangeMode() != fetch.RangeHeader {
		t.Errorf("RangeMode = %v, want header from flag", cfg.RangeMode())
	}

	p := cfg.Policy()
	if p.Quality.String() != "lowest" || p.Filter == nil {
		t.Errorf("Policy = %v / filter set %v", p.Quality, p.Filter != nil)
	}
	if !p.Filter(&format.Rendition{AudioEncoding: "aac"}) || p.Filter(&format.Rendition{Encoding: "VP9", AudioEncoding: "opus"}) {
		t.Error("policy filter should be audioonly")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Log:   LogConfig{Level: "info", Format: "normal"},
			Fetch: FetchConfig{MaxRedirects: 3, MaxReconnects: 5, RangeMode: "query", Quality: "highest"},
		}
	}

	tests := map[string]func(*Config){
		"log level":  func(c *Config) { c.Log.Level = "loud" },
		"log format": func(c *Config) { c.Log.Format = "xml" },
		"budget":     func(c *Config) { c.Fetch.MaxRedirects = 0 },
		"range mode": func(c *Config) { c.Fetch.RangeMode = "bytes" },
		"quality":    func(c *Config) { c.Fetch.Quality = "best" },
		"filter":     func(c *Config) { c.Fetch.Filter = "subtitles" },
		"duration":   func(c *Config) { c.Fetch.ReconnectDelayRaw = "soon" },
		"negative":   func(c *Config) { c.Cache.TTLRaw = "-5s" },
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
	for name, mutate := range tests {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
