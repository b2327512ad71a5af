package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/whisper-darkly/sticky-fetch/cache"
	"github.com/whisper-darkly/sticky-fetch/config"
	"github.com/whisper-darkly/sticky-fetch/cookies"
	"github.com/whisper-darkly/sticky-fetch/driver"
	"github.com/whisper-darkly/sticky-fetch/fetch"
	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

// app holds everything a command needs once configuration is loaded.
type app struct {
	configPath string
	execArgs   []string

	cfg      *config.Config
	log      *logger.Logger
	http     *stream.HTTPClient
	resolver stream.Resolver
	client   *fetch.Client

	cancel  context.CancelFunc
	closers []func() error
}

func newRootCmd(execArgs []string) (*cobra.Command, *app) {
	a := &app{execArgs: execArgs}

	root := &cobra.Command{
		Use:           "sticky-fetch",
		Short:         "Resumable media downloads",
		Long:          "Resolve media identifiers, pick a rendition and download it, resuming after dropped connections.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	addGlobalFlags(root.PersistentFlags(), &a.configPath)
	root.AddCommand(
		newGetCmd(a),
		newInfoCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root, a
}

func addGlobalFlags(fs *pflag.FlagSet, configPath *string) {
	fs.StringVar(configPath, "config", envOrDefault("STICKY_CONFIG", ""), "YAML config file")
	fs.StringP("driver", "d", "", "Driver name: direct, hls, info (default direct)")
	fs.String("info-endpoint", "", "Metadata endpoint for the info driver")

	fs.String("log-level", "", "Log level: debug, info, warn, error, fatal (default info)")
	fs.String("log-format", "", "Output format: normal, json (default normal)")
	fs.String("log-file", "", "Log file path template (empty=stdout only)")

	fs.Int("max-redirects", 0, "Fail on the Nth consecutive redirect (default 3)")
	fs.Int("max-reconnects", 0, "Fail on the Nth dropped connection (default 5)")
	fs.String("reconnect-delay", "", "Delay before resuming after a drop (e.g. 1s, 00:00:01)")
	fs.String("reconnect-jitter", "", "Max random jitter added to the reconnect delay")
	fs.String("range-mode", "", "How to send byte ranges: query, header (default query)")
	fs.StringP("quality", "q", "", "highest, lowest or comma separated itags (default highest)")
	fs.StringP("filter", "f", "", "video, videoonly, audio, audioonly")

	fs.StringP("user-agent", "a", "", "Custom User-Agent header")
	fs.StringP("cookies", "c", "", "HTTP cookies (key=value; key2=value2) or file://path")
	fs.Bool("cookies-json", false, "Cookie file holds a JSON array of cookie sets")
	fs.String("cookies-refresh", "", "Reload interval for a cookie file (0=never)")
	fs.Bool("insecure", false, "Skip TLS certificate verification")
	fs.String("header-timeout", "", "Time to wait for response headers (default 30s)")

	fs.Bool("cache", false, "Cache resolved metadata")
	fs.String("cache-path", "", "sqlite database for the metadata cache (empty=memory)")
	fs.String("cache-ttl", "", "Metadata cache lifetime (0=forever, default 1h)")
}

// setup loads configuration and builds the shared components.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(cmd.Context())
	a.cancel = cancel
	cmd.SetContext(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			a.log.Warn("received %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	pool, err := a.initCookiePool(ctx)
	if err != nil {
		return fmt.Errorf("cookie pool: %w", err)
	}

	a.http = stream.NewHTTPClient(stream.HTTPConfig{
		Cookies:       pool,
		UserAgent:     cfg.HTTP.UserAgent,
		Insecure:      cfg.HTTP.Insecure,
		HeaderTimeout: cfg.HTTP.HeaderTimeout,
	})

	driverName := normalizeDriverName(cfg.Driver)
	a.resolver, err = resolverFor(driverName, cfg.InfoEndpoint, a.http)
	if err != nil {
		return err
	}
	if cfg.Cache.Enabled {
		if err := a.initCache(ctx, driverName); err != nil {
			return err
		}
	}

	a.client = fetch.New(fetch.Config{
		Transport:       a.http,
		Resolver:        a.resolver,
		Log:             a.log,
		MaxRedirects:    cfg.Fetch.MaxRedirects,
		MaxReconnects:   cfg.Fetch.MaxReconnects,
		ReconnectDelay:  cfg.Fetch.ReconnectDelay,
		ReconnectJitter: cfg.Fetch.ReconnectJitter,
		RangeMode:       cfg.RangeMode(),
	})
	return nil
}

// resolverFor looks up a registered driver and hands it the shared client.
func resolverFor(name, infoEndpoint string, client *stream.HTTPClient) (stream.Resolver, error) {
	drv, err := stream.Get(name)
	if err != nil {
		return nil, err
	}
	switch drv.(type) {
	case *driver.Info:
		return driver.NewInfo(infoEndpoint, client), nil
	case *driver.HLS:
		return &driver.HLS{Client: client}, nil
	}
	return drv, nil
}

func (a *app) initCookiePool(ctx context.Context) (*cookies.Pool, error) {
	if a.cfg.HTTP.Cookies == "" {
		return cookies.NewPool(nil), nil
	}

	src := cookies.NewSource(a.cfg.HTTP.Cookies, a.cfg.HTTP.CookiesJSON)
	initial, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}

	pool := cookies.NewPool(initial)
	src.StartRefresh(ctx, pool, a.cfg.HTTP.CookiesRefresh, a.log)
	a.log.Debug("cookie pool: %d set(s)", pool.Count())
	return pool, nil
}

func (a *app) initCache(ctx context.Context, namespace string) error {
	var store cache.Store = cache.NewMemory()
	if path := a.cfg.Cache.Path; path != "" {
		db, err := cache.OpenSQLite(path)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		if ttl := a.cfg.Cache.TTL; ttl > 0 {
			n, err := db.Prune(ctx, time.Now().Add(-ttl))
			if err != nil {
				a.log.Warn("prune cache: %v", err)
			} else if n > 0 {
				a.log.Debug("pruned %d expired cache entries", n)
			}
		}
		store = db
	}
	a.closers = append(a.closers, store.Close)
	a.resolver = cache.NewResolver(a.resolver, store, a.cfg.Cache.TTL, namespace, a.log)
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil && a.log != nil {
			a.log.Warn("close: %v", err)
		}
	}
	a.closers = nil
	if a.cancel != nil {
		a.cancel()
	}
	if a.log != nil {
		a.log.Sync()
	}
}
