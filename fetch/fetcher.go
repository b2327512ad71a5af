// Package fetch delivers the bytes of a media rendition as one continuous
// stream, following redirects and resuming after dropped connections within
// bounded budgets.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/stream"
	"github.com/whisper-darkly/sticky-fetch/units"
)

const (
	DefaultMaxRedirects  = 3
	DefaultMaxReconnects = 5
	DefaultChunkSize     = 32 * 1024
)

var redirectStatus = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
}

// RangeMode selects how the remaining window is sent upstream.
type RangeMode int

const (
	// RangeQuery adds a range=a-b query parameter.
	RangeQuery RangeMode = iota
	// RangeHeader additionally sends Range: bytes=a-b.
	RangeHeader
)

// ParseRangeMode parses "query" or "header".
func ParseRangeMode(s string) (RangeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "query":
		return RangeQuery, nil
	case "header":
		return RangeHeader, nil
	}
	return RangeQuery, fmt.Errorf("invalid range mode %q: want query or header", s)
}

func (m RangeMode) String() string {
	if m == RangeHeader {
		return "header"
	}
	return "query"
}

// Config holds the settings shared by every download of a Client.
type Config struct {
	Transport stream.Transport // nil = stream.NewHTTPClient defaults
	Resolver  stream.Resolver  // required by Download, unused by DownloadFromInfo
	Log       *logger.Logger

	MaxRedirects    int
	MaxReconnects   int
	ReconnectDelay  time.Duration
	ReconnectJitter time.Duration // random extra delay in [0, ReconnectJitter)
	RangeMode       RangeMode
	ChunkSize       int
}

// Options configure a single download.
type Options struct {
	Range   Range
	Begin   string // human time, e.g. "1m30s", "05:30", "2500"
	Request stream.Options
	Policy  format.Policy
	Hooks   Hooks
}

// Client starts downloads. It is safe for concurrent use.
type Client struct {
	cfg Config
	log *logger.Logger
}

// New creates a Client, filling unset fields with defaults.
func New(cfg Config) *Client {
	if cfg.Transport == nil {
		cfg.Transport = stream.NewHTTPClient(stream.HTTPConfig{})
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Client{cfg: cfg, log: cfg.Log}
}

// kv is a shorthand for logger.KV.
func kv(key, value string) logger.KV { return logger.KV{Key: key, Value: value} }

// Download resolves id, selects a rendition and starts streaming it.
// Errors are reported through the returned Stream.
func (c *Client) Download(ctx context.Context, id string, opts Options) *Stream {
	s := newStream(ctx, opts.Hooks)
	go c.run(s, opts, func(ctx context.Context) (*format.Metadata, error) {
		if c.cfg.Resolver == nil {
			return nil, errors.New("no resolver configured")
		}
		return c.cfg.Resolver.Resolve(ctx, id, opts.Request)
	})
	return s
}

// DownloadFromInfo streams a rendition of already resolved metadata.
func (c *Client) DownloadFromInfo(ctx context.Context, meta *format.Metadata, opts Options) *Stream {
	s := newStream(ctx, opts.Hooks)
	go c.run(s, opts, func(context.Context) (*format.Metadata, error) {
		if meta == nil {
			return nil, errors.New("no metadata")
		}
		return meta, nil
	})
	return s
}

func (c *Client) run(s *Stream, opts Options, resolve func(context.Context) (*format.Metadata, error)) {
	start := time.Now()
	t := newTransferState(opts.Range, c.cfg.MaxRedirects, c.cfg.MaxReconnects)

	err := c.prepareAndTransfer(s, t, opts, resolve)
	outcome := s.finish(err)

	fields := []logger.KV{
		kv("id", s.ID()),
		kv("outcome", outcome.String()),
		kv("downloaded", units.FormatSize(t.downloaded)),
		kv("duration", units.FormatDuration(time.Since(start))),
	}
	if outcome == Failed {
		fields = append(fields, kv("error", err.Error()))
	}
	c.log.Event("FETCH END", fields...)
}

func (c *Client) prepareAndTransfer(s *Stream, t *transferState, opts Options, resolve func(context.Context) (*format.Metadata, error)) error {
	if opts.Range.Start < 0 || (opts.Range.Bounded && opts.Range.End < opts.Range.Start) {
		return fmt.Errorf("invalid range %d-%d", opts.Range.Start, opts.Range.End)
	}

	meta, err := resolve(s.ctx)
	if err != nil {
		if s.aborted() {
			return errCancelled
		}
		return fmt.Errorf("resolve: %w", err)
	}
	r, err := format.Select(meta.Renditions, opts.Policy)
	if err != nil {
		return err
	}
	target, err := withBegin(r.URL, opts.Begin)
	if err != nil {
		return err
	}

	c.log.Event("FETCH START",
		kv("id", s.ID()),
		kv("media", meta.ID),
		kv("itag", strconv.Itoa(r.Itag)),
		kv("container", r.Container),
		kv("url", target))

	if s.aborted() {
		return errCancelled
	}
	if s.hooks.OnInfo != nil {
		s.hooks.OnInfo(meta, r)
	}
	return c.transfer(s, t, target, opts.Request)
}

// transfer runs the request loop until the window is delivered, a fatal
// error occurs or the stream is cancelled.
func (c *Client) transfer(s *Stream, t *transferState, target string, reqOpts stream.Options) error {
	hooks := s.hooks
	for attempt := 1; ; attempt++ {
		if s.aborted() {
			return errCancelled
		}

		reqURL, opts, err := c.buildRequest(t, target, reqOpts)
		if err != nil {
			return err
		}
		c.log.Event("REQUEST",
			kv("id", s.ID()),
			kv("attempt", strconv.Itoa(attempt)),
			kv("offset", strconv.FormatInt(t.offset(), 10)),
			kv("url", reqURL))
		if hooks.OnRequest != nil {
			hooks.OnRequest(&stream.Request{URL: reqURL, Header: opts.Header, Attempt: attempt})
			if s.aborted() {
				return errCancelled
			}
		}

		resp, err := c.cfg.Transport.Send(s.ctx, reqURL, opts)
		if err != nil {
			if s.aborted() {
				return errCancelled
			}
			return &TransportError{URL: reqURL, Err: err}
		}
		if s.aborted() {
			resp.Body.Close()
			return errCancelled
		}

		if redirectStatus[resp.StatusCode] {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return &StatusError{StatusCode: resp.StatusCode, URL: reqURL}
			}
			if !t.spendRedirect() {
				return &BudgetError{Budget: Redirects, Limit: c.cfg.MaxRedirects}
			}
			next, err := resolveLocation(reqURL, loc)
			if err != nil {
				return fmt.Errorf("redirect: %w", err)
			}
			c.log.Event("REDIRECT",
				kv("id", s.ID()),
				kv("status", strconv.Itoa(resp.StatusCode)),
				kv("location", next),
				kv("remaining", strconv.Itoa(t.redirects)))
			target = next
			continue
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			if hooks.OnResponse != nil {
				hooks.OnResponse(resp)
			}
			resp.Body.Close()
			return &StatusError{StatusCode: resp.StatusCode, URL: reqURL}
		}

		t.resolve(resp.ContentLength)
		if hooks.OnResponse != nil {
			hooks.OnResponse(resp)
			if s.aborted() {
				resp.Body.Close()
				return errCancelled
			}
		}

		clean, err := c.relay(s, t, resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if t.complete(clean) {
			return nil
		}

		if !t.spendReconnect() {
			return &BudgetError{Budget: Reconnects, Limit: c.cfg.MaxReconnects}
		}
		c.log.Event("RECONNECT",
			kv("id", s.ID()),
			kv("offset", strconv.FormatInt(t.offset(), 10)),
			kv("downloaded", strconv.FormatInt(t.downloaded, 10)),
			kv("remaining", strconv.Itoa(t.reconnects)))
		if !c.pause(s) {
			return errCancelled
		}
	}
}

// buildRequest returns the URL and transport options for the next attempt.
func (c *Client) buildRequest(t *transferState, target string, base stream.Options) (string, stream.Options, error) {
	opts := base.Clone()
	if !t.wantsRange() {
		return target, opts, nil
	}
	window := t.rng.window(t.downloaded)
	reqURL, err := setQuery(target, "range", window)
	if err != nil {
		return "", opts, err
	}
	if c.cfg.RangeMode == RangeHeader {
		opts.Header.Set("Range", "bytes="+window)
	}
	return reqURL, opts, nil
}

// relay copies body into the stream. clean is true when the body ended with
// io.EOF; any other read error ends the body like a dropped connection.
func (c *Client) relay(s *Stream, t *transferState, body io.Reader) (clean bool, err error) {
	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, rerr := body.Read(buf)
		if s.aborted() {
			return false, errCancelled
		}
		if n > 0 {
			t.downloaded += int64(n)
			if s.hooks.OnProgress != nil {
				s.hooks.OnProgress(n, t.downloaded, t.expectedTotal())
			}
			if s.aborted() {
				return false, errCancelled
			}
			if _, werr := s.pw.Write(buf[:n]); werr != nil {
				if s.aborted() {
					return false, errCancelled
				}
				return false, fmt.Errorf("relay: %w", werr)
			}
		}
		switch {
		case rerr == io.EOF:
			return true, nil
		case rerr != nil:
			if s.aborted() {
				return false, errCancelled
			}
			c.log.Debug("download %s: body ended at %d: %v", s.ID(), t.downloaded, rerr)
			return false, nil
		}
	}
}

// pause waits out the reconnect delay. It returns false if the stream was
// cancelled meanwhile.
func (c *Client) pause(s *Stream) bool {
	d := c.cfg.ReconnectDelay
	if c.cfg.ReconnectJitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.cfg.ReconnectJitter)))
	}
	if d <= 0 {
		return !s.aborted()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !s.aborted()
	case <-s.ctx.Done():
		s.aborted()
		return false
	}
}

// withBegin adds begin=<milliseconds> to rawURL when begin is set.
func withBegin(rawURL, begin string) (string, error) {
	if begin == "" {
		return rawURL, nil
	}
	d, err := units.ParseHumanTime(begin)
	if err != nil {
		return "", fmt.Errorf("invalid begin %q: %w", begin, err)
	}
	return setQuery(rawURL, "begin", strconv.FormatInt(d.Milliseconds(), 10))
}

func setQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func resolveLocation(base, loc string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}
