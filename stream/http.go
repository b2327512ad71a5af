package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-fetch/cookies"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Cookies       *cookies.Pool // rotated when a request carries no explicit cookies
	UserAgent     string
	Insecure      bool          // skip TLS verification
	HeaderTimeout time.Duration // 0 = no limit
}

// HTTPClient is the net/http backed Transport. Send surfaces redirects
// instead of following them; GetBytes follows them for small documents.
type HTTPClient struct {
	send      *http.Client
	follow    *http.Client
	pool      *cookies.Pool
	userAgent string
}

// NewHTTPClient creates an HTTP client sharing one connection pool between
// streaming sends and document fetches.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// byte offsets must refer to the encoded body
	transport.DisableCompression = true
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.HeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	}

	return &HTTPClient{
		send: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		follow:    &http.Client{Transport: transport},
		pool:      cfg.Cookies,
		userAgent: cfg.UserAgent,
	}
}

// Send issues one GET. The returned body is open; the caller closes it.
func (h *HTTPClient) Send(ctx context.Context, url string, opts Options) (*Response, error) {
	req, pooled, err := h.newRequest(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	resp, err := h.send.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden {
		h.penalize(pooled)
	}

	return &Response{
		URL:           url,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// GetBytes fetches a small document, following redirects.
func (h *HTTPClient) GetBytes(ctx context.Context, url string, opts Options) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, pooled, err := h.newRequest(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	resp, err := h.follow.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		h.penalize(pooled)
		return nil, ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return b, nil
}

// newRequest builds a GET with headers, user agent and cookies applied.
// It returns the cookie string taken from the pool, if any.
func (h *HTTPClient) newRequest(ctx context.Context, url string, opts Options) (*http.Request, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = h.userAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	cookieStr, pooled := opts.Cookies, ""
	if cookieStr == "" && h.pool != nil {
		cookieStr = h.pool.Select()
		pooled = cookieStr
	}
	for _, c := range ParseCookies(cookieStr) {
		req.AddCookie(c)
	}
	return req, pooled, nil
}

func (h *HTTPClient) penalize(cookieStr string) {
	if h.pool != nil && cookieStr != "" {
		h.pool.Penalize(cookieStr)
	}
}

// ParseCookies splits "a=1; b=2" into cookies, skipping malformed pairs.
func ParseCookies(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, pair := range strings.Split(s, ";") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && strings.TrimSpace(parts[0]) != "" {
			out = append(out, &http.Cookie{
				Name:  strings.TrimSpace(parts[0]),
				Value: strings.TrimSpace(parts[1]),
			})
		}
	}
	return out
}
