// Package server exposes metadata lookup and streaming downloads over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/whisper-darkly/sticky-fetch/fetch"
	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/logger"
	"github.com/whisper-darkly/sticky-fetch/stream"
	"github.com/whisper-darkly/sticky-fetch/units"
)

type Config struct {
	Client   *fetch.Client
	Resolver stream.Resolver
	Policy   format.Policy // default when a request names no quality or filter
	Request  stream.Options
	Log      *logger.Logger
}

type Server struct {
	cfg  Config
	log  *logger.Logger
	echo *echo.Echo
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	s := &Server{cfg: cfg, log: cfg.Log, echo: echo.New()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/info/:id", s.handleInfo)
	e.GET("/stream/:id", s.handleStream)
}

// ServeHTTP makes the Server usable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// InfoResponse is the body of GET /info/:id.
type InfoResponse struct {
	*format.Metadata
	Selected int `json:"selected,omitempty"` // itag chosen by the request's policy
}

func (s *Server) handleInfo(c *echo.Context) error {
	if s.cfg.Resolver == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no resolver configured")
	}
	policy, err := s.policy(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	meta, err := s.cfg.Resolver.Resolve(c.Request().Context(), c.Param("id"), s.cfg.Request)
	if err != nil {
		return httpError(err)
	}

	ranked := *meta
	ranked.Renditions = format.Sorted(meta.Renditions)
	resp := InfoResponse{Metadata: &ranked}
	if r, err := format.Select(ranked.Renditions, policy); err == nil {
		resp.Selected = r.Itag
	}
	return c.JSON(http.StatusOK, resp)
}

type started struct {
	rendition *format.Rendition
	total     int64
}

func (s *Server) handleStream(c *echo.Context) error {
	policy, err := s.policy(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rng, err := fetch.ParseRange(c.QueryParam("range"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	begin := c.QueryParam("begin")
	if begin != "" {
		if _, err := units.ParseHumanTime(begin); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	ready := make(chan started, 1)
	var chosen *format.Rendition
	opts := fetch.Options{
		Range:   rng,
		Begin:   begin,
		Request: s.cfg.Request,
		Policy:  policy,
		Hooks: fetch.Hooks{
			OnInfo: func(_ *format.Metadata, r *format.Rendition) { chosen = r },
			OnResponse: func(resp *stream.Response) {
				if chosen != nil && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent) {
					select {
					case ready <- started{rendition: chosen, total: resp.ContentLength}:
					default:
					}
				}
			},
		},
	}

	st := s.cfg.Client.Download(c.Request().Context(), c.Param("id"), opts)
	defer st.Close()

	var first started
	select {
	case first = <-ready:
	case <-st.Done():
		select {
		case first = <-ready:
		default:
			if err := st.Err(); err != nil {
				return httpError(err)
			}
			return c.NoContent(http.StatusNoContent)
		}
	}

	contentType := first.rendition.MimeType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	h := c.Response().Header()
	h.Set("X-Stream-Id", st.ID())
	h.Set("X-Itag", strconv.Itoa(first.rendition.Itag))
	if first.total >= 0 && rng.IsDefault() {
		h.Set(echo.HeaderContentLength, strconv.FormatInt(first.total, 10))
	}

	start := time.Now()
	if err := c.Stream(http.StatusOK, contentType, st); err != nil {
		// headers are already sent; the client sees a truncated body
		s.log.Warn("stream %s: %v", st.ID(), err)
		return nil
	}
	s.log.Debug("stream %s finished in %s", st.ID(), units.FormatDuration(time.Since(start)))
	return nil
}

// policy builds the selection policy from ?quality= and ?filter=.
func (s *Server) policy(c *echo.Context) (format.Policy, error) {
	p := s.cfg.Policy
	if q := c.QueryParam("quality"); q != "" {
		quality, err := format.ParseQuality(q)
		if err != nil {
			return p, err
		}
		p.Quality = quality
	}
	if f := c.QueryParam("filter"); f != "" {
		filter, err := format.FilterBy(f)
		if err != nil {
			return p, err
		}
		p.Filter = filter
	}
	return p, nil
}

// httpError maps a download or resolve error onto an HTTP status.
func httpError(err error) *echo.HTTPError {
	var se *fetch.StatusError
	switch stream.Classify(err) {
	case stream.Ended:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case stream.Blocked:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case stream.Fatal:
		if errors.As(err, &se) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("upstream: %v", err))
}
