package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/whisper-darkly/sticky-fetch/format"
)

// Options are passed through to the transport untouched by the engine,
// except for the Range header in header range mode.
type Options struct {
	Header    http.Header
	Cookies   string // "name=value; name2=value2"; empty = pick from the pool
	UserAgent string
}

// Clone returns a copy of o whose Header can be modified freely.
func (o Options) Clone() Options {
	o.Header = o.Header.Clone()
	if o.Header == nil {
		o.Header = http.Header{}
	}
	return o
}

// Request describes one attempt as seen by lifecycle hooks.
type Request struct {
	URL     string
	Header  http.Header
	Attempt int // 1-based, counts redirects and reconnects
}

// Response is the transport's view of an upstream answer.
// Body must be closed by the receiver.
type Response struct {
	URL           string
	StatusCode    int
	Header        http.Header
	ContentLength int64 // -1 when the upstream did not declare one
	Body          io.ReadCloser
}

// Transport issues a single GET without following redirects.
type Transport interface {
	Send(ctx context.Context, url string, opts Options) (*Response, error)
}

// Resolver turns an identifier into metadata listing the available renditions.
type Resolver interface {
	Resolve(ctx context.Context, id string, opts Options) (*format.Metadata, error)
}

// Driver is a named resolver that can be selected from the command line.
type Driver interface {
	Resolver
	// Name returns the driver identifier (e.g., "direct", "hls").
	Name() string
}

// InterruptionType classifies why a transfer stopped.
type InterruptionType int

const (
	// Ended means the resource is gone or was never there.
	Ended InterruptionType = iota
	// Blocked means access was denied.
	Blocked
	// TransientError means a retry later may succeed.
	TransientError
	// Fatal means an unrecoverable error (context cancelled, bad input).
	Fatal
)

func (t InterruptionType) String() string {
	switch t {
	case Ended:
		return "ended"
	case Blocked:
		return "blocked"
	case TransientError:
		return "transient"
	default:
		return "fatal"
	}
}

// statusCoder is implemented by errors carrying an upstream HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Classify maps an error from resolution or transfer onto an InterruptionType.
func Classify(err error) InterruptionType {
	var (
		sc     statusCoder
		selErr *format.SelectionError
	)
	switch {
	case err == nil:
		return Ended
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, ErrNotFound):
		return Ended
	case errors.Is(err, ErrForbidden):
		return Blocked
	case errors.As(err, &sc):
		code := sc.HTTPStatus()
		switch {
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return Blocked
		case code == http.StatusNotFound || code == http.StatusGone:
			return Ended
		case code >= 500:
			return TransientError
		}
		return Fatal
	case errors.Is(err, ErrBadID), errors.As(err, &selErr):
		return Fatal
	}
	return TransientError
}

var registry = map[string]Driver{}

// Register adds a driver to the global registry.
func Register(d Driver) {
	registry[d.Name()] = d
}

// Get returns a registered driver by name.
func Get(name string) (Driver, error) {
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (available: %v)", name, Names())
	}
	return d, nil
}

// Names lists registered drivers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
