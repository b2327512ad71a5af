// Package driver provides the metadata resolvers registered with stream.
package driver

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

func init() {
	stream.Register(&Direct{})
}

// Direct treats the identifier as the URL of a single progressive file.
type Direct struct{}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Resolve(_ context.Context, id string, _ stream.Options) (*format.Metadata, error) {
	u, err := url.Parse(id)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an http(s) URL", stream.ErrBadID, id)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")

	return &format.Metadata{
		ID:    id,
		Title: name,
		Renditions: []format.Rendition{{
			MimeType:  mime.TypeByExtension(path.Ext(u.Path)),
			Container: ext,
			Protocol:  u.Scheme,
			URL:       id,
		}},
	}, nil
}
