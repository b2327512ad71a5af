package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

func init() {
	stream.Register(&Info{})
}

// Info fetches pre-resolved metadata documents from an HTTP endpoint:
// GET <Endpoint>/<id> returning a format.Metadata JSON object. Identifiers
// may be bare ids or watch links; see ExtractID.
type Info struct {
	Endpoint string
	Client   *stream.HTTPClient // nil = default client
}

// NewInfo returns an Info driver for endpoint.
func NewInfo(endpoint string, client *stream.HTTPClient) *Info {
	return &Info{Endpoint: endpoint, Client: client}
}

func (i *Info) Name() string { return "info" }

func (i *Info) Resolve(ctx context.Context, id string, opts stream.Options) (*format.Metadata, error) {
	if i.Endpoint == "" {
		return nil, fmt.Errorf("info driver: no endpoint configured (set STICKY_INFO_ENDPOINT)")
	}
	vid, err := ExtractID(id)
	if err != nil {
		return nil, err
	}

	client := i.Client
	if client == nil {
		client = stream.NewHTTPClient(stream.HTTPConfig{})
	}
	body, err := client.GetBytes(ctx, strings.TrimSuffix(i.Endpoint, "/")+"/"+url.PathEscape(vid), opts)
	if err != nil {
		return nil, fmt.Errorf("fetch info: %w", err)
	}

	var meta format.Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("parse info: %w", err)
	}
	if meta.ID == "" {
		meta.ID = vid
	}
	return &meta, nil
}
