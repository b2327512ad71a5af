package driver

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

func init() {
	stream.Register(&HLS{})
}

// HLS resolves an HLS master playlist into one rendition per variant.
// Variants pointing at progressive files are downloadable; variants pointing
// at media playlists are listed with Protocol "hls".
type HLS struct {
	Client *stream.HTTPClient // nil = default client
}

func (h *HLS) Name() string { return "hls" }

func (h *HLS) Resolve(ctx context.Context, id string, opts stream.Options) (*format.Metadata, error) {
	client := h.Client
	if client == nil {
		client = stream.NewHTTPClient(stream.HTTPConfig{})
	}

	body, err := client.GetBytes(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}

	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}

	meta := &format.Metadata{ID: id, Title: path.Base(strings.SplitN(id, "?", 2)[0])}
	switch listType {
	case m3u8.MASTER:
		master, ok := p.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, fmt.Errorf("unexpected playlist type")
		}
		meta.Renditions = renditionsFromMaster(master, id)
	case m3u8.MEDIA:
		media, ok := p.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("unexpected playlist type")
		}
		meta.Renditions = []format.Rendition{{Itag: 1, Container: "ts", Protocol: "hls", URL: id}}
		meta.LengthSeconds = int(mediaDuration(media))
	}
	if len(meta.Renditions) == 0 {
		return nil, fmt.Errorf("no variants found in playlist")
	}
	return meta, nil
}

func renditionsFromMaster(master *m3u8.MasterPlaylist, baseURL string) []format.Rendition {
	var out []format.Rendition
	for i, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		full := resolveVariantURL(baseURL, v.URI)
		r := format.Rendition{
			Itag:      i + 1,
			Container: container(v.URI),
			URL:       full,
			Protocol:  schemeOf(full),
		}
		if strings.HasSuffix(strings.ToLower(strings.SplitN(v.URI, "?", 2)[0]), ".m3u8") {
			r.Protocol = "hls"
			r.Container = "ts"
		}
		if parts := strings.Split(v.Resolution, "x"); len(parts) == 2 {
			if h, err := strconv.Atoi(parts[1]); err == nil {
				r.Resolution = strconv.Itoa(h) + "p"
			}
		}
		if v.Bandwidth > 0 {
			r.Bitrate = strconv.FormatFloat(float64(v.Bandwidth)/1e6, 'f', -1, 64)
		}
		for _, c := range strings.Split(v.Codecs, ",") {
			c = strings.TrimSpace(c)
			if enc := videoCodec(c); enc != "" {
				r.Encoding = enc
			} else if enc := audioCodec(c); enc != "" {
				r.AudioEncoding = enc
			}
		}
		if v.Codecs != "" {
			r.MimeType = fmt.Sprintf("video/%s; codecs=%q", r.Container, v.Codecs)
		}
		out = append(out, r)
	}
	return out
}

func mediaDuration(p *m3u8.MediaPlaylist) float64 {
	var total float64
	for _, seg := range p.Segments {
		if seg != nil {
			total += seg.Duration
		}
	}
	return total
}

func videoCodec(c string) string {
	switch {
	case strings.HasPrefix(c, "avc1"), strings.HasPrefix(c, "avc3"):
		return "H.264"
	case strings.HasPrefix(c, "vp09"), c == "vp9":
		return "VP9"
	case c == "vp8":
		return "VP8"
	case strings.HasPrefix(c, "mp4v"):
		return "MPEG-4 Visual"
	case strings.HasPrefix(c, "hvc1"), strings.HasPrefix(c, "hev1"):
		return "H.265"
	}
	return ""
}

func audioCodec(c string) string {
	switch {
	case c == "mp4a.40.34", c == "mp3":
		return "mp3"
	case strings.HasPrefix(c, "mp4a"):
		return "aac"
	case c == "opus", c == "Opus":
		return "opus"
	case c == "vorbis":
		return "vorbis"
	case c == "flac", c == "fLaC":
		return "flac"
	}
	return ""
}

func container(uri string) string {
	ext := strings.TrimPrefix(path.Ext(strings.SplitN(uri, "?", 2)[0]), ".")
	return strings.ToLower(ext)
}

func schemeOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Scheme
	}
	return ""
}

// resolveVariantURL resolves a variant URI against the playlist URL. A
// relative URI without its own query inherits the playlist's query, which
// commonly carries access tokens.
func resolveVariantURL(baseURL, variantURI string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return variantURI
	}
	ref, err := url.Parse(variantURI)
	if err != nil {
		return variantURI
	}
	if ref.IsAbs() {
		return variantURI
	}
	resolved := base.ResolveReference(ref)
	if ref.RawQuery == "" {
		resolved.RawQuery = base.RawQuery
	}
	return resolved.String()
}
