// Package format describes media renditions and picks one of them for download.
package format

import (
	"strconv"
	"strings"
)

// Rendition is one deliverable encoding of a media resource.
type Rendition struct {
	Itag          int    `json:"itag"`
	MimeType      string `json:"mime_type,omitempty"`
	Quality       string `json:"quality,omitempty"`
	Container     string `json:"container,omitempty"`
	Resolution    string `json:"resolution,omitempty"` // e.g. "720p"
	Encoding      string `json:"encoding,omitempty"`   // video codec, empty for audio-only
	Bitrate       string `json:"bitrate,omitempty"`    // Mbit/s, may be a range like "0.15-0.3"
	AudioEncoding string `json:"audio_encoding,omitempty"`
	AudioBitrate  int    `json:"audio_bitrate,omitempty"` // kbit/s
	Protocol      string `json:"protocol,omitempty"`      // "" or "https" for progressive HTTP
	URL           string `json:"url"`
}

// HasVideo reports whether the rendition carries a video track.
func (r *Rendition) HasVideo() bool { return r.Encoding != "" }

// HasAudio reports whether the rendition carries an audio track.
func (r *Rendition) HasAudio() bool { return r.AudioEncoding != "" }

// Height returns the numeric resolution ("720p" → 720), 0 if unknown.
func (r *Rendition) Height() int {
	n, err := strconv.Atoi(strings.TrimSuffix(r.Resolution, "p"))
	if err != nil {
		return 0
	}
	return n
}

// bitrate returns the upper bound of the declared bitrate.
func (r *Rendition) bitrate() float64 {
	if r.Bitrate == "" {
		return 0
	}
	parts := strings.Split(r.Bitrate, "-")
	f, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0
	}
	return f
}

// Supported reports whether the rendition can be fetched as a plain byte stream.
func (r *Rendition) Supported() bool {
	switch strings.ToLower(r.Protocol) {
	case "", "http", "https":
		return true
	}
	return false
}

// Metadata is the resolved description of a media resource.
type Metadata struct {
	ID            string      `json:"id"`
	Title         string      `json:"title,omitempty"`
	Author        string      `json:"author,omitempty"`
	LengthSeconds int         `json:"length_seconds,omitempty"`
	Renditions    []Rendition `json:"renditions"`
}
