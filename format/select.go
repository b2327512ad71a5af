package format

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Quality selects a rendition from a ranked list.
type Quality struct {
	lowest bool
	itags  []int
}

var (
	// Highest picks the best-ranked rendition. It is the zero value.
	Highest = Quality{}
	// Lowest picks the worst-ranked rendition.
	Lowest = Quality{lowest: true}
)

// Itags picks the first rendition whose itag appears in the list, in list order.
func Itags(itags ...int) Quality {
	return Quality{itags: append([]int(nil), itags...)}
}

// ParseQuality parses "highest", "lowest", "18" or "22,18,43".
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "highest":
		return Highest, nil
	case "lowest":
		return Lowest, nil
	}
	var itags []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Quality{}, fmt.Errorf("invalid quality %q: want highest, lowest or itag list", s)
		}
		itags = append(itags, n)
	}
	return Itags(itags...), nil
}

func (q Quality) String() string {
	if len(q.itags) > 0 {
		parts := make([]string, len(q.itags))
		for i, n := range q.itags {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	}
	if q.lowest {
		return "lowest"
	}
	return "highest"
}

// Filter is a predicate over renditions.
type Filter func(*Rendition) bool

// Named filters.
var (
	Video     Filter = func(r *Rendition) bool { return r.HasVideo() }
	VideoOnly Filter = func(r *Rendition) bool { return r.HasVideo() && !r.HasAudio() }
	Audio     Filter = func(r *Rendition) bool { return r.HasAudio() }
	AudioOnly Filter = func(r *Rendition) bool { return !r.HasVideo() && r.HasAudio() }
)

// FilterBy returns a named filter: video, videoonly, audio, audioonly.
func FilterBy(name string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "video":
		return Video, nil
	case "videoonly":
		return VideoOnly, nil
	case "audio":
		return Audio, nil
	case "audioonly":
		return AudioOnly, nil
	}
	return nil, fmt.Errorf("unknown filter %q (available: video, videoonly, audio, audioonly)", name)
}

// FilterRenditions returns the renditions matching f, preserving order.
func FilterRenditions(list []Rendition, f Filter) []Rendition {
	var out []Rendition
	for i := range list {
		if f(&list[i]) {
			out = append(out, list[i])
		}
	}
	return out
}

// Policy controls Select.
type Policy struct {
	Quality Quality
	Filter  Filter
	// Format bypasses the search entirely.
	Format *Rendition
}

// Select picks exactly one rendition according to p.
func Select(renditions []Rendition, p Policy) (*Rendition, error) {
	if p.Format != nil {
		return checkProtocol(p.Format)
	}

	list := renditions
	if p.Filter != nil {
		list = FilterRenditions(list, p.Filter)
		if len(list) == 0 {
			return nil, &SelectionError{Kind: NoMatchFilter}
		}
	}
	if len(list) == 0 {
		return nil, &SelectionError{Kind: NoFormats}
	}
	list = Sorted(list)

	switch {
	case len(p.Quality.itags) > 0:
		for _, itag := range p.Quality.itags {
			for i := range list {
				if list[i].Itag == itag {
					return checkProtocol(&list[i])
				}
			}
		}
		return nil, &SelectionError{Kind: NoSuchQuality, Quality: p.Quality}
	case p.Quality.lowest:
		return checkProtocol(&list[len(list)-1])
	default:
		return checkProtocol(&list[0])
	}
}

func checkProtocol(r *Rendition) (*Rendition, error) {
	if !r.Supported() {
		return nil, &SelectionError{Kind: UnsupportedProtocol, Protocol: r.Protocol}
	}
	return r, nil
}

var (
	videoEncodingRanks = []string{"Sorenson H.283", "MPEG-4 Visual", "VP8", "VP9", "H.264"}
	audioEncodingRanks = []string{"mp3", "vorbis", "aac", "opus", "flac"}
)

// Compare ranks a against b: negative when a is the better rendition.
// Renditions carrying both tracks come first, then higher resolution,
// bitrate, audio bitrate, video encoding and audio encoding.
func Compare(a, b *Rendition) int {
	afull := a.HasVideo() && a.HasAudio()
	bfull := b.HasVideo() && b.HasAudio()
	if afull != bfull {
		if afull {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.Height(), a.Height()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.bitrate(), a.bitrate()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.AudioBitrate, a.AudioBitrate); c != 0 {
		return c
	}
	if c := cmp.Compare(slices.Index(videoEncodingRanks, b.Encoding), slices.Index(videoEncodingRanks, a.Encoding)); c != 0 {
		return c
	}
	return cmp.Compare(slices.Index(audioEncodingRanks, b.AudioEncoding), slices.Index(audioEncodingRanks, a.AudioEncoding))
}

// Sorted returns a copy of list ordered best first. Ties keep their input order.
func Sorted(list []Rendition) []Rendition {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b Rendition) int { return Compare(&a, &b) })
	return out
}
