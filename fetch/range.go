package fetch

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a requested byte window. End is meaningful only when Bounded.
type Range struct {
	Start   int64
	End     int64
	Bounded bool
}

// IsDefault reports whether r asks for the whole resource.
func (r Range) IsDefault() bool { return r.Start == 0 && !r.Bounded }

// Total returns End - Start, or -1 while unbounded.
func (r Range) Total() int64 {
	if !r.Bounded {
		return -1
	}
	return r.End - r.Start
}

// ParseRange parses "a-b" or "a-". An empty string is the default range.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, nil
	}
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid range %q: want start-end or start-", s)
	}
	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("invalid range start %q", a)
	}
	r := Range{Start: start}
	if b != "" {
		end, err := strconv.ParseInt(b, 10, 64)
		if err != nil || end < start {
			return Range{}, fmt.Errorf("invalid range end %q", b)
		}
		r.End, r.Bounded = end, true
	}
	return r, nil
}

// String formats r the way ParseRange reads it.
func (r Range) String() string { return r.window(0) }

// window formats the remaining window as "a-b", or "a-" when unbounded.
func (r Range) window(downloaded int64) string {
	s := strconv.FormatInt(r.Start+downloaded, 10) + "-"
	if r.Bounded {
		s += strconv.FormatInt(r.End, 10)
	}
	return s
}

// ResolveEnd fixes the end of requested once the upstream declared the
// length of the window it is serving from start. A negative declared length
// leaves requested as is.
func ResolveEnd(start, declared int64, requested Range) Range {
	r := requested
	r.Start = start
	if declared < 0 {
		return r
	}
	end := start + declared
	if r.Bounded {
		end = min(end, r.End)
	}
	r.End, r.Bounded = end, true
	return r
}

// ProgressFraction returns downloaded/total clamped to [0, 1], or 0 while
// the total is unknown.
func ProgressFraction(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(downloaded) / float64(total)
	return max(0, min(f, 1))
}
