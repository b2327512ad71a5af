package units

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseDuration parses a flexible duration string. Accepted formats:
//   - hh:mm:ss (e.g. "01:30:00")
//   - Go-style duration (e.g. "1h30m", "5m", "30s")
//   - Plain number as seconds (e.g. "90", "0.5")
//
// Negative values are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if strings.Count(s, ":") == 2 {
		parts := strings.SplitN(s, ":", 3)
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.Atoi(parts[2])
		if err1 == nil && err2 == nil && err3 == nil {
			d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
			if d < 0 {
				return 0, fmt.Errorf("negative duration: %s", s)
			}
			return d, nil
		}
	}

	if d, err := time.ParseDuration(strings.ToLower(s)); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", s)
		}
		return d, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: must be hh:mm:ss, Go duration (1h30m), or seconds", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// FormatDuration formats a duration as hh:mm:ss, truncated to seconds.
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseSize parses a size string such as "32KB", "1.5MiB" or "4096" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative size: %s", s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

// FormatSize formats bytes into a human-readable IEC string ("1.5 MiB").
// Negative values mean "unknown".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(bytes))
}

var (
	plainMillis = regexp.MustCompile(`^\d+$`)
	clockFormat = regexp.MustCompile(`^(?:(?:(\d+):)?(\d{1,2}):)?(\d{1,2})(?:\.(\d{3}))?$`)
	unitFormat  = regexp.MustCompile(`(\d*)(ms|s|m|h)`)
	unitString  = regexp.MustCompile(`^(?:\d*(?:ms|s|m|h))+$`)
)

var timeUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
}

// ParseHumanTime parses a media offset. Accepted formats:
//   - plain milliseconds ("2500")
//   - clock time, [[hh:]mm:]ss[.mmm] ("05:30", "1:30.123", "25.000")
//   - unit sequence ("1m10s", "3h4200ms"); a unit without digits counts as zero
func ParseHumanTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time string")
	}

	if plainMillis.MatchString(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q: %w", s, err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	if m := clockFormat.FindStringSubmatch(s); m != nil {
		var d time.Duration
		d += time.Duration(atoi(m[1])) * time.Hour
		d += time.Duration(atoi(m[2])) * time.Minute
		d += time.Duration(atoi(m[3])) * time.Second
		d += time.Duration(atoi(m[4])) * time.Millisecond
		return d, nil
	}

	if !unitString.MatchString(s) {
		return 0, fmt.Errorf("invalid time %q: expected milliseconds, hh:mm:ss.mmm or 1h2m3s4ms", s)
	}
	var d time.Duration
	for _, m := range unitFormat.FindAllStringSubmatch(s, -1) {
		d += time.Duration(atoi(m[1])) * timeUnits[m[2]]
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return d, nil
}

func atoi(s string) int64 {
	if s == "" {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
