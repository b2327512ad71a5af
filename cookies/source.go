package cookies

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/whisper-darkly/sticky-fetch/logger"
)

// Source is where cookie sets come from: a literal "a=1; b=2" string or a
// file:// path. Files hold one set, or a JSON array of sets in JSON mode.
type Source struct {
	raw      string
	path     string
	jsonMode bool
}

// NewSource classifies raw. An empty raw yields a source that loads nothing.
func NewSource(raw string, jsonMode bool) *Source {
	s := &Source{raw: raw, jsonMode: jsonMode}
	if p, ok := strings.CutPrefix(raw, "file://"); ok {
		s.path = p
	}
	return s
}

// IsFile reports whether the source is backed by a file.
func (s *Source) IsFile() bool { return s.path != "" }

// Load returns the cookie sets currently provided by the source.
func (s *Source) Load() ([]string, error) {
	if !s.IsFile() {
		if strings.TrimSpace(s.raw) == "" {
			return nil, nil
		}
		return []string{strings.TrimSpace(s.raw)}, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file %q: %w", s.path, err)
	}
	return s.parse(data)
}

// StartRefresh reloads a file source every interval and updates pool until ctx ends.
func (s *Source) StartRefresh(ctx context.Context, pool *Pool, interval time.Duration, log *logger.Logger) {
	if !s.IsFile() || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sets, err := s.Load()
				if err != nil {
					log.Warn("cookie refresh failed: %v", err)
					continue
				}
				pool.Update(sets)
				log.Debug("cookie pool refreshed: %d entries", pool.Count())
			}
		}
	}()
}

func (s *Source) parse(data []byte) ([]string, error) {
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("empty cookie source %q", s.path)
	}
	if !s.jsonMode {
		return []string{content}, nil
	}
	var sets []string
	if err := json.Unmarshal([]byte(content), &sets); err != nil {
		return nil, fmt.Errorf("parse cookie JSON: %w", err)
	}
	return sets, nil
}
