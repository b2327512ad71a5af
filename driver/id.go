package driver

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/whisper-darkly/sticky-fetch/stream"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// hosts whose path ends in the id when there is no v= query parameter
var pathHosts = map[string]bool{
	"youtu.be":        true,
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
}

// ExtractID returns the 11-character media id carried by s. s is either a
// bare id or a watch, short, /v/ or /embed/ link.
func ExtractID(s string) (string, error) {
	if idPattern.MatchString(s) {
		return s, nil
	}

	var id string
	if u, err := url.Parse(s); err == nil {
		id = u.Query().Get("v")
		if id == "" && pathHosts[u.Hostname()] {
			parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
			id = parts[len(parts)-1]
		}
	}
	if id == "" || !idPattern.MatchString(id) {
		return "", &IDError{Input: s, ID: id}
	}
	return id, nil
}

// IDError reports an input without a usable id. It matches stream.ErrBadID.
type IDError struct {
	Input string
	ID    string // candidate found in Input, empty if none
}

func (e *IDError) Error() string {
	if e.ID == "" {
		return "No video id found: " + e.Input
	}
	return fmt.Sprintf("Video id (%s) does not match expected format (%s)", e.ID, idPattern)
}

func (e *IDError) Is(target error) bool { return target == stream.ErrBadID }

// ValidID reports whether s carries a parsable id.
func ValidID(s string) bool {
	_, err := ExtractID(s)
	return err == nil
}
