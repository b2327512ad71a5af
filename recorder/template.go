package recorder

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/whisper-darkly/sticky-fetch/format"
)

// Timestamp holds the broken-out date/time fields for a single point in time.
type Timestamp struct {
	Year   string // 4-digit year
	Month  string // 2-digit month (01-12)
	Day    string // 2-digit day (01-31)
	Hour   string // 2-digit hour, 24h (00-23)
	Minute string // 2-digit minute (00-59)
	Second string // 2-digit second (00-59)
	Unix   int64
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Year:   t.Format("2006"),
		Month:  t.Format("01"),
		Day:    t.Format("02"),
		Hour:   t.Format("15"),
		Minute: t.Format("04"),
		Second: t.Format("05"),
		Unix:   t.Unix(),
	}
}

// TemplateData holds the variables available in output and log path templates.
//
//	{{.Title}}_{{.Itag}}
//	{{.Driver}}/{{.Session.Year}}-{{.Session.Month}}-{{.Session.Day}}/{{.ID}}
type TemplateData struct {
	ID        string // identifier as given on the command line
	Driver    string
	Title     string // sanitized for use in paths
	Author    string // sanitized for use in paths
	Itag      int
	Container string
	Quality   string // resolution when known, else the rendition quality label

	Session Timestamp
}

var unsafePath = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]+`)

// sanitize makes s usable as a single path element.
func sanitize(s string) string {
	s = strings.TrimSpace(unsafePath.ReplaceAllString(s, "_"))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// NewTemplateData creates template data. meta and r may be nil before resolution.
func NewTemplateData(id, driver string, session time.Time, meta *format.Metadata, r *format.Rendition) *TemplateData {
	td := &TemplateData{
		ID:      sanitize(id),
		Driver:  driver,
		Session: NewTimestamp(session),
	}
	if meta != nil {
		td.Title = sanitize(meta.Title)
		td.Author = sanitize(meta.Author)
		if meta.ID != "" {
			td.ID = sanitize(meta.ID)
		}
	}
	if r != nil {
		td.Itag = r.Itag
		td.Container = r.Container
		td.Quality = r.Resolution
		if td.Quality == "" {
			td.Quality = r.Quality
		}
	}
	return td
}

// RenderTemplate evaluates a Go text/template string with the given data.
func RenderTemplate(pattern string, data *TemplateData) (string, error) {
	tpl, err := template.New("path").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return filepath.Clean(buf.String()), nil
}
