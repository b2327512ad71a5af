package format

import "fmt"

// SelectionKind classifies why no rendition could be selected.
type SelectionKind int

const (
	// NoFormats means the rendition list was empty.
	NoFormats SelectionKind = iota
	// NoMatchFilter means a custom filter matched nothing.
	NoMatchFilter
	// NoSuchQuality means none of the requested itags exist.
	NoSuchQuality
	// UnsupportedProtocol means the chosen rendition cannot be streamed over plain HTTP.
	UnsupportedProtocol
)

// SelectionError is returned by Select. It is surfaced before any request is made.
type SelectionError struct {
	Kind     SelectionKind
	Quality  Quality
	Protocol string
}

func (e *SelectionError) Error() string {
	switch e.Kind {
	case NoMatchFilter:
		return "No formats found with custom filter"
	case NoSuchQuality:
		return fmt.Sprintf("No such format found: %s", e.Quality)
	case UnsupportedProtocol:
		return fmt.Sprintf("%s protocol not supported", e.Protocol)
	default:
		return "No formats found"
	}
}
