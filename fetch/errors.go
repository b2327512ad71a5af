package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrTooManyReconnects = errors.New("too many reconnects")
	// ErrAborted is what readers of a cancelled Stream see.
	ErrAborted = errors.New("download aborted")

	errCancelled = errors.New("cancelled")
)

// Budget names a retry budget.
type Budget int

const (
	Redirects Budget = iota
	Reconnects
)

func (b Budget) String() string {
	if b == Redirects {
		return "redirects"
	}
	return "reconnects"
}

// BudgetError is returned when a retry budget runs out. It matches
// ErrTooManyRedirects or ErrTooManyReconnects.
type BudgetError struct {
	Budget Budget
	Limit  int
}

func (e *BudgetError) Error() string { return e.Unwrap().Error() }

func (e *BudgetError) Unwrap() error {
	if e.Budget == Redirects {
		return ErrTooManyRedirects
	}
	return ErrTooManyReconnects
}

// StatusError is returned for a response that is neither a success nor a redirect.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string { return fmt.Sprintf("status code %d", e.StatusCode) }

// HTTPStatus lets stream.Classify inspect the status.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// TransportError wraps a failure to get any response at all.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("request %s: %v", e.URL, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
