package stream

import "errors"

var (
	ErrForbidden = errors.New("access forbidden (403); try with --cookies and --user-agent")
	ErrNotFound  = errors.New("resource not found (404)")
	ErrBadID     = errors.New("invalid identifier")
)
