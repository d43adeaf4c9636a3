package engine

import (
	"context"
	"errors"
)

var (
	// ErrNoDocument is returned when an operation needs a loaded document
	ErrNoDocument = errors.New("no document loaded")
	// ErrPageOutOfRange is returned for page numbers outside 1..PageCount
	ErrPageOutOfRange = errors.New("page number out of range")
	// ErrUnsupportedURI is returned by openers for URIs they cannot load
	ErrUnsupportedURI = errors.New("unsupported document URI")
	// ErrSchedulerStopped is returned when the event loop is no longer running
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// isCanceled reports whether err is the expected result of a superseded task
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
