package session

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the parent of every caller mistake: a bad channel
// count, no active selection, or no topology to apply. These are reported
// before any state changes.
var ErrConfiguration = errors.New("configuration error")

var (
	ErrOutOfRange          = fmt.Errorf("%w: job index out of range", ErrConfiguration)
	ErrNoSelection         = fmt.Errorf("%w: no job selected", ErrConfiguration)
	ErrNoConfig            = fmt.Errorf("%w: no topology available", ErrConfiguration)
	ErrInvalidChannelCount = fmt.Errorf("%w: channel count must be 5 or 7", ErrConfiguration)
	ErrTopologyMismatch    = fmt.Errorf("%w: topology does not match the session channel count", ErrConfiguration)
)

var (
	// ErrBusy rejects a batch while another one is processing.
	ErrBusy = errors.New("a batch is already processing")
	// ErrNotReady rejects renders before the batch has finished.
	ErrNotReady = errors.New("session is not ready")
	// ErrReplaced means the batch a render belonged to was replaced mid-flight.
	ErrReplaced = errors.New("session was replaced by a new batch")
	// ErrStale means the file was written but the job's routing changed
	// during the render, so it is not marked exported.
	ErrStale = errors.New("routing changed during export")
)

// ExportError is a render or write failure for one job.
type ExportError struct {
	Job string
	Err error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Job, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
