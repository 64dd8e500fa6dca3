package export

import (
	"errors"
	"fmt"
)

var (
	// ErrLocked marks a destination held open by another process.
	ErrLocked = errors.New("export: destination locked")
	// ErrNoReports is returned by Combine when nothing matches the pattern.
	ErrNoReports = errors.New("export: no reports to combine")
)

// WriteError is returned when an artifact could not be written, including
// after a fallback name was tried.
type WriteError struct {
	Path     string
	Fallback string
	Err      error
}

func (e *WriteError) Error() string {
	if e.Fallback != "" {
		return fmt.Sprintf("write %s: locked, fallback %s failed: %v", e.Path, e.Fallback, e.Err)
	}
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Is(target error) bool { return target == ErrLocked && e.Fallback != "" }

func (e *WriteError) Unwrap() error { return e.Err }
