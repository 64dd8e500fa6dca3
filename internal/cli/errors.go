package cli

import (
	"errors"

	"github.com/icysupport/bridgewatch/internal/dbconn"
	"github.com/icysupport/bridgewatch/internal/export"
)

const (
	ExitOK          = 0
	ExitUnexpected  = 1
	ExitArgument    = 2
	ExitUnavailable = 3
	ExitWrite       = 4
)

// ArgumentError is an invalid flag, threshold or config value. It is raised
// before any connection is attempted.
type ArgumentError struct {
	Err error
}

func (e *ArgumentError) Error() string { return e.Err.Error() }

func (e *ArgumentError) Unwrap() error { return e.Err }

func argErr(err error) error {
	if err == nil {
		return nil
	}
	return &ArgumentError{Err: err}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	var aerr *ArgumentError
	var writeErr *export.WriteError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &aerr):
		return ExitArgument
	case errors.Is(err, dbconn.ErrUnavailable), errors.Is(err, dbconn.ErrNoHosts):
		return ExitUnavailable
	case errors.As(err, &writeErr):
		return ExitWrite
	default:
		return ExitUnexpected
	}
}
