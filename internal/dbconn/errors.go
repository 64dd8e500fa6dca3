package dbconn

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable is returned when every candidate host was exhausted.
	ErrUnavailable = errors.New("dbconn: no host available")
	// ErrNoHosts is returned when the configuration names no candidate host.
	ErrNoHosts = errors.New("dbconn: no candidate hosts configured")
	// ErrNotLive is returned by a dialer when a handle was opened but failed its liveness check.
	ErrNotLive = errors.New("dbconn: connection not live")
)

// UnavailableError carries the last underlying error for diagnostics.
type UnavailableError struct {
	Schema   string
	Hosts    []string
	Attempts int
	Last     error
}

func (e *UnavailableError) Error() string {
	target := e.Schema
	if target == "" {
		target = "<server>"
	}
	msg := fmt.Sprintf("unable to connect to %s on any host [%s] after %d attempts", target, strings.Join(e.Hosts, ", "), e.Attempts)
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func (e *UnavailableError) Unwrap() error { return e.Last }
