// Package bridgelog classifies bridge communication-log comments and reduces
// one bridge's event sequence into a HealthRecord.
package bridgelog

import (
	"fmt"
	"regexp"
)

// Kind is the classification of a single log comment.
type Kind int

const (
	Normal Kind = iota
	Restart
	ActivityMarker
)

func (k Kind) String() string {
	switch k {
	case Restart:
		return "restart"
	case ActivityMarker:
		return "ab"
	default:
		return "normal"
	}
}

const (
	// DefaultRestartPattern matches the reconnect frame the bridge logs after a
	// reset: "ab abab 55 5555 30 434f4e4e..." where 434f4e4e is hex "CONN".
	DefaultRestartPattern = `434f|conn`
	// DefaultActivityPattern matches the routine "abab" traffic marker.
	DefaultActivityPattern = `abab`
)

// Classifier holds the precompiled marker patterns. It is safe for
// concurrent use.
type Classifier struct {
	restart  *regexp.Regexp
	activity *regexp.Regexp
}

// NewClassifier compiles the two marker patterns case-insensitively. Empty
// patterns fall back to the defaults.
func NewClassifier(restartPattern, activityPattern string) (*Classifier, error) {
	if restartPattern == "" {
		restartPattern = DefaultRestartPattern
	}
	if activityPattern == "" {
		activityPattern = DefaultActivityPattern
	}
	restart, err := regexp.Compile("(?i)" + restartPattern)
	if err != nil {
		return nil, fmt.Errorf("compile restart pattern: %w", err)
	}
	activity, err := regexp.Compile("(?i)" + activityPattern)
	if err != nil {
		return nil, fmt.Errorf("compile activity pattern: %w", err)
	}
	return &Classifier{restart: restart, activity: activity}, nil
}

// DefaultClassifier returns a Classifier built from the default patterns.
func DefaultClassifier() *Classifier {
	return &Classifier{
		restart:  regexp.MustCompile("(?i)" + DefaultRestartPattern),
		activity: regexp.MustCompile("(?i)" + DefaultActivityPattern),
	}
}

// Classify maps one comment to its Kind. The restart frame also carries the
// activity token, so the restart pattern is checked first.
func (c *Classifier) Classify(comment string) Kind {
	if comment == "" {
		return Normal
	}
	if c.restart.MatchString(comment) {
		return Restart
	}
	if c.activity.MatchString(comment) {
		return ActivityMarker
	}
	return Normal
}
