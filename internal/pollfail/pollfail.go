// Package pollfail ranks bridges by the share of failed periodic polls.
package pollfail

import (
	"sort"
	"strings"
	"time"

	"github.com/icysupport/bridgewatch/internal/bridgelog"
)

// StateOpen is the inbridge state of a bridge with an open session.
const StateOpen = "OPEN"

type Criteria struct {
	// Threshold is the poll failure count a bridge has to exceed.
	Threshold int64
	// RecencyDays admits non-OPEN bridges whose state changed within this many days.
	RecencyDays int
}

func DefaultCriteria() Criteria {
	return Criteria{Threshold: 10, RecencyDays: 1}
}

// Row is a bridge with its derived failure percentage.
type Row struct {
	bridgelog.Bridge
	PollFailPercent float64 `json:"pollfail_percent"`
}

// Percent is 100*failures/polling rounded to one decimal, and 0 when the
// bridge was never polled.
func Percent(polling, failures int64) float64 {
	if polling == 0 {
		return 0
	}
	return bridgelog.Round1(100 * float64(failures) / float64(polling))
}

func IsOpen(b bridgelog.Bridge) bool {
	return strings.EqualFold(strings.TrimSpace(b.State), StateOpen)
}

// ChangedSince reports whether b changed at or after now minus days.
func ChangedSince(b bridgelog.Bridge, days int, now time.Time) bool {
	if b.LastChanged.IsZero() {
		return false
	}
	return !b.LastChanged.Before(now.AddDate(0, 0, -days))
}

// Evaluate keeps bridges with more than c.Threshold poll failures that are
// OPEN or changed recently, ordered by failure percentage, highest first.
// Equal percentages keep input order.
func Evaluate(bridges []bridgelog.Bridge, c Criteria, now time.Time) []Row {
	out := make([]Row, 0)
	for _, b := range bridges {
		if b.PollFailureCount <= c.Threshold {
			continue
		}
		if !IsOpen(b) && !ChangedSince(b, c.RecencyDays, now) {
			continue
		}
		out = append(out, Row{Bridge: b, PollFailPercent: Percent(b.PollingCount, b.PollFailureCount)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PollFailPercent > out[j].PollFailPercent
	})
	return out
}

// OpenOrRecent keeps bridges that are OPEN or changed within days, in input
// order.
func OpenOrRecent(bridges []bridgelog.Bridge, days int, now time.Time) []Row {
	out := make([]Row, 0)
	for _, b := range bridges {
		if IsOpen(b) || ChangedSince(b, days, now) {
			out = append(out, Row{Bridge: b, PollFailPercent: Percent(b.PollingCount, b.PollFailureCount)})
		}
	}
	return out
}
